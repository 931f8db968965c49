package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		contains []string
		absent   []string
	}{
		{
			name:     "plain",
			opts:     Options{Program: "/opt/qmbatch/bin/qmbatch"},
			contains: []string{"#!/bin/bash", "exec /opt/qmbatch/bin/qmbatch worker\n", "PBS_O_WORKDIR"},
			absent:   []string{"--config", "--debug"},
		},
		{
			name: "quoted paths and preamble",
			opts: Options{
				Program:    "/home/u/my tools/qmbatch",
				ConfigFile: "/home/u/campaign 1.yaml",
				Preamble:   []string{"module load turbomole/7.8", "export PARA_ARCH=SMP"},
				Debug:      true,
			},
			contains: []string{
				"exec '/home/u/my tools/qmbatch' --config '/home/u/campaign 1.yaml' --debug worker",
				"module load turbomole/7.8\nexport PARA_ARCH=SMP\n",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Render(tt.opts, "0.0.0-test")
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			s := string(out)
			for _, want := range tt.contains {
				if !strings.Contains(s, want) {
					t.Errorf("rendered script missing %q:\n%s", want, s)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(s, bad) {
					t.Errorf("rendered script should not contain %q:\n%s", bad, s)
				}
			}
		})
	}
}

func TestRenderRejects(t *testing.T) {
	if _, err := Render(Options{}, "v"); err == nil {
		t.Error("expected error without program path")
	}
	if _, err := Render(Options{Program: "/bin/qmbatch", Preamble: []string{"a\nb"}}, "v"); err == nil {
		t.Error("expected error for multi-line preamble entry")
	}
}

func TestLoadAndWrite(t *testing.T) {
	dir := t.TempDir()

	site := filepath.Join(dir, "site.sh")
	if err := os.WriteFile(site, []byte("#!/bin/sh\necho site\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(site, Options{}, "v")
	if err != nil || string(got) != "#!/bin/sh\necho site\n" {
		t.Fatalf("Load(site) = %q, %v", got, err)
	}

	empty := filepath.Join(dir, "empty.sh")
	os.WriteFile(empty, nil, 0644)
	if _, err := Load(empty, Options{}, "v"); err == nil {
		t.Error("expected error for empty template")
	}

	builtin, err := Load("", Options{Program: "/bin/qmbatch"}, "v")
	if err != nil || !strings.Contains(string(builtin), "worker") {
		t.Fatalf("Load(builtin) = %q, %v", builtin, err)
	}

	out := filepath.Join(dir, "job_tm771.txt")
	if err := Write(out, Options{Program: "/bin/qmbatch"}, "v"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("written template is not executable: %v", info.Mode())
	}
}
