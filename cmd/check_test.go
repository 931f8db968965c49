package cmd

import "testing"

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		v1, v2 string
		want   int
	}{
		{"v6.6.1", "v6.6.1", 0},
		{"6.6.1", "v6.6.1", 0},
		{"6.6", "6.6.0", 0},
		{"6.5.1", "6.6.0", -1},
		{"v6.7.0", "6.6.1", 1},
		{"v6.6.0-rc1", "v6.6.0", -1},
		{"garbage", "6.6.0", -1},
		{"6.6.0", "garbage", 1},
		{"", "", 0},
	}
	for _, c := range cases {
		got := compareVersions(c.v1, c.v2)
		if got != c.want {
			t.Errorf("compareVersions(%q,%q) = %d; want %d", c.v1, c.v2, got, c.want)
		}
	}
}

func TestParseXtbVersion(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{"      -----------------------------------------------------------\n     |                   =====================                   |\n     |                           x T B                           |\n   * xtb version 6.6.1 (8d0f1dd) compiled by 'conda@1efc2f54142f' on 2023-08-01\n", "v6.6.1"},
		{"xtb version 6.4.1 (unknown)", "v6.4.1"},
		{"xtb version v6.7", "v6.7.0"},
		{"normal termination of xtb", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := parseXtbVersion(c.output); got != c.want {
			t.Errorf("parseXtbVersion(%q) = %q, want %q", c.output, got, c.want)
		}
	}
}

func TestRequiredToolsCoversPipeline(t *testing.T) {
	labels := map[string]bool{}
	for _, tc := range requiredTools() {
		labels[tc.label] = true
	}
	for _, want := range []string{"mctc-convert", "xtb", "cefine", "jobex", "ridft", "gp3", "rsync"} {
		if !labels[want] {
			t.Errorf("requiredTools() is missing %s", want)
		}
	}
}
