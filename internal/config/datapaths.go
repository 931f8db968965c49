package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetSystemDataDir returns the system-wide data directory.
// Checks XDG_DATA_DIRS first, then standard paths.
func GetSystemDataDir() string {
	if dataDirs := os.Getenv("XDG_DATA_DIRS"); dataDirs != "" {
		for _, dir := range strings.Split(dataDirs, ":") {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, "qmbatch")
			if stat, err := os.Stat(candidate); err == nil && stat.IsDir() {
				return candidate
			}
		}
	}

	standardPaths := []string{
		"/usr/local/share/qmbatch",
		"/usr/share/qmbatch",
		"/opt/qmbatch",
	}
	for _, dir := range standardPaths {
		if stat, err := os.Stat(dir); err == nil && stat.IsDir() {
			return dir
		}
	}

	return ""
}

// GetUserDataDir returns the user's data directory following XDG spec.
// Returns $XDG_DATA_HOME/qmbatch or ~/.local/share/qmbatch
func GetUserDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "qmbatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "qmbatch")
}

// TemplateSearchDirs lists the directories searched for a site job template,
// in priority order: run root, user data dir, system data dir.
func TemplateSearchDirs() []string {
	var dirs []string
	if Global.Submit.Root != "" {
		dirs = append(dirs, Global.Submit.Root)
	}
	if d := GetUserDataDir(); d != "" {
		dirs = append(dirs, filepath.Join(d, "templates"))
	}
	if d := GetSystemDataDir(); d != "" {
		dirs = append(dirs, filepath.Join(d, "templates"))
	}
	return dirs
}

// FindTemplate resolves the job template to copy into working directories.
// An explicit submit.template wins; otherwise the first file named
// submit.template_name in TemplateSearchDirs is returned. Returns "" when
// none exists and the built-in template should be rendered.
func FindTemplate() string {
	if t := Global.Submit.Template; t != "" {
		return Global.SubmitPath(t)
	}
	for _, dir := range TemplateSearchDirs() {
		candidate := filepath.Join(dir, Global.Submit.TemplateName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
