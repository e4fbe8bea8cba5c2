package files

import (
	"os"
	"path/filepath"
)

// FindIn returns the path of the first regular file called name in dirs, or "" if there is none.
// Empty and unreadable directories are skipped.
func FindIn(name string, dirs ...string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return p
	}
	return ""
}

// PathDirs returns the directories listed in the PATH environment variable.
func PathDirs() []string {
	return filepath.SplitList(os.Getenv("PATH"))
}
