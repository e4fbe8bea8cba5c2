package process

import "github.com/guseggert/procrunner/internal/files"

// FindExecutable searches dirs and then the directories in PATH for a file called name.
// If none is found, name is returned unchanged so that the OS can report the launch error.
func FindExecutable(name string, dirs ...string) string {
	if p := files.FindIn(name, append(dirs, files.PathDirs()...)...); p != "" {
		return p
	}
	return name
}
