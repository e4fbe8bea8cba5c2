//go:build !windows

package process

import "os/exec"

// command splits the tokens back into argv with the same rules a Windows child would use.
func (o *Options) command() *exec.Cmd {
	return exec.Command(o.fileName, SplitArguments(o.Arguments())...)
}
