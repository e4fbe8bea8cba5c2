package process

import (
	"os/exec"
	"syscall"
)

// command passes the command line to the OS as-is, so the child's C runtime parses the tokens itself.
func (o *Options) command() *exec.Cmd {
	cmd := exec.Command(o.fileName)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:    o.CommandLine(),
		HideWindow: true,
	}
	return cmd
}
