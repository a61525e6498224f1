//go:build windows

package backend

import "os/exec"

// Process groups are handled differently on Windows; the command is left as is.
func configureProcessGroup(cmd *exec.Cmd) {
	_ = cmd
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
