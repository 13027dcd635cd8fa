//go:build !unix

package build

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func exitStatus(state *os.ProcessState) (int, string) {
	return state.ExitCode(), ""
}
