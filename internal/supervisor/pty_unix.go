//go:build unix

package supervisor

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startPTY launches cmd attached to a fresh pseudo-terminal and returns the
// controlling side. Zero dimensions default to 80x24.
func startPTY(cmd *exec.Cmd, cols, rows uint16) (*os.File, error) {
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	return pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
}

func resizePTY(ptmx *os.File, cols, rows uint16) error {
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}
