package sink

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"firestige.xyz/pcapsplit/internal/log"
)

// process is a started external command fed through its stdin.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// startProcess runs argv without a shell, stdout going to stdout.
// Its stderr is shared with ours so tool diagnostics reach the operator.
func startProcess(argv []string, stdout io.Writer) (*process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	return &process{cmd: cmd, stdin: stdin}, nil
}

func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// finish closes stdin and waits for the command to exit.
func (p *process) finish() error {
	cerr := p.stdin.Close()
	werr := p.cmd.Wait()
	logExit(p.cmd, werr)
	if werr != nil {
		return werr
	}
	return cerr
}

// kill stops the command without waiting for it to drain its input.
func (p *process) kill() {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
}

func logExit(cmd *exec.Cmd, err error) {
	l := log.GetLogger().WithField("cmd", strings.Join(cmd.Args, " "))
	if cmd.ProcessState != nil {
		l = l.WithField("exit", cmd.ProcessState.ExitCode())
	}
	if err != nil {
		l.WithError(err).Error("command failed")
		return
	}
	l.Debug("command finished")
}

func describe(argv []string) string {
	return strings.Join(argv, " ")
}
