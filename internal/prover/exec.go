package prover

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ExecProver runs an external proving engine as a child process.
//
// The engine is invoked as `Path Args... <program_id>`, reads the public
// input on stdin, writes the proof to stdout and may write progress lines to
// stderr. A non-zero exit status fails the task.
type ExecProver struct {
	Path string
	Args []string
	Env  []string
}

// NewExecProver parses a command line such as "nexus-prover --k 4".
func NewExecProver(command string) (*ExecProver, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("prover command is empty")
	}
	return &ExecProver{Path: fields[0], Args: fields[1:]}, nil
}

func (p *ExecProver) Compute(programID string, input []byte, progress ProgressFunc) ([]byte, error) {
	args := append(append([]string(nil), p.Args...), programID)
	cmd := exec.Command(p.Path, args...)
	if len(p.Env) > 0 {
		cmd.Env = p.Env
	}
	cmd.Stdin = bytes.NewReader(input)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &Error{ProgramID: programID, Kind: KindInternal, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{ProgramID: programID, Kind: KindInternal, Err: fmt.Errorf("start %s: %w", p.Path, err)}
	}

	forwardLines(stderr, progress)

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &Error{ProgramID: programID, Kind: KindExitCode, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return nil, &Error{ProgramID: programID, Kind: KindInternal, Err: err}
	}
	return stdout.Bytes(), nil
}

// forwardLines must drain r completely before cmd.Wait is called.
func forwardLines(r io.Reader, progress ProgressFunc) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && progress != nil {
			progress(line)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}
