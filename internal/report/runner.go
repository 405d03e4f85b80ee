package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// defaultWaitDelay bounds how long Wait keeps draining pipes after the child
// exited or was killed; grandchildren may hold them open.
const defaultWaitDelay = 5 * time.Second

// RunnerConfig describes how the report program is invoked.
type RunnerConfig struct {
	Program       string
	Script        string
	Sheet         string
	MaxWorkers    int
	Retries       int
	ResolveDNS    bool
	ExtraArgs     []string
	DiagnosticMax int
}

// Invocation is one request to the report program.
type Invocation struct {
	Kind    string
	Zone    string
	Timeout time.Duration
}

// Output is what a finished report program produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Elapsed  time.Duration
}

// Executor runs the report program. Errors are *Failure.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (*Output, error)
}

// Runner executes the report program as a child process.
type Runner struct {
	config    RunnerConfig
	waitDelay time.Duration
}

// NewRunner creates a Runner; an empty program defaults to python3 and a
// relative script is made absolute.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Program == "" {
		cfg.Program = "python3"
	}
	if cfg.DiagnosticMax <= 0 {
		cfg.DiagnosticMax = DefaultDiagnosticMax
	}
	// the child runs inside the script directory, so the script path must
	// not depend on our working directory
	if cfg.Script != "" {
		if abs, err := filepath.Abs(cfg.Script); err == nil {
			cfg.Script = abs
		}
	}
	return &Runner{config: cfg, waitDelay: defaultWaitDelay}
}

// Args builds the argument list for a report of kind, optionally for one zone.
func (r *Runner) Args(kind, zone string) []string {
	var args []string
	if r.config.Script != "" {
		args = append(args, r.config.Script)
	}
	if r.config.Sheet != "" {
		args = append(args, "--sheet", r.config.Sheet)
	}
	if r.config.MaxWorkers > 0 {
		args = append(args, "--max-workers", strconv.Itoa(r.config.MaxWorkers))
	}
	if r.config.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(r.config.Retries))
	}
	if r.config.ResolveDNS {
		args = append(args, "--resolve-dns")
	}
	if kind == "" {
		kind = "standard"
	}
	args = append(args, "--json", "--tipo", kind)
	if zone = strings.TrimSpace(zone); zone != "" {
		args = append(args, "--zona", zone)
	}
	return append(args, r.config.ExtraArgs...)
}

// CommandLine renders the invocation for logs.
func (r *Runner) CommandLine(kind, zone string) string {
	return r.config.Program + " " + strings.Join(r.Args(kind, zone), " ")
}

// Execute runs the program to completion. The child gets its own process
// group, which is killed as a whole on timeout or cancellation, and once more
// after the child is gone so no grandchild outlives the run.
func (r *Runner) Execute(ctx context.Context, inv Invocation) (*Output, error) {
	execCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, r.config.Program, r.Args(inv.Kind, inv.Zone)...) //nolint:gosec // G204: program and script from admin config
	if r.config.Script != "" {
		cmd.Dir = filepath.Dir(r.config.Script)
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	L_debug("report: running", "cmd", r.CommandLine(inv.Kind, inv.Zone), "dir", cmd.Dir, "timeout", inv.Timeout)

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, newFailure(SpawnFailed, err.Error(), r.config.DiagnosticMax)
	}
	err := cmd.Wait()
	if kerr := killProcessGroup(cmd); kerr == nil && cmd.Process != nil {
		L_debug("report: killed leftover processes", "pgid", cmd.Process.Pid)
	} else if kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
		L_warn("report: failed to kill process group", "error", kerr)
	}
	out := &Output{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.Bytes(),
		Elapsed: time.Since(startTime),
	}

	if stderr.Len() > 0 {
		L_debug("report: program stderr", "stderr", truncateDiagnostic(stderr.String(), r.config.DiagnosticMax))
	}

	if errors.Is(err, exec.ErrWaitDelay) {
		L_warn("report: output pipes held open after exit, output may be incomplete")
		err = nil
	}
	if err == nil {
		L_debug("report: completed", "elapsed", out.Elapsed, "stdoutLen", stdout.Len(), "stderrLen", stderr.Len())
		return out, nil
	}

	if ctxErr := execCtx.Err(); ctxErr != nil {
		reason := fmt.Sprintf("report timed out after %v", inv.Timeout)
		if errors.Is(ctxErr, context.Canceled) {
			reason = "report cancelled"
		}
		L_warn("report: killed", "reason", reason, "elapsed", out.Elapsed)
		return out, newFailure(TimedOut, joinDiagnostic(reason, stderr.String()), r.config.DiagnosticMax)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		L_debug("report: non-zero exit", "exitCode", out.ExitCode, "elapsed", out.Elapsed)
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = strings.TrimSpace(stdout.String())
		}
		if diag == "" {
			diag = fmt.Sprintf("exit status %d", out.ExitCode)
		}
		f := newFailure(NonzeroExit, diag, r.config.DiagnosticMax)
		f.ExitCode = out.ExitCode
		return out, f
	}

	// pipe copy errors after a successful start
	return out, newFailure(SpawnFailed, joinDiagnostic(err.Error(), stderr.String()), r.config.DiagnosticMax)
}

func joinDiagnostic(head, stderr string) string {
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		return head + "\n" + stderr
	}
	return head
}
