//go:build unix

package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))
	return path
}

func TestRunnerArgs(t *testing.T) {
	r := NewRunner(RunnerConfig{
		Script:     "/opt/monitor.py",
		Sheet:      "Hoja1",
		MaxWorkers: 35,
		Retries:    2,
		ResolveDNS: true,
		ExtraArgs:  []string{"--verbose"},
	})
	assert.Equal(t, []string{
		"/opt/monitor.py", "--sheet", "Hoja1", "--max-workers", "35", "--retries", "2",
		"--resolve-dns", "--json", "--tipo", "standard", "--zona", "RIO PAILA", "--verbose",
	}, r.Args("", " RIO PAILA "))

	bare := NewRunner(RunnerConfig{Program: "/usr/bin/report"})
	assert.Equal(t, []string{"--json", "--tipo", "express"}, bare.Args("express", ""))
}

func TestRunnerCapturesOutput(t *testing.T) {
	script := writeScript(t, `echo "args: $*"; echo "warn" >&2; pwd`)
	r := NewRunner(RunnerConfig{Program: "/bin/sh", Script: script})

	out, err := r.Execute(context.Background(), Invocation{Kind: "standard", Zone: "ZARZAL", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Contains(t, string(out.Stdout), "--json --tipo standard --zona ZARZAL")
	assert.Contains(t, string(out.Stdout), filepath.Dir(script))
	assert.Equal(t, "warn\n", string(out.Stderr))
}

func TestRunnerNonzeroExit(t *testing.T) {
	script := writeScript(t, `echo "Traceback: boom" >&2; exit 3`)
	r := NewRunner(RunnerConfig{Program: "/bin/sh", Script: script})

	_, err := r.Execute(context.Background(), Invocation{Timeout: 5 * time.Second})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, NonzeroExit, f.Kind)
	assert.Equal(t, 3, f.ExitCode)
	assert.Contains(t, f.Diagnostic, "Traceback: boom")
	assert.False(t, f.Soft())
}

func TestRunnerTimeoutKillsProcessGroup(t *testing.T) {
	// the background sleep keeps stdout open; only a group kill ends it quickly
	script := writeScript(t, `sleep 30 & sleep 30`)
	r := NewRunner(RunnerConfig{Program: "/bin/sh", Script: script})

	start := time.Now()
	_, err := r.Execute(context.Background(), Invocation{Timeout: 200 * time.Millisecond})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, TimedOut, f.Kind)
	assert.Less(t, time.Since(start), defaultWaitDelay)
}

// processAlive reports whether pid is running; zombies count as gone.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err == nil {
		// the state letter follows the parenthesised command name
		i := bytes.LastIndexByte(data, ')')
		return i < 0 || i+2 >= len(data) || data[i+2] != 'Z'
	}
	if _, statErr := os.Stat("/proc/self"); statErr == nil {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func leftoverPid(t *testing.T, out *Output) int {
	t.Helper()
	pid, err := strconv.Atoi(strings.TrimSpace(string(out.Stdout)))
	require.NoError(t, err, "stdout: %q", out.Stdout)
	return pid
}

func TestRunnerCleanExitKillsGrandchild(t *testing.T) {
	script := writeScript(t, `sleep 30 >/dev/null 2>&1 </dev/null & echo $!`)
	r := NewRunner(RunnerConfig{Program: "/bin/sh", Script: script})

	out, err := r.Execute(context.Background(), Invocation{Timeout: 5 * time.Second})
	require.NoError(t, err)
	pid := leftoverPid(t, out)
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}

func TestRunnerCleanExitWithHeldPipes(t *testing.T) {
	// the background sleep inherits stdout and keeps it open after sh exits
	script := writeScript(t, `sleep 30 & echo $!`)
	r := NewRunner(RunnerConfig{Program: "/bin/sh", Script: script})
	r.waitDelay = 200 * time.Millisecond

	start := time.Now()
	out, err := r.Execute(context.Background(), Invocation{Timeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	pid := leftoverPid(t, out)
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}

func TestRunnerSpawnFailure(t *testing.T) {
	r := NewRunner(RunnerConfig{Program: filepath.Join(t.TempDir(), "no-such-python")})

	_, err := r.Execute(context.Background(), Invocation{Timeout: time.Second})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, SpawnFailed, f.Kind)
}

func TestRunnerDiagnosticIsBounded(t *testing.T) {
	script := writeScript(t, `i=0; while [ $i -lt 500 ]; do echo "line $i" >&2; i=$((i+1)); done; exit 1`)
	r := NewRunner(RunnerConfig{Program: "/bin/sh", Script: script, DiagnosticMax: 100})

	_, err := r.Execute(context.Background(), Invocation{Timeout: 5 * time.Second})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.LessOrEqual(t, len(f.Diagnostic), 100+len(truncatedSuffix))
}
