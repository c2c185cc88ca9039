package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/framecast/internal/logging"
)

// KilledExitCode is reported when the process had to be force-killed.
const KilledExitCode = 137

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("process already started")

// OutputHandler receives output lines from the subprocess.
// Implementations can feed metrics, progress parsers, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg, ffprobe, etc.)
type LogParser func(line string) (level, msg string)

// Process supervises a single subprocess started from an argument vector.
// Start is non-blocking. Terminate is idempotent and bounded by the
// graceful and kill timeouts.
type Process struct {
	id            string
	argv          []string
	logger        logging.Logger
	processLogger logging.Logger // logger for process output (nil = use logger)
	logParser     LogParser      // parses process output for log level (nil = no parsing)
	outputHandler OutputHandler

	pipeStdin     bool
	captureStdout bool

	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *os.File
	started  bool
	exitCode int
	done     chan struct{}

	terminateOnce sync.Once
	terminateCode int
}

// New creates a process for argv. argv[0] is the binary.
func New(id string, argv []string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		argv:            argv,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		exitCode:        -1,
		done:            make(chan struct{}),
	}
}

// SetLogParser sets a custom logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
// The parser extracts log level from process-specific output formats.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler registers a handler that sees every output line before it is logged.
func (p *Process) SetOutputHandler(h OutputHandler) {
	p.outputHandler = h
}

// SetTimeouts overrides the graceful-stop and post-kill wait durations.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	if graceful > 0 {
		p.gracefulTimeout = graceful
	}
	if kill > 0 {
		p.killTimeout = kill
	}
}

// PipeStdin requests a stdin pipe, available from Stdin after Start.
func (p *Process) PipeStdin() { p.pipeStdin = true }

// CaptureStdout hands stdout to the caller through Stdout instead of logging it.
func (p *Process) CaptureStdout() { p.captureStdout = true }

// Start spawns the subprocess without waiting for it.
// A spawn failure (missing binary, permissions) is returned and leaves nothing running.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if len(p.argv) == 0 || p.argv[0] == "" {
		return fmt.Errorf("empty command")
	}
	p.started = true

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = p.killTimeout

	var closers []io.Closer
	fail := func(err error) error {
		for _, c := range closers {
			_ = c.Close()
		}
		close(p.done)
		return err
	}

	var stdin io.WriteCloser
	if p.pipeStdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			return fail(fmt.Errorf("stdin pipe: %w", err))
		}
		stdin = w
	}

	// Captured stdout uses an OS pipe so Wait never closes it under the reader.
	var stdoutR, stdoutW *os.File
	var stdoutPR *io.PipeReader
	var stdoutPW *io.PipeWriter
	if p.captureStdout {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("stdout pipe: %w", err))
		}
		stdoutR, stdoutW = r, w
		closers = append(closers, r, w)
		cmd.Stdout = w
	} else {
		stdoutPR, stdoutPW = io.Pipe()
		closers = append(closers, stdoutPW)
		cmd.Stdout = stdoutPW
	}

	stderrPR, stderrPW := io.Pipe()
	closers = append(closers, stderrPW)
	cmd.Stderr = stderrPW

	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start process", "id", p.id, "binary", filepath.Base(p.argv[0]), "error", err)
		return fail(err)
	}

	if stdoutW != nil {
		_ = stdoutW.Close()
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdoutR
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "binary", filepath.Base(p.argv[0]))

	var outputWg sync.WaitGroup
	if stdoutPR != nil {
		outputWg.Add(1)
		go func() {
			defer outputWg.Done()
			p.streamOutput(stdoutPR, "stdout")
		}()
	}
	outputWg.Add(1)
	go func() {
		defer outputWg.Done()
		p.streamOutput(stderrPR, "stderr")
	}()

	go func() {
		err := cmd.Wait()
		if stdoutPW != nil {
			_ = stdoutPW.Close()
		}
		_ = stderrPW.Close()
		outputWg.Wait()

		code := p.handleProcessExit(err)
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		p.logger.Info("Process exited", "id", p.id, "exit_code", code)
		close(p.done)
	}()

	return nil
}

// Stdin returns the stdin pipe, or nil when PipeStdin was not requested.
func (p *Process) Stdin() io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin
}

// Stdout returns the captured stdout, or nil when CaptureStdout was not requested.
// The caller owns it and must close it.
func (p *Process) Stdout() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

// Done is closed once the process has exited and its output has been drained,
// or immediately if Start failed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 while the process is running or was never started.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Pid returns the OS process id, or 0 if not started.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate closes stdin, sends SIGINT to the process group and waits up to the
// graceful timeout before killing it. Safe to call repeatedly and concurrently;
// every call returns the same exit code.
func (p *Process) Terminate() int {
	p.terminateOnce.Do(func() {
		p.terminateCode = p.terminate()
	})
	return p.terminateCode
}

func (p *Process) terminate() int {
	p.mu.Lock()
	started := p.cmd != nil
	stdin := p.stdin
	p.mu.Unlock()

	if !started {
		return 0
	}

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-p.done:
		return p.ExitCode()
	default:
	}

	p.sendStopSignal()
	return p.waitForExit(p.gracefulTimeout)
}

// Wait blocks until the process exits or ctx is cancelled, in which case the
// process is terminated.
func (p *Process) Wait(ctx context.Context) int {
	select {
	case <-p.done:
		return p.ExitCode()
	case <-ctx.Done():
		p.logger.Info("Context cancelled, shutting down process", "id", p.id)
		return p.Terminate()
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError (128+signal when
// signalled), or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

// handleProcessExit extracts exit code from process error and logs non-ExitError errors.
func (p *Process) handleProcessExit(processErr error) int {
	exitCode := exitCodeFromError(processErr)
	var exitErr *exec.ExitError
	if processErr != nil && !errors.As(processErr, &exitErr) {
		p.logger.Error("Process exited with error", "id", p.id, "error", processErr)
	}
	return exitCode
}

// sendStopSignal sends SIGINT to the process group without waiting.
func (p *Process) sendStopSignal() {
	p.signalGroup(syscall.SIGINT)
}

func (p *Process) signalGroup(sig syscall.Signal) {
	pid := p.Pid()
	if pid == 0 {
		return
	}
	p.logger.Debug("Signalling process group", "id", p.id, "pid", pid, "signal", sig.String())
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("Failed to signal process", "id", p.id, "signal", sig.String(), "error", err)
	}
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(timeout time.Duration) int {
	select {
	case <-p.done:
		return p.ExitCode()
	case <-time.After(timeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", timeout)
		p.signalGroup(syscall.SIGKILL)

		// Secondary timeout so a wedged process never hangs the caller.
		select {
		case <-p.done:
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal", "id", p.id)
		}
		return KilledExitCode
	}
}

// streamOutput streams output from the subprocess.
// Uses the configured processLogger (or falls back to default logger).
// Uses the configured LogParser to extract log levels from process output.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}
		if msg == "" {
			continue
		}

		switch level {
		case "fatal", "panic", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace", "verbose":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
	}
}

// SplitCommand parses a configured command string into arguments.
// Handles quoted strings and basic escaping, so a binary setting such as
// `nice -n 10 ffmpeg` or `sh -c "..."` becomes an argv prefix.
func SplitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	return args, nil
}

// Command joins a configured binary setting with generated arguments.
func Command(binary string, args []string) ([]string, error) {
	prefix, err := SplitCommand(binary)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", binary, err)
	}
	return append(prefix, args...), nil
}
