package process

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(t *testing.T, command string) *Process {
	t.Helper()
	argv, err := SplitCommand(command)
	if err != nil {
		t.Fatalf("SplitCommand(%q): %v", command, err)
	}
	p := New("test", argv, testLogger())
	p.SetTimeouts(100*time.Millisecond, 100*time.Millisecond)
	return p
}

// waitDone waits for the process to finish, fails test on timeout.
func waitDone(t *testing.T, p *Process, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
	}
}

// terminateAsync runs Terminate in a goroutine and returns the exit code channel.
func terminateAsync(p *Process) <-chan int {
	done := make(chan int, 1)
	go func() {
		done <- p.Terminate()
	}()
	return done
}

func waitCode(t *testing.T, done <-chan int, timeout time.Duration) int {
	t.Helper()
	select {
	case code := <-done:
		return code
	case <-time.After(timeout):
		t.Fatal("timeout waiting for Terminate")
		return -1
	}
}

func TestGracefulShutdown(t *testing.T) {
	// Process that handles SIGINT
	p := newTestProcess(t, `sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.1; done"`)
	p.SetTimeouts(500*time.Millisecond, 0)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if exitCode := waitCode(t, terminateAsync(p), 1*time.Second); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	// Process that ignores SIGINT
	p := newTestProcess(t, `sh -c "trap '' INT; sleep 10"`)
	p.SetTimeouts(50*time.Millisecond, 200*time.Millisecond)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	// Process was killed, expect 137 (128 + 9 for SIGKILL)
	if exitCode := waitCode(t, terminateAsync(p), 1*time.Second); exitCode != KilledExitCode {
		t.Errorf("expected exit code %d, got %d", KilledExitCode, exitCode)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("terminate took too long: %v", elapsed)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	p := newTestProcess(t, `sh -c "trap 'exit 3' INT; while :; do sleep 0.1; done"`)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = p.Terminate()
		}(i)
	}
	wg.Wait()

	for i, c := range codes {
		if c != codes[0] {
			t.Errorf("Terminate() call %d returned %d, first returned %d", i, c, codes[0])
		}
	}
	if again := p.Terminate(); again != codes[0] {
		t.Errorf("repeated Terminate() = %d, want %d", again, codes[0])
	}
}

func TestTerminateBeforeStart(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	if code := p.Terminate(); code != 0 {
		t.Errorf("Terminate() before Start = %d, want 0", code)
	}
}

func TestProcessAlreadyExited(t *testing.T) {
	p := newTestProcess(t, "true")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, p, 500*time.Millisecond)

	if exitCode := p.ExitCode(); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	// Terminate after process has already exited - should not signal or block
	if code := p.Terminate(); code != 0 {
		t.Errorf("Terminate() after exit = %d, want 0", code)
	}
}

func TestProcessExitWithError(t *testing.T) {
	p := newTestProcess(t, "sh -c 'exit 42'")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, p, 500*time.Millisecond)
	if exitCode := p.ExitCode(); exitCode != 42 {
		t.Errorf("expected exit code 42, got %d", exitCode)
	}
}

func TestStartNonExistentCommand(t *testing.T) {
	p := New("test", []string{"/nonexistent/command/that/does/not/exist"}, testLogger())
	if err := p.Start(); err == nil {
		t.Fatal("expected spawn error")
	}

	// Done must not block and nothing is running.
	waitDone(t, p, 100*time.Millisecond)
	if pid := p.Pid(); pid != 0 {
		t.Errorf("Pid() = %d after failed start", pid)
	}
	if code := p.Terminate(); code != 0 {
		t.Errorf("Terminate() after failed start = %d", code)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	p := New("test", nil, testLogger())
	if err := p.Start(); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestStartTwice(t *testing.T) {
	p := newTestProcess(t, "true")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := p.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	waitDone(t, p, 500*time.Millisecond)
}

func TestCaptureStdout(t *testing.T) {
	p := newTestProcess(t, `sh -c "printf abcdef"`)
	p.CaptureStdout()
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	out := p.Stdout()
	if out == nil {
		t.Fatal("Stdout() = nil with CaptureStdout")
	}
	defer out.Close()

	data, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "abcdef" {
		t.Errorf("stdout = %q, want abcdef", data)
	}
	waitDone(t, p, 500*time.Millisecond)
}

func TestPipeStdin(t *testing.T) {
	var lines []string
	var mu sync.Mutex
	p := newTestProcess(t, "cat")
	p.PipeStdin()
	p.SetOutputHandler(handlerFunc(func(source, line string) {
		mu.Lock()
		defer mu.Unlock()
		if source == "stdout" {
			lines = append(lines, line)
		}
	}))
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := io.WriteString(p.Stdin(), "hello\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	// Closing stdin lets cat exit on its own.
	_ = p.Stdin().Close()
	waitDone(t, p, 1*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("stdout lines = %v, want [hello]", lines)
	}
}

func TestWaitContextCancel(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	p.Wait(ctx)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Wait took too long after cancel: %v", elapsed)
	}
	waitDone(t, p, 500*time.Millisecond)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"ffmpeg", []string{"ffmpeg"}, false},
		{"nice -n 10 ffmpeg", []string{"nice", "-n", "10", "ffmpeg"}, false},
		{`sh -c "echo hi; exit 0"`, []string{"sh", "-c", "echo hi; exit 0"}, false},
		{`echo hello\ world`, []string{"echo", "hello world"}, false},
		{`echo "unclosed`, nil, true},
		{"   ", nil, true},
	}

	for _, tt := range tests {
		got, err := SplitCommand(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SplitCommand(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitCommand(%q) error: %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("SplitCommand(%q) = %q, want %q", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitCommand(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCommand(t *testing.T) {
	argv, err := Command("nice ffmpeg", []string{"-i", "a.mp4"})
	if err != nil {
		t.Fatalf("Command() error: %v", err)
	}
	if len(argv) != 4 || argv[0] != "nice" || argv[3] != "a.mp4" {
		t.Errorf("Command() = %v", argv)
	}
}

func TestStreamOutputLogLevels(t *testing.T) {
	cmd := `echo "[error] error message" && echo "[warning] warn message" && echo "[debug] debug message" && echo "[fatal] fatal message" && echo "plain message"`
	p := newTestProcess(t, "sh -c '"+cmd+"'")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, p, 1*time.Second)
	if exitCode := p.ExitCode(); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
}

func TestOutputHandler(t *testing.T) {
	var lines []string
	var mu sync.Mutex
	p := newTestProcess(t, `sh -c "echo line1; echo line2 >&2"`)
	p.SetOutputHandler(handlerFunc(func(_, line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}))

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, p, 1*time.Second)

	// Done is only closed after output has been drained.
	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

type handlerFunc func(source, line string)

func (f handlerFunc) HandleLine(source, line string) { f(source, line) }
