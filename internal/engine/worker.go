package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/protocol"
)

const (
	// maxCaptureBytes caps captured stdout/stderr so a chatty worker cannot
	// exhaust engine memory.
	maxCaptureBytes = 1 << 20 // 1 MB

	// maxEnvelopeBytes bounds a single channel line. Result envelopes carry
	// the whole output stream, so this is generous.
	maxEnvelopeBytes = 8 << 20 // 8 MB

	// reapDeadline bounds the wait for a SIGKILLed worker to be reaped.
	reapDeadline = 5 * time.Second
)

// exitStatus describes how the worker process ended.
type exitStatus struct {
	code     int    // Exit code; -1 when terminated by signal.
	signal   string // Terminating signal name, when signaled.
	signaled bool
}

// worker is the engine's handle on one spawned worker process. The concrete
// implementation is procWorker; tests substitute fakes.
type worker interface {
	// send writes one envelope to the worker channel.
	send(env *protocol.Envelope) error
	// messages delivers decoded envelopes from the worker.
	messages() <-chan *protocol.Envelope
	// transportErrors delivers channel-level failures: unparseable output,
	// broken pipes.
	transportErrors() <-chan error
	// exited delivers the process exit exactly once.
	exited() <-chan exitStatus
	// kill records that the engine initiated termination, then runs the
	// escalating sequence: SIGTERM the process group, SIGKILL after grace.
	kill()
	// killedByEngine reports whether kill was called.
	killedByEngine() bool
	// stderrTail returns the captured stderr text. Only valid after the
	// exit has been delivered.
	stderrTail() string
	// close terminates the process if still running, reaps it, closes the
	// channel, and releases the scratch directory. Idempotent; runs on
	// every coordinator exit path.
	close()
}

// launcher spawns workers. The default is procLauncher; tests plug in fakes
// to script message sequences and to assert that nothing was spawned.
type launcher interface {
	launch(ctx context.Context, spec *launchSpec) (worker, error)
}

// launchSpec is everything needed to start one worker process.
type launchSpec struct {
	artifact    *Artifact
	executionID string
	tempDir     string
	env         []string // Sanitized environment, built by workerEnv.
	killGrace   time.Duration
}

// workerEnv constructs the worker's environment. The parent environment is
// never inherited wholesale: the worker gets a minimal base plus only the
// variables matching the instance's credential prefix. That keeps every
// other secret in the engine's environment out of script reach.
func workerEnv(tempDir string, inst *domain.Instance, memoryLimitMB int) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tempDir,
		"TMPDIR=" + tempDir,
		"LANG=en_US.UTF-8",
	}
	if memoryLimitMB > 0 {
		env = append(env, fmt.Sprintf("SCRIPTBOX_MEMORY_LIMIT_MB=%d", memoryLimitMB))
	}
	if inst != nil && inst.CredentialsEnvPrefix != "" {
		for _, kv := range os.Environ() {
			if len(kv) > len(inst.CredentialsEnvPrefix) && kv[:len(inst.CredentialsEnvPrefix)] == inst.CredentialsEnvPrefix {
				env = append(env, kv)
			}
		}
	}
	return env
}

// procLauncher spawns real worker processes.
type procLauncher struct {
	cleaner *Cleaner
	logger  *slog.Logger
}

// launch starts the worker for the given spec. The JavaScript worker gets a
// dedicated channel on fds 3 (engine→worker) and 4 (worker→engine); the
// Python worker's channel rides the standard streams. Both channels carry
// NDJSON envelopes.
func (l *procLauncher) launch(_ context.Context, spec *launchSpec) (worker, error) {
	args := append(append([]string{}, spec.artifact.Args...), spec.artifact.Path)
	cmd := exec.Command(spec.artifact.Bin, args...)
	cmd.Dir = spec.tempDir
	cmd.Env = spec.env
	// The worker runs in its own process group so timeout kills take its
	// children with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	w := &procWorker{
		cmd:       cmd,
		tempDir:   spec.tempDir,
		killGrace: spec.killGrace,
		cleaner:   l.cleaner,
		logger:    l.logger,
		msgCh:     make(chan *protocol.Envelope, 16),
		errCh:     make(chan error, 4),
		exitCh:    make(chan exitStatus, 1),
		done:      make(chan struct{}),
	}

	cmd.Stderr = &limitedWriter{w: &w.stderrBuf, remaining: maxCaptureBytes}

	toWorkerR, toWorkerW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker channel: %w", err)
	}
	fromWorkerR, fromWorkerW, err := os.Pipe()
	if err != nil {
		toWorkerR.Close()
		toWorkerW.Close()
		return nil, fmt.Errorf("creating worker channel: %w", err)
	}

	switch spec.artifact.Language {
	case domain.LanguagePython:
		cmd.Stdin = toWorkerR
		cmd.Stdout = fromWorkerW
	default:
		cmd.ExtraFiles = []*os.File{toWorkerR, fromWorkerW}
		// Stray stdout from the JS worker is diagnostic only.
		cmd.Stdout = &limitedWriter{w: &w.stdoutBuf, remaining: maxCaptureBytes}
	}

	w.channelW = toWorkerW
	w.channelR = fromWorkerR

	if err := cmd.Start(); err != nil {
		toWorkerR.Close()
		toWorkerW.Close()
		fromWorkerR.Close()
		fromWorkerW.Close()
		return nil, fmt.Errorf("starting worker process: %w", err)
	}

	// The child holds its own copies now; the parent closes its duplicates
	// of the child-side ends so EOF propagates when the child exits.
	toWorkerR.Close()
	fromWorkerW.Close()

	l.logger.Debug("worker spawned",
		slog.String("execution_id", spec.executionID),
		slog.String("artifact", spec.artifact.Path),
		slog.Int("pid", cmd.Process.Pid),
	)

	go w.readLoop()
	go w.waitLoop()
	return w, nil
}

// procWorker is the process-backed worker implementation.
type procWorker struct {
	cmd     *exec.Cmd
	tempDir string

	channelW *os.File // Engine → worker.
	channelR *os.File // Worker → engine.
	writeMu  sync.Mutex

	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer

	msgCh  chan *protocol.Envelope
	errCh  chan error
	exitCh chan exitStatus
	done   chan struct{} // Closed by waitLoop once the process is reaped.

	killed   atomic.Bool
	killOnce sync.Once
	closed   sync.Once

	killGrace time.Duration
	cleaner   *Cleaner
	logger    *slog.Logger
}

func (w *procWorker) send(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	data = append(data, '\n')

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if _, err := w.channelW.Write(data); err != nil {
		return fmt.Errorf("writing to worker channel: %w", err)
	}
	return nil
}

func (w *procWorker) messages() <-chan *protocol.Envelope { return w.msgCh }
func (w *procWorker) transportErrors() <-chan error       { return w.errCh }
func (w *procWorker) exited() <-chan exitStatus           { return w.exitCh }
func (w *procWorker) killedByEngine() bool                { return w.killed.Load() }

// stderrTail returns the captured stderr. The exit event is delivered only
// after cmd.Wait returns, so by then the capture goroutine has finished and
// this read is race-free.
func (w *procWorker) stderrTail() string {
	return string(bytes.TrimSpace(w.stderrBuf.Bytes()))
}

// readLoop decodes NDJSON envelopes off the worker channel until EOF.
// Envelopes that arrive after the coordinator has settled pile into the
// buffered channel and are dropped once it fills; they have no consumer.
func (w *procWorker) readLoop() {
	scanner := bufio.NewScanner(w.channelR)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			w.deliverErr(fmt.Errorf("unparseable worker output: %w", err))
			continue
		}
		select {
		case w.msgCh <- &env:
		default:
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		w.deliverErr(fmt.Errorf("reading worker channel: %w", err))
	}
}

func (w *procWorker) deliverErr(err error) {
	select {
	case w.errCh <- err:
	default:
	}
}

// waitLoop reaps the process and delivers the exit exactly once.
func (w *procWorker) waitLoop() {
	err := w.cmd.Wait()

	var st exitStatus
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			st.code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				st.signaled = true
				st.signal = ws.Signal().String()
			}
		} else {
			st.code = -1
		}
	}

	close(w.done)
	w.exitCh <- st
}

// kill starts the engine-initiated termination sequence. The flag is set
// before the first signal so the exit handler can tell this kill apart from
// an external crash arriving on the same signal.
func (w *procWorker) kill() {
	w.killOnce.Do(func() {
		w.killed.Store(true)
		w.signalGroup(syscall.SIGTERM)
		go func() {
			select {
			case <-w.done:
			case <-time.After(w.killGrace):
				w.signalGroup(syscall.SIGKILL)
			}
		}()
	})
}

// signalGroup signals the whole process group. A vanished group is fine.
func (w *procWorker) signalGroup(sig syscall.Signal) {
	if w.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-w.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		w.logger.Warn("signaling worker process group",
			slog.Int("pid", w.cmd.Process.Pid),
			slog.String("signal", sig.String()),
			slog.String("error", err.Error()),
		)
	}
}

// close releases the worker as an owned resource: terminate if still
// running, bounded-wait for the reaper, close the channel, release the
// scratch directory.
func (w *procWorker) close() {
	w.closed.Do(func() {
		select {
		case <-w.done:
		default:
			w.signalGroup(syscall.SIGTERM)
			select {
			case <-w.done:
			case <-time.After(w.killGrace):
				w.signalGroup(syscall.SIGKILL)
			}
		}

		select {
		case <-w.done:
		case <-time.After(reapDeadline):
			w.logger.Warn("worker not reaped after SIGKILL", slog.Int("pid", w.cmd.Process.Pid))
		}

		w.channelW.Close()
		w.channelR.Close()
		w.cleaner.Release(w.tempDir)
	})
}

// limitedWriter stops writing after a byte limit. Excess data is silently
// discarded rather than treated as an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
