// Package zbar implements a scanner capability on top of the zbarcam
// command line decoder.
package zbar

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/scanner"
)

const (
	// DefaultCommand is the decoder binary looked up in PATH.
	DefaultCommand = "zbarcam"
	// DefaultStartupGrace is how long a freshly started decoder must stay
	// alive before Start reports success.
	DefaultStartupGrace = 500 * time.Millisecond

	qrPrefix    = "QR-Code:"
	stderrLimit = 4 << 10
)

// Capability runs one decoder process per camera session.
type Capability struct {
	command string
	args    []string
	device  string
	grace   time.Duration
	log     *logger.ComponentLogger

	mu        sync.Mutex
	proc      *process
	onSuccess func(string)
	onFailure func(error)
}

type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer
	done   chan struct{}
	err    error
}

// New returns a capability running `zbarcam --raw --nodisplay`.
func New() *Capability {
	return &Capability{
		command: DefaultCommand,
		args:    []string{"--raw", "--nodisplay"},
		grace:   DefaultStartupGrace,
		log:     logger.WithComponent(logger.ComponentScanner),
	}
}

// WithCommand replaces the decoder binary and its arguments.
func (c *Capability) WithCommand(name string, args ...string) *Capability {
	c.command = name
	c.args = args
	return c
}

// WithDevice sets the video device appended to the arguments, e.g. /dev/video1.
func (c *Capability) WithDevice(device string) *Capability {
	c.device = device
	return c
}

// WithStartupGrace sets how long Start waits for an early exit.
func (c *Capability) WithStartupGrace(d time.Duration) *Capability {
	c.grace = d
	return c
}

// Factory returns a scanner.Factory producing zbar capabilities for device.
// The mount point has no meaning for a process and is only logged.
func Factory(device string) scanner.Factory {
	return func(mountID string) (scanner.Capability, error) {
		c := New().WithDevice(device)
		if _, err := exec.LookPath(c.command); err != nil {
			return nil, fmt.Errorf("%s: %w", c.command, err)
		}
		c.log.Debug("zbar capability bound", map[string]interface{}{"mount": mountID, "device": device})
		return c, nil
	}
}

// Args returns the arguments passed to the decoder.
func (c *Capability) Args() []string {
	args := append([]string(nil), c.args...)
	if c.device != "" {
		args = append(args, c.device)
	}
	return args
}

// Start launches the decoder. It fails if the process exits within the startup
// grace period, classifying the failure from its stderr.
func (c *Capability) Start(ctx context.Context, facing scanner.Facing, cfg scanner.Config, onSuccess func(string), onFailure func(error)) error {
	c.mu.Lock()
	if c.proc != nil {
		c.mu.Unlock()
		return errors.New("zbar: scanner is already running")
	}
	c.onSuccess, c.onFailure = onSuccess, onFailure
	p, err := c.spawn()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.proc = p
	c.mu.Unlock()
	c.log.Debug("Decoder started", map[string]interface{}{
		"command": c.command,
		"pid":     p.cmd.Process.Pid,
		"facing":  facing,
	})

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		c.release(p)
		return exitFailure(p.err, p.stderr.String())
	case <-ctx.Done():
		c.release(p)
		p.cancel()
		<-p.done
		return ctx.Err()
	case <-timer.C:
	}

	go c.watch(p)
	return nil
}

// spawn must be called with c.mu held.
func (c *Capability) spawn() (*process, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, c.command, c.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("zbar stdout: %w", err)
	}
	p := &process{cmd: cmd, cancel: cancel, stderr: &tailBuffer{}, done: make(chan struct{})}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w: %w", c.command, errs.ErrDeviceNotFound, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", c.command, errs.ErrStartFailed, err)
	}

	go func() {
		readCodes(stdout, c.emit)
		p.err = cmd.Wait()
		cancel()
		close(p.done)
	}()
	return p, nil
}

// release forgets p if it is still the current process.
func (c *Capability) release(p *process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == p {
		c.proc = nil
	}
}

// Stop kills the decoder and waits for it to exit.
func (c *Capability) Stop(ctx context.Context) error {
	c.mu.Lock()
	p := c.proc
	c.proc = nil
	c.mu.Unlock()
	if p == nil {
		return errs.ErrNotScanning
	}

	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear drops the callbacks of the last session.
func (c *Capability) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuccess, c.onFailure = nil, nil
	return nil
}

func (c *Capability) emit(text string) {
	c.mu.Lock()
	fn := c.onSuccess
	c.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// watch reports a decoder that dies on its own while running.
func (c *Capability) watch(p *process) {
	<-p.done
	c.mu.Lock()
	if c.proc != p {
		c.mu.Unlock()
		return
	}
	c.proc = nil
	fn := c.onFailure
	c.mu.Unlock()

	err := exitFailure(p.err, p.stderr.String())
	c.log.Warn("Decoder exited", map[string]interface{}{"error": err})
	if fn != nil {
		fn(err)
	}
}

// readCodes calls emit for every non-empty line of r, stripping the
// symbology prefix zbar prints without --raw.
func readCodes(r io.Reader, emit func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64<<10)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimPrefix(line, qrPrefix)
		if line == "" {
			continue
		}
		emit(line)
	}
	// The scanner gives up on an oversized line; keep the pipe flowing so the
	// decoder never blocks on a full buffer.
	_, _ = io.Copy(io.Discard, r)
}

// exitFailure maps an early decoder exit to a camera failure kind.
func exitFailure(waitErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	low := strings.ToLower(msg)

	kind := errs.ErrStartFailed
	switch {
	case strings.Contains(low, "permission denied"), strings.Contains(low, "operation not permitted"):
		kind = errs.ErrPermissionDenied
	case strings.Contains(low, "busy"):
		kind = errs.ErrDeviceBusy
	case strings.Contains(low, "no such file"), strings.Contains(low, "no such device"), strings.Contains(low, "not found"):
		kind = errs.ErrDeviceNotFound
	}

	if msg == "" {
		if waitErr != nil {
			msg = waitErr.Error()
		} else {
			msg = "decoder exited"
		}
	}
	return fmt.Errorf("zbar: %s: %w", msg, kind)
}

// tailBuffer keeps the last stderrLimit bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - stderrLimit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
