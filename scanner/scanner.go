package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/internal/logger"
)

// State is the lifecycle state of the camera session.
type State int

const (
	Uninitialized State = iota
	Idle
	Starting
	Running
	Stopping
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	Idle:          "idle",
	Starting:      "starting",
	Running:       "running",
	Stopping:      "stopping",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type intent int

const (
	intentNone intent = iota
	intentStart
	intentStop
)

// pendingCall is a Start or Stop that arrived while the opposite transition
// was in flight. Only the latest one is kept.
type pendingCall struct {
	kind intent
	ctx  context.Context
	done chan error
}

// Controller is the single owner of a camera scanning session.
//
// Start and Stop never block; each returns a channel that receives exactly one
// value when the request has been carried out (or collapsed). Overlapping
// calls follow a last-call-wins policy: Stop while Starting is deferred until
// the start completes, Start while Stopping is deferred until the session is
// Idle, and a later opposite call cancels the deferred one.
type Controller struct {
	id      string
	mountID string
	cap     Capability
	log     *logger.ComponentLogger

	mu       sync.Mutex
	changed  *sync.Cond
	state    State
	config   Config
	lastErr  error
	attempt  uint64
	pending  pendingCall
	onDecode func(text string)
}

// New constructs the capability against mountID. Any failure is fatal and
// wraps errs.ErrCapabilityUnavailable.
func New(mountID string, factory Factory) (*Controller, error) {
	log := logger.WithComponent(logger.ComponentScanner)
	if mountID == "" || factory == nil {
		log.Error("Scanner mount point missing", map[string]interface{}{"mount": mountID})
		return nil, fmt.Errorf("mount %q: %w", mountID, errs.ErrCapabilityUnavailable)
	}
	capability, err := factory(mountID)
	if err != nil {
		log.Error("Scanner initialization failed", map[string]interface{}{"mount": mountID, "error": err})
		return nil, fmt.Errorf("mount %q: %w: %w", mountID, errs.ErrCapabilityUnavailable, err)
	}
	if capability == nil {
		return nil, fmt.Errorf("mount %q: %w", mountID, errs.ErrCapabilityUnavailable)
	}

	c := &Controller{
		id:      uuid.NewString(),
		mountID: mountID,
		cap:     capability,
		log:     log,
		state:   Idle,
		config:  DefaultConfig(),
	}
	c.changed = sync.NewCond(&c.mu)
	log.Info("Scanner initialized", map[string]interface{}{"session": c.id, "mount": mountID})
	return c, nil
}

// WithConfig replaces the configuration used by the next start.
func (c *Controller) WithConfig(cfg Config) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Facing == "" {
		cfg.Facing = FacingEnvironment
	}
	c.config = cfg
	return c
}

// OnDecode registers the handler for decoded text. It runs after the camera
// has been stopped.
func (c *Controller) OnDecode(fn func(text string)) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDecode = fn
	return c
}

// ID returns the session id used in logs.
func (c *Controller) ID() string { return c.id }

// MountID returns the mount point the capability is bound to.
func (c *Controller) MountID() string { return c.mountID }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether the camera is streaming.
func (c *Controller) Running() bool {
	return c.State() == Running
}

// LastError returns the classified failure of the last start, or nil once a
// start has succeeded.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start requests the camera. The channel receives nil on success or when the
// call collapsed into one already in flight, and a *CameraError on failure.
func (c *Controller) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	c.mu.Lock()
	var dropped chan error
	switch c.state {
	case Idle:
		dropped = c.takePending().done
		c.setState(Starting)
		c.mu.Unlock()
		resolve(dropped, nil)
		c.log.Debug("Starting scanner", map[string]interface{}{"session": c.id})
		go c.runStart(ctx, done)
		return done
	case Starting:
		dropped = c.takePending().done
		c.log.Debug("Start collapsed into start in flight", map[string]interface{}{"session": c.id})
	case Stopping:
		dropped = c.replacePending(pendingCall{kind: intentStart, ctx: ctx, done: done})
		c.mu.Unlock()
		resolve(dropped, nil)
		c.log.Debug("Start deferred until stop completes", map[string]interface{}{"session": c.id})
		return done
	default:
		c.log.Debug("Scanner already running", map[string]interface{}{"session": c.id})
	}
	c.mu.Unlock()
	resolve(dropped, nil)
	done <- nil
	return done
}

// Stop releases the camera. The session always ends Idle; the channel
// receives the stop error, if any, for diagnostics.
func (c *Controller) Stop(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	c.mu.Lock()
	var dropped chan error
	switch c.state {
	case Running:
		c.setState(Stopping)
		c.mu.Unlock()
		go c.runStop(ctx, done)
		return done
	case Starting:
		dropped = c.replacePending(pendingCall{kind: intentStop, ctx: ctx, done: done})
		c.mu.Unlock()
		resolve(dropped, nil)
		c.log.Debug("Stop deferred until start completes", map[string]interface{}{"session": c.id})
		return done
	case Stopping:
		dropped = c.takePending().done
		c.log.Debug("Stop collapsed into stop in flight", map[string]interface{}{"session": c.id})
	default:
		// Idle can still hold a start deferred during a decode's stop; the
		// later Stop cancels it.
		dropped = c.takePending().done
		c.log.Debug("Stop requested while idle", map[string]interface{}{"session": c.id})
	}
	c.mu.Unlock()
	resolve(dropped, nil)
	done <- nil
	return done
}

func (c *Controller) runStart(ctx context.Context, done chan<- error) {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	cfg := c.config
	c.mu.Unlock()

	// Decodes are tied to the attempt that produced them so a late callback
	// from an earlier session cannot stop a newer one.
	onSuccess := func(text string) { go c.decoded(attempt, text) }
	err := safeCall(func() error {
		return c.cap.Start(ctx, cfg.Facing, cfg, onSuccess, c.handleDecodeFailure)
	})
	if alreadyRunning(err) {
		c.log.Warn("Capability reports it is already running", map[string]interface{}{"session": c.id, "error": err})
		err = nil
	}

	c.mu.Lock()
	if err != nil {
		cerr := Classify(err)
		c.lastErr = cerr
		c.setState(Idle)
		next := c.takePending()
		c.mu.Unlock()

		c.log.Warn("Scanner start failed", map[string]interface{}{"session": c.id, "error": err, "reason": Message(cerr)})
		done <- cerr
		resolve(next.done, nil)
		return
	}

	c.lastErr = nil
	c.setState(Running)
	next := c.takePending()
	if next.kind == intentStop {
		c.setState(Stopping)
	}
	c.mu.Unlock()

	c.log.Info("Scanner started", map[string]interface{}{"session": c.id, "fps": cfg.FPS, "facing": cfg.Facing})
	done <- nil
	if next.kind == intentStop {
		c.runStop(next.ctx, next.done)
	}
}

func (c *Controller) runStop(ctx context.Context, done chan<- error) {
	err := c.stopSequence(ctx)

	c.mu.Lock()
	c.setState(Idle)
	next := c.takePending()
	if next.kind == intentStart {
		c.setState(Starting)
	}
	c.mu.Unlock()

	c.log.Info("Scanner stopped", map[string]interface{}{"session": c.id})
	done <- err
	if next.kind == intentStart {
		c.runStart(next.ctx, next.done)
	}
}

// stopSequence stops the capability and always clears it afterwards. A
// "not scanning" failure counts as stopped.
func (c *Controller) stopSequence(ctx context.Context) (err error) {
	defer func() {
		if cerr := safeCall(c.cap.Clear); cerr != nil {
			c.log.Warn("Scanner clear failed", map[string]interface{}{"session": c.id, "error": cerr})
		}
	}()

	err = safeCall(func() error { return c.cap.Stop(ctx) })
	if notScanning(err) {
		c.log.Debug("Stop called but scanner wasn't running", map[string]interface{}{"session": c.id})
		return nil
	}
	if err != nil {
		c.log.Warn("Scanner stop failed", map[string]interface{}{"session": c.id, "error": err})
	}
	return err
}

func (c *Controller) handleDecodeFailure(err error) {
	c.log.Trace("No code in frame", map[string]interface{}{"session": c.id, "error": err})
}

// decoded runs the stop sequence for a successful scan and only then hands the
// text to the decode handler.
func (c *Controller) decoded(attempt uint64, text string) {
	c.mu.Lock()
	for c.state == Starting && c.attempt == attempt {
		c.changed.Wait()
	}
	if c.state != Running || c.attempt != attempt {
		state := c.state
		c.mu.Unlock()
		c.log.Debug("Dropped decode outside running state", map[string]interface{}{"session": c.id, "state": state})
		return
	}
	c.setState(Stopping)
	c.mu.Unlock()

	c.log.Info("Scan successful", map[string]interface{}{"session": c.id, "text": text})
	stopErr := c.stopSequence(context.Background())

	// A Start that arrived during the stop waits until the handler returns.
	c.mu.Lock()
	c.setState(Idle)
	handler := c.onDecode
	c.mu.Unlock()
	if stopErr != nil {
		c.log.Debug("Continuing after stop error", map[string]interface{}{"session": c.id})
	}

	if handler != nil {
		handler(text)
	}

	c.mu.Lock()
	if c.state != Idle || c.pending.kind != intentStart {
		c.mu.Unlock()
		return
	}
	next := c.takePending()
	c.setState(Starting)
	c.mu.Unlock()
	c.runStart(next.ctx, next.done)
}

// setState must be called with c.mu held.
func (c *Controller) setState(s State) {
	c.state = s
	c.changed.Broadcast()
}

// takePending must be called with c.mu held.
func (c *Controller) takePending() pendingCall {
	p := c.pending
	c.pending = pendingCall{}
	return p
}

// replacePending must be called with c.mu held. It returns the done channel of
// the call it displaced.
func (c *Controller) replacePending(p pendingCall) chan error {
	old := c.takePending()
	c.pending = p
	return old.done
}

func resolve(done chan error, err error) {
	if done != nil {
		done <- err
	}
}

// safeCall converts a panicking capability into an error so the session can
// still reach a stable state.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability panic: %v", r)
		}
	}()
	return fn()
}
