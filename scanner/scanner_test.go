package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ytget/qrplay/errs"
)

// fakeCapability records calls and lets tests hold Start/Stop open with gates.
type fakeCapability struct {
	mu        sync.Mutex
	starts    int
	stops     int
	clears    int
	startErr  error
	stopErr   error
	startGate chan struct{}
	stopGate  chan struct{}
	panicOn   string
	lastCfg   Config
	onSuccess func(string)
}

func (f *fakeCapability) Start(ctx context.Context, facing Facing, cfg Config, onSuccess func(string), onFailure func(error)) error {
	f.mu.Lock()
	f.starts++
	f.lastCfg = cfg
	f.onSuccess = onSuccess
	gate, err, panicking := f.startGate, f.startErr, f.panicOn == "start"
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if panicking {
		panic("camera exploded")
	}
	return err
}

func (f *fakeCapability) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stops++
	gate, err := f.stopGate, f.stopErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeCapability) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	if f.panicOn == "clear" {
		panic("clear exploded")
	}
	return nil
}

func (f *fakeCapability) counts() (starts, stops, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.clears
}

func (f *fakeCapability) emit(text string) {
	f.mu.Lock()
	fn := f.onSuccess
	f.mu.Unlock()
	fn(text)
}

func newController(t *testing.T, f *fakeCapability) *Controller {
	t.Helper()
	c, err := New("reader", func(string) (Capability, error) { return f, nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lifecycle result")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", func(string) (Capability, error) { return &fakeCapability{}, nil }); !errors.Is(err, errs.ErrCapabilityUnavailable) {
		t.Fatalf("empty mount: got %v", err)
	}
	if _, err := New("reader", nil); !errors.Is(err, errs.ErrCapabilityUnavailable) {
		t.Fatalf("nil factory: got %v", err)
	}
	missing := errors.New("element #reader not found")
	_, err := New("reader", func(string) (Capability, error) { return nil, missing })
	if !errors.Is(err, errs.ErrCapabilityUnavailable) || !errors.Is(err, missing) {
		t.Fatalf("factory failure should wrap both errors, got %v", err)
	}

	var mounted string
	c, err := New("reader", func(id string) (Capability, error) {
		mounted = id
		return &fakeCapability{}, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if mounted != "reader" || c.MountID() != "reader" {
		t.Errorf("mount id not passed through: %q", mounted)
	}
	if c.State() != Idle || c.Running() {
		t.Errorf("new controller should be idle, got %v", c.State())
	}
	if c.ID() == "" {
		t.Error("expected a session id")
	}
}

func TestStart(t *testing.T) {
	f := &fakeCapability{}
	c := newController(t, f)

	if err := wait(t, c.Start(context.Background())); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() {
		t.Fatalf("state = %v, want running", c.State())
	}
	if f.lastCfg.FPS != 10 || f.lastCfg.QRBox != (Box{250, 250}) || f.lastCfg.Facing != FacingEnvironment {
		t.Errorf("unexpected config %+v", f.lastCfg)
	}
	if c.LastError() != nil {
		t.Errorf("LastError = %v, want nil", c.LastError())
	}
}

func TestStart_Idempotent(t *testing.T) {
	f := &fakeCapability{startGate: make(chan struct{})}
	c := newController(t, f)

	first := c.Start(context.Background())
	waitFor(t, func() bool { s, _, _ := f.counts(); return s == 1 })
	if c.State() != Starting {
		t.Fatalf("state = %v, want starting", c.State())
	}
	if err := wait(t, c.Start(context.Background())); err != nil {
		t.Fatalf("collapsed start: %v", err)
	}
	close(f.startGate)
	if err := wait(t, first); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := wait(t, c.Start(context.Background())); err != nil {
		t.Fatalf("start while running: %v", err)
	}
	if starts, _, _ := f.counts(); starts != 1 {
		t.Fatalf("underlying start called %d times, want 1", starts)
	}
}

func TestStop_NeverStarted(t *testing.T) {
	f := &fakeCapability{}
	c := newController(t, f)

	if err := wait(t, c.Stop(context.Background())); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
	if _, stops, clears := f.counts(); stops != 0 || clears != 0 {
		t.Errorf("idle stop should not touch the capability: stops=%d clears=%d", stops, clears)
	}
}

func TestStop(t *testing.T) {
	tests := []struct {
		name    string
		stopErr error
		wantErr bool
	}{
		{name: "clean stop"},
		{name: "not scanning sentinel", stopErr: errs.ErrNotScanning},
		{name: "not scanning text", stopErr: errors.New("Cannot stop, scanner is not scanning.")},
		{name: "stop failure", stopErr: errors.New("track ended badly"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCapability{stopErr: tt.stopErr}
			c := newController(t, f)
			if err := wait(t, c.Start(context.Background())); err != nil {
				t.Fatalf("Start: %v", err)
			}
			err := wait(t, c.Stop(context.Background()))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Stop error = %v, wantErr %v", err, tt.wantErr)
			}
			if c.State() != Idle {
				t.Fatalf("state = %v, want idle", c.State())
			}
			if _, stops, clears := f.counts(); stops != 1 || clears != 1 {
				t.Errorf("stops=%d clears=%d, want 1/1", stops, clears)
			}
			// The session can always be restarted.
			f.mu.Lock()
			f.stopErr = nil
			f.mu.Unlock()
			if err := wait(t, c.Start(context.Background())); err != nil || !c.Running() {
				t.Fatalf("restart: %v (state %v)", err, c.State())
			}
		})
	}
}

func TestStop_ClearPanicStillIdle(t *testing.T) {
	f := &fakeCapability{panicOn: "clear"}
	c := newController(t, f)
	wait(t, c.Start(context.Background()))
	if err := wait(t, c.Stop(context.Background())); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

type domError struct{ name string }

func (e domError) Error() string     { return e.name + ": camera failure" }
func (e domError) ErrorName() string { return e.name }

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "permission", err: domError{"NotAllowedError"}, kind: errs.ErrPermissionDenied},
		{name: "permission text", err: errors.New("Permission denied by user"), kind: errs.ErrPermissionDenied},
		{name: "not found", err: domError{"NotFoundError"}, kind: errs.ErrDeviceNotFound},
		{name: "busy", err: domError{"NotReadableError"}, kind: errs.ErrDeviceBusy},
		{name: "generic", err: errors.New("Can not start scanning"), kind: errs.ErrStartFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCapability{startErr: tt.err}
			c := newController(t, f)

			err := wait(t, c.Start(context.Background()))
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Start error = %v, want kind %v", err, tt.kind)
			}
			var ce *CameraError
			if !errors.As(err, &ce) || ce.Message() != Message(tt.kind) {
				t.Fatalf("expected CameraError with message %q, got %v", Message(tt.kind), err)
			}
			if c.State() != Idle {
				t.Fatalf("state = %v, want idle", c.State())
			}
			if !errors.Is(c.LastError(), tt.kind) {
				t.Errorf("LastError = %v", c.LastError())
			}

			f.mu.Lock()
			f.startErr = nil
			f.mu.Unlock()
			if err := wait(t, c.Start(context.Background())); err != nil {
				t.Fatalf("retry: %v", err)
			}
			if c.LastError() != nil {
				t.Errorf("LastError should clear after a successful start, got %v", c.LastError())
			}
		})
	}
}

func TestStart_AlreadyRunningIsSuccess(t *testing.T) {
	f := &fakeCapability{startErr: errors.New("Scanner is already running")}
	c := newController(t, f)
	if err := wait(t, c.Start(context.Background())); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() {
		t.Fatalf("state = %v, want running", c.State())
	}
}

func TestStart_Panic(t *testing.T) {
	f := &fakeCapability{panicOn: "start"}
	c := newController(t, f)
	err := wait(t, c.Start(context.Background()))
	if !errors.Is(err, errs.ErrStartFailed) {
		t.Fatalf("Start error = %v, want ErrStartFailed", err)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestDecode_StopsBeforeHandler(t *testing.T) {
	f := &fakeCapability{}
	c := newController(t, f)

	type observed struct {
		text   string
		state  State
		stops  int
		clears int
	}
	got := make(chan observed, 1)
	c.OnDecode(func(text string) {
		_, stops, clears := f.counts()
		got <- observed{text: text, state: c.State(), stops: stops, clears: clears}
	})

	if err := wait(t, c.Start(context.Background())); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.emit("https://youtu.be/dQw4w9WgXcQ")
	f.emit("https://youtu.be/dQw4w9WgXcQ")

	select {
	case o := <-got:
		if o.text != "https://youtu.be/dQw4w9WgXcQ" {
			t.Errorf("text = %q", o.text)
		}
		if o.state != Idle || o.stops != 1 || o.clears != 1 {
			t.Errorf("handler observed %+v; want idle after one stop and clear", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decode handler not called")
	}

	select {
	case o := <-got:
		t.Fatalf("second decode should be dropped, got %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDecode_StaleSessionDropped(t *testing.T) {
	f := &fakeCapability{}
	c := newController(t, f)
	calls := make(chan string, 2)
	c.OnDecode(func(text string) { calls <- text })

	wait(t, c.Start(context.Background()))
	f.mu.Lock()
	stale := f.onSuccess
	f.mu.Unlock()
	wait(t, c.Stop(context.Background()))
	wait(t, c.Start(context.Background()))

	stale("from the old session")
	select {
	case text := <-calls:
		t.Fatalf("stale decode reached handler: %q", text)
	case <-time.After(50 * time.Millisecond):
	}
	if !c.Running() {
		t.Fatalf("stale decode stopped the new session: %v", c.State())
	}
}

func TestStopDuringStart_LastCallWins(t *testing.T) {
	f := &fakeCapability{startGate: make(chan struct{})}
	c := newController(t, f)

	started := c.Start(context.Background())
	waitFor(t, func() bool { return c.State() == Starting })
	stopped := c.Stop(context.Background())

	close(f.startGate)
	if err := wait(t, started); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := wait(t, stopped); err != nil {
		t.Fatalf("deferred stop: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
	if starts, stops, clears := f.counts(); starts != 1 || stops != 1 || clears != 1 {
		t.Errorf("starts=%d stops=%d clears=%d", starts, stops, clears)
	}
}

func TestStartCancelsPendingStop(t *testing.T) {
	f := &fakeCapability{startGate: make(chan struct{})}
	c := newController(t, f)

	started := c.Start(context.Background())
	waitFor(t, func() bool { return c.State() == Starting })
	stopped := c.Stop(context.Background())
	if err := wait(t, c.Start(context.Background())); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := wait(t, stopped); err != nil {
		t.Fatalf("cancelled stop should resolve nil, got %v", err)
	}

	close(f.startGate)
	wait(t, started)
	if !c.Running() {
		t.Fatalf("state = %v, want running", c.State())
	}
	if _, stops, _ := f.counts(); stops != 0 {
		t.Errorf("stop should have been cancelled, got %d stops", stops)
	}
}

func TestStartDuringStop_Deferred(t *testing.T) {
	f := &fakeCapability{stopGate: make(chan struct{})}
	c := newController(t, f)
	wait(t, c.Start(context.Background()))

	stopped := c.Stop(context.Background())
	waitFor(t, func() bool { return c.State() == Stopping })
	restarted := c.Start(context.Background())
	if err := wait(t, c.Stop(context.Background())); err != nil {
		t.Fatalf("collapsed stop: %v", err)
	}
	if err := wait(t, restarted); err != nil {
		t.Fatalf("cancelled start should resolve nil, got %v", err)
	}
	again := c.Start(context.Background())

	close(f.stopGate)
	if err := wait(t, stopped); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := wait(t, again); err != nil {
		t.Fatalf("deferred start: %v", err)
	}
	if !c.Running() {
		t.Fatalf("state = %v, want running", c.State())
	}
	if starts, stops, _ := f.counts(); starts != 2 || stops != 1 {
		t.Errorf("starts=%d stops=%d, want 2/1", starts, stops)
	}
}

func TestDecode_StopInHandlerCancelsDeferredStart(t *testing.T) {
	f := &fakeCapability{stopGate: make(chan struct{})}
	c := newController(t, f)

	handled := make(chan error, 1)
	c.OnDecode(func(text string) {
		handled <- <-c.Stop(context.Background())
	})

	wait(t, c.Start(context.Background()))
	f.emit("https://youtu.be/dQw4w9WgXcQ")
	waitFor(t, func() bool { return c.State() == Stopping })
	restarted := c.Start(context.Background())
	close(f.stopGate)

	if err := wait(t, handled); err != nil {
		t.Fatalf("stop in handler: %v", err)
	}
	if err := wait(t, restarted); err != nil {
		t.Fatalf("cancelled start should resolve nil, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle: the last call was Stop", c.State())
	}
	if starts, _, _ := f.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}
}

func TestWithConfig(t *testing.T) {
	f := &fakeCapability{}
	c := newController(t, f).WithConfig(Config{FPS: 5, QRBox: Box{200, 200}})
	wait(t, c.Start(context.Background()))
	if f.lastCfg.FPS != 5 || f.lastCfg.Facing != FacingEnvironment {
		t.Errorf("unexpected config %+v", f.lastCfg)
	}
}

func TestStateString(t *testing.T) {
	if Running.String() != "running" || State(42).String() != "State(42)" {
		t.Errorf("unexpected state names %q %q", Running, State(42))
	}
}
