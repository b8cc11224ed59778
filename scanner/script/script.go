// Package script implements a scanner capability whose behaviour is defined by
// a JavaScript file.
//
// The script must define the global functions
//
//	start(facing, config, onSuccess, onFailure)
//	stop()
//
// and may define clear(), frame(data) and mount(id). With the goja engine any
// of them may return a Promise; otto scripts are synchronous. Throwing an
// object with a name property (for example {name: "NotAllowedError"}) lets
// scanner.Classify recognise DOM-style camera failures.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/scanner"
)

// Engine selects the JavaScript interpreter.
type Engine string

const (
	EngineGoja Engine = "goja"
	EngineOtto Engine = "otto"
)

const (
	successGlobal = "__qrplaySuccess"
	failureGlobal = "__qrplayFailure"
)

// Error is a value thrown or rejected by the script.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Name == "":
		return e.Message
	case e.Message == "":
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// ErrorName returns the JS error name, e.g. NotAllowedError.
func (e *Error) ErrorName() string { return e.Name }

// global names a value defined in the VM global scope. Passed as a call
// argument it is resolved by the engine instead of converted.
type global string

type engine interface {
	run(name, src string) error
	defined(fn string) bool
	bind(name string, fn func(arg string))
	call(ctx context.Context, fn string, args ...any) error
}

// Capability runs a script as a scanner.Capability.
type Capability struct {
	name string
	log  *logger.ComponentLogger

	vmMu sync.Mutex
	vm   engine

	cbMu      sync.Mutex
	onSuccess func(string)
	onFailure func(error)

	running atomic.Bool
}

// New loads src into the chosen engine. name is used in error positions.
func New(name, src string, kind Engine) (*Capability, error) {
	var vm engine
	switch kind {
	case "", EngineGoja:
		vm = newGojaEngine()
	case EngineOtto:
		vm = newOttoEngine()
	default:
		return nil, fmt.Errorf("unknown script engine %q", kind)
	}

	c := &Capability{
		name: name,
		log:  logger.WithComponent(logger.ComponentScanner),
		vm:   vm,
	}
	vm.bind(successGlobal, c.success)
	vm.bind(failureGlobal, c.failure)

	if err := vm.run(name, src); err != nil {
		return nil, fmt.Errorf("run script %s: %w", name, err)
	}
	for _, fn := range []string{"start", "stop"} {
		if !vm.defined(fn) {
			return nil, fmt.Errorf("script %s: %s function not found", name, fn)
		}
	}
	c.log.Debug("Script capability loaded", map[string]interface{}{"script": name, "engine": string(kind)})
	return c, nil
}

// Load reads the script at path.
func Load(path string, kind Engine) (*Capability, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return New(path, string(src), kind)
}

// Factory returns a scanner.Factory that loads the script at path for every
// mount point and calls its optional mount(id).
func Factory(path string, kind Engine) scanner.Factory {
	return func(mountID string) (scanner.Capability, error) {
		c, err := Load(path, kind)
		if err != nil {
			return nil, err
		}
		if err := c.invokeOptional(context.Background(), "mount", mountID); err != nil {
			return nil, fmt.Errorf("mount %q: %w", mountID, err)
		}
		return c, nil
	}
}

// Start calls start(facing, config, onSuccess, onFailure).
func (c *Capability) Start(ctx context.Context, facing scanner.Facing, cfg scanner.Config, onSuccess func(string), onFailure func(error)) error {
	if c.running.Load() {
		return errors.New("scanner is already running")
	}

	c.cbMu.Lock()
	c.onSuccess, c.onFailure = onSuccess, onFailure
	c.cbMu.Unlock()

	config := map[string]interface{}{
		"fps": cfg.FPS,
		"qrbox": map[string]interface{}{
			"width":  cfg.QRBox.Width,
			"height": cfg.QRBox.Height,
		},
	}

	// Flip before the call: a synchronous script may decode during start.
	c.running.Store(true)
	if err := c.invoke(ctx, "start", string(facing), config, global(successGlobal), global(failureGlobal)); err != nil {
		c.running.Store(false)
		return err
	}
	return nil
}

// Stop calls stop(). It returns errs.ErrNotScanning when the script was not
// started.
func (c *Capability) Stop(ctx context.Context) error {
	if !c.running.Load() {
		return errs.ErrNotScanning
	}
	err := c.invoke(ctx, "stop")
	c.running.Store(false)
	return err
}

// Clear drops the callbacks and calls the optional clear().
func (c *Capability) Clear() error {
	c.cbMu.Lock()
	c.onSuccess, c.onFailure = nil, nil
	c.cbMu.Unlock()
	return c.invokeOptional(context.Background(), "clear")
}

// Feed passes one frame of input to the optional frame(data). Frames are
// ignored while the script is not started.
func (c *Capability) Feed(ctx context.Context, data string) error {
	if !c.running.Load() {
		return errs.ErrNotScanning
	}
	return c.invokeOptional(ctx, "frame", data)
}

// Running reports whether start succeeded and stop has not been called.
func (c *Capability) Running() bool { return c.running.Load() }

func (c *Capability) invoke(ctx context.Context, fn string, args ...any) error {
	c.vmMu.Lock()
	defer c.vmMu.Unlock()
	return c.vm.call(ctx, fn, args...)
}

func (c *Capability) invokeOptional(ctx context.Context, fn string, args ...any) error {
	c.vmMu.Lock()
	defer c.vmMu.Unlock()
	if !c.vm.defined(fn) {
		return nil
	}
	return c.vm.call(ctx, fn, args...)
}

func (c *Capability) success(text string) {
	c.cbMu.Lock()
	fn := c.onSuccess
	c.cbMu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (c *Capability) failure(msg string) {
	c.cbMu.Lock()
	fn := c.onFailure
	c.cbMu.Unlock()
	if fn != nil {
		fn(&Error{Name: "NotFoundException", Message: msg})
	}
}
