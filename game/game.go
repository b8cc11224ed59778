// Package game holds the state of one listening round: which view is shown,
// what was scanned, whether the player frame is mounted and whether it has
// been revealed.
//
// A round goes Scanner view -> Load (scan or paste) -> Game view -> Play ->
// Reveal, and Reset returns to the Scanner view.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/scanner"
	"github.com/ytget/qrplay/types"
	"github.com/ytget/qrplay/youtube/embed"
	"github.com/ytget/qrplay/youtube/link"
)

// User-facing notices.
const (
	MsgInvalidCode   = "Invalid QR code. Only YouTube links are supported."
	MsgNothingLoaded = "No video loaded."
	MsgEmbedFailed   = "Could not create the player."
)

// View is the screen currently shown.
type View int

const (
	ViewScanner View = iota
	ViewGame
)

func (v View) String() string {
	if v == ViewGame {
		return "game"
	}
	return "scanner"
}

// MarshalText implements encoding.TextMarshaler
func (v View) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (v *View) UnmarshalText(b []byte) error {
	switch string(b) {
	case "scanner":
		*v = ViewScanner
	case "game":
		*v = ViewGame
	default:
		return fmt.Errorf("unknown view %q", b)
	}
	return nil
}

// Scanner is the camera session the game drives. *scanner.Controller
// implements it.
type Scanner interface {
	Start(ctx context.Context) <-chan error
	Stop(ctx context.Context) <-chan error
}

// Frame is a mounted player frame.
type Frame interface {
	PostMessage(message []byte, targetOrigin string) error
}

// Mounter renders the player frame. Mount replaces any previous frame.
// Implementations must not call back into the Game.
type Mounter interface {
	Mount(f embed.Frame) (Frame, error)
	Unmount()
}

// Options configures a Game. All fields are optional.
type Options struct {
	Scanner Scanner
	Mounter Mounter
	// Notify receives user-facing notices; an empty string clears the last one.
	Notify func(message string)
	// Origin is the page origin passed to the embed endpoint.
	Origin string
	// PlayDelay overrides embed.PlayDelay.
	PlayDelay time.Duration
}

// Playback is what a caller needs to start the player itself.
type Playback struct {
	EmbedURL string          `json:"embedUrl"`
	Frame    embed.Frame     `json:"-"`
	Command  json.RawMessage `json:"command"`
	Delay    time.Duration   `json:"-"`
}

// State is a read-only snapshot for rendering.
type State struct {
	View      View                 `json:"view"`
	Reference types.MediaReference `json:"reference"`
	Playing   bool                 `json:"playing"`
	Revealed  bool                 `json:"revealed"`
	EmbedURL  string               `json:"embedUrl,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// Game is safe for concurrent use.
type Game struct {
	scanner Scanner
	mounter Mounter
	notify  func(string)
	origin  string
	delay   time.Duration
	log     *logger.ComponentLogger

	mu       sync.Mutex
	view     View
	ref      types.MediaReference
	playing  bool
	revealed bool
	embedURL string
	message  string
	frame    Frame
	timer    *time.Timer
	gen      uint64
}

// New returns a game in the Scanner view.
func New(opts Options) *Game {
	delay := opts.PlayDelay
	if delay <= 0 {
		delay = embed.PlayDelay
	}
	return &Game{
		scanner: opts.Scanner,
		mounter: opts.Mounter,
		notify:  opts.Notify,
		origin:  opts.Origin,
		delay:   delay,
		log:     logger.WithComponent(logger.ComponentGame),
	}
}

// Scan starts the camera and waits for the outcome. A failure is reported
// through the notifier with its user-facing reason; success clears the last
// notice.
func (g *Game) Scan(ctx context.Context) error {
	if g.scanner == nil {
		return errs.ErrCapabilityUnavailable
	}
	var err error
	select {
	case err = <-g.scanner.Start(ctx):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		g.setMessage(scanner.Message(err))
		return err
	}
	g.setMessage("")
	return nil
}

// StopScan releases the camera and waits for the stop sequence.
func (g *Game) StopScan(ctx context.Context) error {
	if g.scanner == nil {
		return nil
	}
	select {
	case err := <-g.scanner.Stop(ctx):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load resolves input, stores the reference and switches to the Game view.
// Unrecognised input leaves the state untouched.
func (g *Game) Load(input string) error {
	ref := link.Resolve(input)
	if !ref.Valid() {
		return fmt.Errorf("%q: %w", input, errs.ErrInputUnrecognized)
	}
	g.load(ref)
	return nil
}

// HandleDecoded is the decode handler for the scanner. The camera has already
// been stopped when it runs and is not restarted on bad input.
func (g *Game) HandleDecoded(text string) {
	ref := link.Resolve(text)
	if !ref.Valid() {
		g.log.Info("Decoded text is not a supported link", map[string]interface{}{"text": text})
		g.setMessage(MsgInvalidCode)
		return
	}
	g.load(ref)
}

func (g *Game) load(ref types.MediaReference) {
	g.mu.Lock()
	g.teardownLocked()
	g.ref = ref
	g.view = ViewGame
	g.revealed = false
	g.mu.Unlock()

	g.log.Info("Loaded", map[string]interface{}{"service": ref.Service(), "id": ref.VideoID()})
	if g.scanner != nil {
		// Fire and forget; the decode path has stopped it already.
		g.scanner.Stop(context.Background())
	}
}

// Play mounts the player for the loaded reference and schedules the play
// command. Calling it again remounts the frame.
func (g *Game) Play() (Playback, error) {
	g.mu.Lock()
	if !g.ref.Valid() {
		g.mu.Unlock()
		g.setMessage(MsgNothingLoaded)
		return Playback{}, errs.ErrNothingLoaded
	}
	frame, ok := embed.NewFrame(g.ref, g.origin)
	if !ok {
		g.mu.Unlock()
		g.setMessage(MsgEmbedFailed)
		return Playback{}, errs.ErrEmbedFailed
	}

	g.teardownLocked()
	var mounted Frame
	if g.mounter != nil {
		var err error
		if mounted, err = g.mounter.Mount(frame); err != nil {
			g.mu.Unlock()
			g.log.Error("Mount failed", map[string]interface{}{"error": err})
			g.setMessage(MsgEmbedFailed)
			return Playback{}, fmt.Errorf("%w: %w", errs.ErrEmbedFailed, err)
		}
	}
	g.frame = mounted
	g.playing = true
	g.embedURL = frame.Src
	g.gen++
	if mounted != nil {
		gen := g.gen
		g.timer = time.AfterFunc(g.delay, func() { g.sendPlay(gen) })
	}
	g.mu.Unlock()

	g.setMessage("")
	g.log.Info("Playing", map[string]interface{}{"url": frame.Src})
	return Playback{
		EmbedURL: frame.Src,
		Frame:    frame,
		Command:  embed.PlayCommand(),
		Delay:    g.delay,
	}, nil
}

// sendPlay posts the play command unless the frame it was scheduled for has
// been torn down.
func (g *Game) sendPlay(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || g.frame == nil {
		g.mu.Unlock()
		return
	}
	frame := g.frame
	g.timer = nil
	g.mu.Unlock()

	if err := frame.PostMessage(embed.PlayCommand(), embed.TargetOrigin); err != nil {
		g.log.Warn("Play command failed", map[string]interface{}{"error": err})
		return
	}
	g.log.Debug("Sent play command")
}

// Reveal lifts the gate on the playing frame. Revealing twice is a no-op.
func (g *Game) Reveal() error {
	g.mu.Lock()
	if !g.playing {
		g.mu.Unlock()
		return errs.ErrNotPlaying
	}
	if g.revealed {
		g.mu.Unlock()
		return nil
	}
	g.revealed = true
	frame := g.frame
	g.mu.Unlock()

	if f, ok := frame.(interface{ Focus() }); ok {
		f.Focus()
	}
	g.log.Info("Revealed")
	return nil
}

// Reset returns to the Scanner view and forgets the round.
func (g *Game) Reset() {
	g.mu.Lock()
	g.teardownLocked()
	g.view = ViewScanner
	g.ref = types.MediaReference{}
	g.revealed = false
	g.mu.Unlock()

	g.setMessage("")
	g.log.Debug("Reset")
}

// Reference returns the loaded reference, or the None reference.
func (g *Game) Reference() types.MediaReference {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ref
}

// Snapshot returns the current state.
func (g *Game) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		View:      g.view,
		Reference: g.ref,
		Playing:   g.playing,
		Revealed:  g.revealed,
		EmbedURL:  g.embedURL,
		Message:   g.message,
	}
}

// teardownLocked stops the pending play command and unmounts the frame.
// Must be called with g.mu held.
func (g *Game) teardownLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.frame != nil && g.mounter != nil {
		g.mounter.Unmount()
	}
	g.frame = nil
	g.playing = false
	g.embedURL = ""
	g.gen++
}

// setMessage reports every notice, including a repeat of the last one, and
// skips clearing an already empty notice.
func (g *Game) setMessage(msg string) {
	g.mu.Lock()
	changed := msg != "" || g.message != ""
	g.message = msg
	notify := g.notify
	g.mu.Unlock()

	if changed && notify != nil {
		notify(msg)
	}
}
