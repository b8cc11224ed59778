package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/game"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/internal/web"
	"github.com/ytget/qrplay/scanner"
	"github.com/ytget/qrplay/scanner/script"
	"github.com/ytget/qrplay/scanner/zbar"
	"github.com/ytget/qrplay/youtube/embed"
	"github.com/ytget/qrplay/youtube/link"
)

// mountID names the scanner mount point, as the page does.
const mountID = "reader"

const lookupTimeout = 5 * time.Second

const playHelp = `Commands:
  <url>    load a pasted link (or feed it to a running script scanner)
  scan     start the camera
  stop     stop the camera
  play     start the hidden player
  reveal   show the video and its title
  reset    next card
  state    print the round state
  quit     exit
`

func runPlay(ctx context.Context, args []string, lookup web.InfoLookup, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := newFlagSet("play", "[flags]", stderr)
	flagScanner := fs.String("scanner", "zbar", "Camera backend: zbar, script or none")
	flagScript := fs.String("script", "", "Scanner script for -scanner script")
	flagEngine := fs.String("engine", string(script.EngineGoja), "Script engine: goja or otto")
	flagDevice := fs.String("device", "", "Video device for zbarcam (e.g., /dev/video0)")
	flagOrigin := fs.String("origin", "", "Page origin added to embed URLs")
	flagDelay := fs.Duration("play-delay", embed.PlayDelay, "Delay before the play command is sent")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var factory scanner.Factory
	switch *flagScanner {
	case "zbar":
		factory = zbar.Factory(*flagDevice)
	case "script":
		if *flagScript == "" {
			fmt.Fprintln(stderr, "-script is required with -scanner script")
			return 2
		}
		factory = script.Factory(*flagScript, script.Engine(*flagEngine))
	case "none":
	default:
		fmt.Fprintf(stderr, "Unknown scanner %q\n", *flagScanner)
		fs.Usage()
		return 2
	}

	s := newSession(stdout, lookup, game.Options{Origin: *flagOrigin, PlayDelay: *flagDelay}, factory)
	defer s.close()
	s.printf("%s", playHelp)
	s.run(ctx, stdin)
	return 0
}

// session is one terminal game. Output from decode callbacks and timers is
// serialized with the prompt loop.
type session struct {
	game    *game.Game
	scanner *scanner.Controller
	feeder  *script.Capability
	lookup  web.InfoLookup
	log     *logger.ComponentLogger

	mu  sync.Mutex
	out io.Writer
}

// newSession builds the game. A nil factory, or one that fails, leaves the
// session without a camera; pasted links still work.
func newSession(out io.Writer, lookup web.InfoLookup, opts game.Options, factory scanner.Factory) *session {
	s := &session{
		out:    out,
		lookup: lookup,
		log:    logger.WithComponent(logger.ComponentApp),
	}
	opts.Mounter = &consoleMounter{s: s}
	opts.Notify = func(msg string) {
		if msg != "" {
			s.printf("! %s\n", msg)
		}
	}

	if factory != nil {
		ctrl, err := scanner.New(mountID, func(id string) (scanner.Capability, error) {
			c, err := factory(id)
			if sc, ok := c.(*script.Capability); ok {
				s.feeder = sc
			}
			return c, err
		})
		if err != nil {
			s.printf("Scanner unavailable: %v\n", err)
		} else {
			s.scanner = ctrl
			opts.Scanner = ctrl
		}
	}

	s.game = game.New(opts)
	if s.scanner != nil {
		s.scanner.OnDecode(s.decoded)
	}
	return s
}

func (s *session) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// run reads commands until quit, EOF or ctx is done.
func (s *session) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !s.handle(ctx, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handle runs one command. It reports false when the session should end.
func (s *session) handle(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "":
	case "quit", "exit":
		return false
	case "help", "?":
		s.printf("%s", playHelp)
	case "scan":
		if err := s.game.Scan(ctx); err != nil {
			if errors.Is(err, errs.ErrCapabilityUnavailable) {
				s.printf("No camera configured. Paste a link instead.\n")
			}
			return true
		}
		s.printf("Scanning. Hold a card up to the camera.\n")
	case "stop":
		if err := s.game.StopScan(ctx); err != nil {
			s.printf("Stop failed: %v\n", err)
		}
	case "play":
		if _, err := s.game.Play(); err != nil {
			s.log.Debug("Play refused", map[string]interface{}{"error": err})
		}
	case "reveal":
		s.reveal(ctx)
	case "reset", "next":
		s.game.Reset()
		s.printf("Ready for the next card.\n")
	case "state":
		st := s.game.Snapshot()
		s.printf("view=%s reference=%s playing=%v revealed=%v\n", st.View, st.Reference, st.Playing, st.Revealed)
	default:
		s.input(ctx, line)
	}
	return true
}

// input treats a non-command line as scanner input while a script scanner is
// running and as a pasted link otherwise.
func (s *session) input(ctx context.Context, line string) {
	if s.feeder != nil && s.feeder.Running() {
		if err := s.feeder.Feed(ctx, line); err != nil {
			s.printf("Scanner rejected input: %v\n", err)
		}
		return
	}

	if s.scanner != nil && s.scanner.Running() {
		_ = s.game.StopScan(ctx)
	}
	if err := s.game.Load(line); err != nil {
		s.printf("! %s\n", game.MsgInvalidCode)
		return
	}
	s.printf("Loaded %s. Type play.\n", s.game.Reference())
}

func (s *session) decoded(text string) {
	s.game.HandleDecoded(text)
	if link.Resolve(text).Valid() {
		s.printf("Scanned %s. Type play.\n", s.game.Reference())
	}
}

func (s *session) reveal(ctx context.Context) {
	if err := s.game.Reveal(); err != nil {
		s.printf("Nothing is playing.\n")
		return
	}
	ref := s.game.Reference()
	if s.lookup == nil {
		s.printf("Revealed %s\n", ref.WatchURL())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	info, err := s.lookup.Lookup(ctx, ref)
	if err != nil {
		s.log.Warn("Metadata lookup failed", map[string]interface{}{"ref": ref.String(), "error": err})
		s.printf("Revealed %s\n", ref.WatchURL())
		return
	}
	if info.Author != "" {
		s.printf("Revealed: %s by %s\n", info.Title, info.Author)
		return
	}
	s.printf("Revealed: %s\n", info.Title)
}

// close releases the camera and tears the player down.
func (s *session) close() {
	if s.scanner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.game.StopScan(ctx)
		cancel()
	}
	s.game.Reset()
}

// consoleMounter stands in for the iframe: it prints what the page would embed.
type consoleMounter struct {
	s *session
}

func (m *consoleMounter) Mount(f embed.Frame) (game.Frame, error) {
	m.s.printf("Player (hidden): %s\n", f.Src)
	return consoleFrame{s: m.s}, nil
}

func (m *consoleMounter) Unmount() {}

type consoleFrame struct {
	s *session
}

func (f consoleFrame) PostMessage(message []byte, targetOrigin string) error {
	f.s.printf("Playing. Type reveal when you have guessed.\n")
	f.s.log.Debug("Play command", map[string]interface{}{"message": string(message), "origin": targetOrigin})
	return nil
}
