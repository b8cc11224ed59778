// Package embed builds the YouTube embed endpoint URL and the command
// messages the embedded player accepts.
package embed

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/ytget/qrplay/types"
)

const (
	endpoint = "https://www.youtube.com/embed/"

	// Title is the accessible title of the player frame.
	Title = "YouTube Player"
	// Allow is the iframe permission list the player needs for autoplay.
	Allow = "autoplay; encrypted-media; fullscreen; picture-in-picture; web-share"
	// TargetOrigin is the postMessage target used for play commands.
	TargetOrigin = "*"
)

// PlayDelay is how long callers wait after mounting the frame before sending
// PlayCommand. The player gives no readiness signal without the JS API, so
// this is a heuristic.
const PlayDelay = 500 * time.Millisecond

// fixedParams are sent with every embed URL.
var fixedParams = [][2]string{
	{"autoplay", "1"},
	{"controls", "0"},
	{"modestbranding", "1"},
	{"rel", "0"},
	{"playsinline", "1"},
	{"enablejsapi", "1"},
}

// BuildURL returns the embed URL for ref. The origin parameter is added only
// for http(s) origins. It reports false for the None reference.
func BuildURL(ref types.MediaReference, origin string) (string, bool) {
	if !ref.Valid() {
		return "", false
	}
	q := url.Values{}
	for _, p := range fixedParams {
		q.Set(p[0], p[1])
	}
	if o, ok := Origin(origin); ok {
		q.Set("origin", o)
	}
	return endpoint + url.PathEscape(ref.VideoID()) + "?" + q.Encode(), true
}

// Origin reduces rawURL to scheme://host[:port]. Only http and https are accepted.
func Origin(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}

// Command is the message shape understood by the player's JS API.
type Command struct {
	Event string        `json:"event"`
	Func  string        `json:"func"`
	Args  []interface{} `json:"args"`
}

var playCommand = mustMarshal(Command{Event: "command", Func: "playVideo", Args: []interface{}{}})

// PlayCommand returns {"event":"command","func":"playVideo","args":[]}.
func PlayCommand() []byte {
	out := make([]byte, len(playCommand))
	copy(out, playCommand)
	return out
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Frame carries everything needed to render the player iframe.
type Frame struct {
	Src             string
	Title           string
	Allow           string
	Loading         string
	AllowFullscreen bool
}

// NewFrame builds the frame description for ref.
func NewFrame(ref types.MediaReference, origin string) (Frame, bool) {
	src, ok := BuildURL(ref, origin)
	if !ok {
		return Frame{}, false
	}
	return Frame{
		Src:             src,
		Title:           Title,
		Allow:           Allow,
		Loading:         "lazy",
		AllowFullscreen: true,
	}, true
}
