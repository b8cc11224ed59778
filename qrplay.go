package qrplay

import (
	"fmt"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/types"
	"github.com/ytget/qrplay/youtube/embed"
	"github.com/ytget/qrplay/youtube/link"
)

// MediaReference identifies a playable video.
type MediaReference = types.MediaReference

// Resolve extracts the video reference from a scanned or pasted link. Anything
// unrecognised yields the None reference.
func Resolve(input string) MediaReference {
	return link.Resolve(input)
}

// EmbedURL resolves input and returns the embed URL for it. origin is the page
// the player will be embedded in and may be empty.
func EmbedURL(input, origin string) (string, error) {
	ref := link.Resolve(input)
	u, ok := embed.BuildURL(ref, origin)
	if !ok {
		return "", fmt.Errorf("%q: %w", input, errs.ErrInputUnrecognized)
	}
	return u, nil
}
