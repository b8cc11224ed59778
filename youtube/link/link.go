// Package link resolves pasted or scanned text into a media reference.
package link

import (
	"net/url"
	"strings"

	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/types"
)

const (
	hostShort   = "youtu.be"
	hostMain    = "youtube.com"
	hostMusic   = "music.youtube.com"
	prefixShort = "/shorts/"
	prefixEmbed = "/embed/"
	queryVideo  = "v"
	segmentID   = 2 // "/shorts/<id>" split on "/" -> ["", "shorts", "<id>"]
)

// Resolve maps arbitrary input to a media reference. Unrecognised input yields
// the None reference; Resolve never fails.
func Resolve(input string) types.MediaReference {
	ref, _ := Parse(input)
	return ref
}

// Parse is the fallible form of Resolve. The boolean is false when the input
// does not name a supported video.
func Parse(input string) (ref types.MediaReference, ok bool) {
	log := logger.WithComponent(logger.ComponentResolver)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Resolve panicked", map[string]interface{}{"input": input, "panic": r})
			ref, ok = types.MediaReference{}, false
		}
	}()

	input = strings.TrimSpace(input)
	u, host := parseStrict(input)
	if !recognizedHost(host) {
		log.Debug("Unrecognized host", map[string]interface{}{"input": input, "host": host})
		return types.MediaReference{}, false
	}

	id := candidateID(u, host)
	if !types.ValidVideoID(id) {
		log.Debug("No valid video id", map[string]interface{}{"input": input, "candidate": id})
		return types.MediaReference{}, false
	}

	service := types.YouTube
	if strings.Contains(host, hostMusic) {
		service = types.YouTubeMusic
	}
	ref, err := types.NewMediaReference(service, id)
	if err != nil {
		return types.MediaReference{}, false
	}
	return ref, true
}

// ValidID reports whether id has the shape of a video identifier.
func ValidID(id string) bool {
	return types.ValidVideoID(id)
}

// parseStrict parses absolute URLs only. A failed parse returns an empty host.
func parseStrict(input string) (*url.URL, string) {
	if input == "" {
		return nil, ""
	}
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return u, host
}

// recognizedHost accepts youtu.be exactly and any host containing youtube.com.
func recognizedHost(host string) bool {
	if host == "" {
		return false
	}
	return host == hostShort || strings.Contains(host, hostMain)
}

func candidateID(u *url.URL, host string) string {
	path := u.EscapedPath()
	if host == hostShort {
		return strings.Split(strings.TrimPrefix(path, "/"), "/")[0]
	}
	if v := u.Query().Get(queryVideo); v != "" {
		return v
	}
	if strings.HasPrefix(path, prefixShort) || strings.HasPrefix(path, prefixEmbed) {
		return pathSegment(path, segmentID)
	}
	return ""
}

func pathSegment(path string, index int) string {
	parts := strings.Split(path, "/")
	if index >= len(parts) {
		return ""
	}
	return parts[index]
}
