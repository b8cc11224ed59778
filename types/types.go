package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ServiceKind identifies the media service a reference points to.
type ServiceKind int

const (
	None ServiceKind = iota
	YouTube
	YouTubeMusic
)

var serviceNames = map[ServiceKind]string{
	None:         "",
	YouTube:      "youtube",
	YouTubeMusic: "youtubemusic",
}

func (k ServiceKind) String() string {
	if s, ok := serviceNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ServiceKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k ServiceKind) MarshalText() ([]byte, error) {
	if _, ok := serviceNames[k]; !ok {
		return nil, fmt.Errorf("unknown service kind %d", int(k))
	}
	return []byte(serviceNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ServiceKind) UnmarshalText(b []byte) error {
	for kind, name := range serviceNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown service %q", string(b))
}

// videoIDRe matches the 11 character identifier used by YouTube.
var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidVideoID reports whether id looks like a YouTube video identifier.
func ValidVideoID(id string) bool {
	return videoIDRe.MatchString(id)
}

// MediaReference is a resolved (service, identifier) pair describing a playable
// item. The zero value is the None reference. A VideoID is present if and only
// if the service is not None.
type MediaReference struct {
	service ServiceKind
	videoID string
}

// NewMediaReference validates the pair and builds a reference.
func NewMediaReference(service ServiceKind, videoID string) (MediaReference, error) {
	switch service {
	case YouTube, YouTubeMusic:
	default:
		return MediaReference{}, fmt.Errorf("unsupported service %v", service)
	}
	if !ValidVideoID(videoID) {
		return MediaReference{}, fmt.Errorf("invalid video id %q", videoID)
	}
	return MediaReference{service: service, videoID: videoID}, nil
}

// Service returns the service kind.
func (r MediaReference) Service() ServiceKind { return r.service }

// VideoID returns the identifier, empty for the None reference.
func (r MediaReference) VideoID() string { return r.videoID }

// Valid reports whether the reference points to playable media.
func (r MediaReference) Valid() bool { return r.service != None && r.videoID != "" }

// WatchURL returns the canonical watch page for the reference.
func (r MediaReference) WatchURL() string {
	switch r.service {
	case YouTube:
		return "https://www.youtube.com/watch?v=" + r.videoID
	case YouTubeMusic:
		return "https://music.youtube.com/watch?v=" + r.videoID
	default:
		return ""
	}
}

func (r MediaReference) String() string {
	if !r.Valid() {
		return "none"
	}
	return r.service.String() + ":" + r.videoID
}

type referenceJSON struct {
	Service ServiceKind `json:"service"`
	ID      string      `json:"id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r MediaReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(referenceJSON{Service: r.service, ID: r.videoID})
}

// UnmarshalJSON implements json.Unmarshaler. It enforces the same invariant
// as NewMediaReference.
func (r *MediaReference) UnmarshalJSON(b []byte) error {
	var raw referenceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Service == None && raw.ID == "" {
		*r = MediaReference{}
		return nil
	}
	ref, err := NewMediaReference(raw.Service, raw.ID)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// VideoInfo describes what a reference plays. It is shown when the player is revealed.
type VideoInfo struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	AuthorURL    string `json:"authorUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}
