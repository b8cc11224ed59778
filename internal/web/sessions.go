package web

import (
	"time"

	"github.com/goburrow/cache"
	"github.com/google/uuid"

	"github.com/ytget/qrplay/game"
)

const (
	defaultSessionTTL = 2 * time.Hour
	defaultMaxSession = 10000
)

// sessions keeps one game per browser tab. Idle sessions expire.
type sessions struct {
	cache cache.Cache
	delay time.Duration
}

func newSessions(ttl time.Duration, max int, playDelay time.Duration) *sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if max <= 0 {
		max = defaultMaxSession
	}
	return &sessions{
		cache: cache.New(
			cache.WithMaximumSize(max),
			cache.WithExpireAfterAccess(ttl),
		),
		delay: playDelay,
	}
}

// create starts a new round for a page served from origin.
func (s *sessions) create(origin string) (string, *game.Game) {
	id := uuid.NewString()
	g := game.New(game.Options{Origin: origin, PlayDelay: s.delay})
	s.cache.Put(id, g)
	return id, g
}

func (s *sessions) get(id string) (*game.Game, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	v, ok := s.cache.GetIfPresent(id)
	if !ok {
		return nil, false
	}
	return v.(*game.Game), true
}

func (s *sessions) remove(id string) {
	s.cache.Invalidate(id)
}
