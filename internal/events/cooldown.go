package events

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cooldown suppresses repeat events per (camera, class) inside a
// fixed window. Bounded by an LRU so a scan across many cameras can
// never grow it without limit.
type Cooldown struct {
	cache  *lru.Cache[string, time.Time]
	window time.Duration
}

func NewCooldown(maxKeys int, window time.Duration) *Cooldown {
	if maxKeys < 1 {
		maxKeys = 1024
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Cooldown{cache: c, window: window}
}

// Suppressed reports whether an event for (cameraID, class) falls
// inside the active window. It never opens one; a window starts only
// with an explicit Open, so a failed persist does not suppress the
// retry.
func (c *Cooldown) Suppressed(cameraID int, class string) bool {
	if at, ok := c.cache.Get(cooldownKey(cameraID, class)); ok {
		return time.Since(at) < c.window
	}
	return false
}

// Open starts a new window for (cameraID, class).
func (c *Cooldown) Open(cameraID int, class string) {
	c.cache.Add(cooldownKey(cameraID, class), time.Now())
}

func cooldownKey(cameraID int, class string) string {
	return fmt.Sprintf("%d|%s", cameraID, class)
}
