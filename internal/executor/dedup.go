package executor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Dedup drops repeat sightings of the same route at the same prices within a
// TTL, so one spread seen on consecutive ticks is only attempted once. It is
// safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given TTL.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// DedupKey identifies an opportunity by route and price bucket (four
// significant decimals).
func DedupKey(opp domain.Opportunity) string {
	return fmt.Sprintf("%s|%d|%d", opp.Route(), bucket(opp.BuyPrice), bucket(opp.SellPrice))
}

func bucket(price float64) int64 {
	return int64(math.Round(price * 1e4))
}

// Seen reports whether opp was marked within the TTL.
func (d *Dedup) Seen(opp domain.Opportunity) bool {
	key := DedupKey(opp)
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.seen[key]
	return ok && d.now().Sub(last) < d.ttl
}

// Mark records opp so repeat sightings within the TTL are Seen.
func (d *Dedup) Mark(opp domain.Opportunity) {
	key := DedupKey(opp)
	d.mu.Lock()
	d.seen[key] = d.now()
	d.mu.Unlock()
}

// Cleanup forgets expired keys.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
