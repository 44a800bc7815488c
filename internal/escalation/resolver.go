// Package escalation maps a user's updated active-points total onto the
// guild's configured tier ladder. A tier fires when the new total crosses
// its threshold and the previous total had not; that single comparison is
// what keeps the same tier from re-firing on every later infraction.
package escalation

import (
	"sort"
	"sync"
	"time"

	"heimdall/internal/rules"
)

// Tier is one rung of the ladder: a points threshold and the extra
// actions applied when it is crossed.
type Tier struct {
	Threshold int
	Actions   []rules.Action
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type mark struct {
	highest    int
	lastUpdate time.Time
}

// Config bounds the resolver's in-memory state.
type Config struct {
	// TTL bounds how long high-water marks are kept. Zero means forever.
	TTL time.Duration
}

type Resolver struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock
	marks map[string]*mark
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		cfg:   cfg,
		clock: realClock{},
		marks: make(map[string]*mark),
	}
}

func (r *Resolver) WithClock(clock Clock) {
	r.clock = clock
}

// Resolve returns the tier newly crossed by the move from prev to next
// active points, or nil. When several thresholds are crossed at once the
// highest wins. Tiers may be passed in any order.
//
// With rearm, only the previous total matters, so decaying below a
// threshold and crossing it again fires the tier a second time. Without
// rearm the resolver also remembers the user's highest total and a tier
// only fires above it.
func (r *Resolver) Resolve(guildID, userID string, prev, next int, tiers []Tier, rearm bool) *Tier {
	if len(tiers) == 0 || next <= prev {
		if !rearm {
			r.observe(guildID, userID, next)
		}
		return nil
	}

	floor := prev
	if !rearm {
		if high := r.observe(guildID, userID, next); high > floor {
			floor = high
		}
	}

	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Threshold < ordered[j].Threshold
	})

	var crossed *Tier
	for i := range ordered {
		if ordered[i].Threshold > floor && ordered[i].Threshold <= next {
			crossed = &ordered[i]
		}
	}
	return crossed
}

// Reset forgets a user's high-water mark, re-arming every tier. Called
// when staff clear a user's infractions.
func (r *Resolver) Reset(guildID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.marks, guildID+":"+userID)
}

// observe records the user's latest total and returns the high-water mark
// as it stood before this observation.
func (r *Resolver) observe(guildID, userID string, total int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.sweepLocked(now)

	key := guildID + ":" + userID
	item := r.marks[key]
	if item == nil {
		item = &mark{}
		r.marks[key] = item
	}
	previous := item.highest
	if total > item.highest {
		item.highest = total
	}
	item.lastUpdate = now
	return previous
}

func (r *Resolver) sweepLocked(now time.Time) {
	if r.cfg.TTL <= 0 {
		return
	}
	for key, item := range r.marks {
		if now.Sub(item.lastUpdate) > r.cfg.TTL {
			delete(r.marks, key)
		}
	}
}
