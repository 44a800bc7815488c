// Package infractions is the append-only points ledger. Writes are
// serialized per (guild, user) so the total_points_after snapshot stays
// monotonic even when events for the same user land concurrently; reads
// fail open (zero/empty) because they sit on the enforcement hot path,
// while a failed write always surfaces to the caller.
package infractions

import (
	"context"
	"sync"
	"time"

	"heimdall/internal/storage"

	"go.uber.org/zap"
)

// Source distinguishes automated from staff-issued infractions.
type Source string

const (
	SourceAutomod Source = "automod"
	SourceManual  Source = "manual"
)

// Type categorizes the event that produced the infraction.
type Type string

const (
	TypeWarn            Type = "warn"
	TypeKick            Type = "kick"
	TypeBan             Type = "ban"
	TypeMute            Type = "mute"
	TypeAutomodDelete   Type = "automod_delete"
	TypeAutomodReaction Type = "automod_reaction"
	TypeAutomodUsername Type = "automod_username"
	TypeEscalation      Type = "escalation"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Record describes one infraction to write. ModeratorID is empty for
// automated entries.
type Record struct {
	GuildID        string
	UserID         string
	ModeratorID    string
	Source         Source
	Type           Type
	Reason         string
	RuleID         int64
	MatchedContent string
	MatchedPattern string
	Points         int
	Escalation     string
}

// DecayPolicy is the guild's point-expiry configuration at write time.
type DecayPolicy struct {
	Enabled bool
	Days    int
}

// Query narrows and pages a history lookup.
type Query struct {
	Source Source
	Type   Type
	Page   int
	Limit  int
}

type Ledger struct {
	store  *storage.Store
	logger *zap.Logger
	clock  Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(store *storage.Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		clock:  realClock{},
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) WithClock(clock Clock) {
	l.clock = clock
}

// RecordInfraction appends one entry and returns it together with the new
// active-points total. Expiry is stamped only on point-bearing entries
// (or escalation markers) and only when the guild has decay enabled;
// everything else never decays. Write failures propagate.
func (l *Ledger) RecordInfraction(ctx context.Context, rec Record, decay DecayPolicy) (storage.InfractionRow, int, error) {
	lock := l.userLock(rec.GuildID, rec.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock.Now()

	var expires *time.Time
	if decay.Enabled && decay.Days > 0 && (rec.Points > 0 || rec.Type == TypeEscalation) {
		value := now.AddDate(0, 0, decay.Days)
		expires = &value
	}

	row := storage.InfractionRow{
		GuildID:             rec.GuildID,
		UserID:              rec.UserID,
		ModeratorID:         rec.ModeratorID,
		Source:              string(rec.Source),
		Type:                string(rec.Type),
		Reason:              rec.Reason,
		RuleID:              rec.RuleID,
		MatchedContent:      rec.MatchedContent,
		MatchedPattern:      rec.MatchedPattern,
		PointsAssigned:      rec.Points,
		EscalationTriggered: rec.Escalation,
		ExpiresAt:           expires,
	}

	inserted, total, err := l.store.InsertInfraction(ctx, row, now)
	if err != nil {
		return storage.InfractionRow{}, 0, err
	}
	return inserted, total, nil
}

// ActivePoints returns the live point total for a user. Fails open: any
// storage error is logged and reported as zero so message processing is
// never blocked by a transient read failure.
func (l *Ledger) ActivePoints(ctx context.Context, guildID, userID string) int {
	total, err := l.store.SumActivePoints(ctx, guildID, userID, l.clock.Now())
	if err != nil {
		l.logger.Warn("active points lookup failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return 0
	}
	return total
}

// UserInfractions returns one page of a user's history, newest first,
// plus the total count for the filter. Degrades to empty on error.
func (l *Ledger) UserInfractions(ctx context.Context, guildID, userID string, q Query) ([]storage.InfractionRow, int) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	items, total, err := l.store.ListInfractions(ctx, guildID, userID, storage.InfractionFilter{
		Source: string(q.Source),
		Type:   string(q.Type),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		l.logger.Warn("infraction history lookup failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, 0
	}
	return items, total
}

// ClearUserInfractions deactivates a user's active entries, preserving
// the rows for audit, and returns the count modified.
func (l *Ledger) ClearUserInfractions(ctx context.Context, guildID, userID string) (int, error) {
	lock := l.userLock(guildID, userID)
	lock.Lock()
	defer lock.Unlock()
	return l.store.ClearInfractions(ctx, guildID, userID)
}

// GuildStats aggregates infraction counts for reporting. Degrades to an
// empty aggregate on error.
func (l *Ledger) GuildStats(ctx context.Context, guildID string) storage.GuildInfractionStats {
	stats, err := l.store.GuildInfractionStats(ctx, guildID, l.clock.Now())
	if err != nil {
		l.logger.Warn("guild stats lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return storage.GuildInfractionStats{
			BySource: map[string]int{},
			ByType:   map[string]int{},
		}
	}
	return stats
}

func (l *Ledger) userLock(guildID, userID string) *sync.Mutex {
	key := guildID + ":" + userID
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[key]
	if lock == nil {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}
