package storage

import (
	"context"
	"database/sql"
	"time"
)

// InfractionRow is one ledger entry. Rows are append-only: a clear
// operation flips active to false but never deletes history.
type InfractionRow struct {
	ID                  int64
	GuildID             string
	UserID              string
	ModeratorID         string
	Source              string
	Type                string
	Reason              string
	RuleID              int64
	MatchedContent      string
	MatchedPattern      string
	PointsAssigned      int
	TotalPointsAfter    int
	EscalationTriggered string
	ExpiresAt           *time.Time
	Active              bool
	CreatedAt           time.Time
}

// InfractionFilter narrows history queries; zero values mean no filter.
type InfractionFilter struct {
	Source string
	Type   string
	Limit  int
	Offset int
}

// GuildInfractionStats is a reporting aggregate.
type GuildInfractionStats struct {
	Total    int
	Active   int
	BySource map[string]int
	ByType   map[string]int
	Recent   []InfractionRow
}

const activePredicate = `active = 1 AND (expires_at IS NULL OR expires_at > ?)`

// InsertInfraction writes one row inside a transaction, computing the
// total_points_after snapshot from the then-current active sum plus the
// new assignment. The snapshot is never recomputed retroactively.
func (s *Store) InsertInfraction(ctx context.Context, row InfractionRow, now time.Time) (InfractionRow, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InfractionRow{}, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT SUM(points_assigned) FROM infractions
		WHERE guild_id = ? AND user_id = ? AND `+activePredicate,
		row.GuildID, row.UserID, now.Unix(),
	).Scan(&current)
	if err != nil {
		return InfractionRow{}, 0, err
	}

	total := int(current.Int64) + row.PointsAssigned
	row.TotalPointsAfter = total
	row.Active = true
	row.CreatedAt = now

	var expires any
	if row.ExpiresAt != nil {
		expires = row.ExpiresAt.Unix()
	}
	var moderator any
	if row.ModeratorID != "" {
		moderator = row.ModeratorID
	}
	var ruleID any
	if row.RuleID != 0 {
		ruleID = row.RuleID
	}
	var escalation any
	if row.EscalationTriggered != "" {
		escalation = row.EscalationTriggered
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO infractions (
			guild_id, user_id, moderator_id, source, type, reason, rule_id,
			matched_content, matched_pattern, points_assigned, total_points_after,
			escalation_triggered, expires_at, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`,
		row.GuildID, row.UserID, moderator, row.Source, row.Type, row.Reason, ruleID,
		row.MatchedContent, row.MatchedPattern, row.PointsAssigned, total,
		escalation, expires, now.Unix(),
	)
	if err != nil {
		return InfractionRow{}, 0, err
	}
	row.ID, err = result.LastInsertId()
	if err != nil {
		return InfractionRow{}, 0, err
	}
	if err = tx.Commit(); err != nil {
		return InfractionRow{}, 0, err
	}
	return row, total, nil
}

// SumActivePoints returns the live point total for a user.
func (s *Store) SumActivePoints(ctx context.Context, guildID, userID string, now time.Time) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(points_assigned) FROM infractions
		WHERE guild_id = ? AND user_id = ? AND `+activePredicate,
		guildID, userID, now.Unix(),
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// ListInfractions returns a user's history newest-first plus the total
// row count for the same filter.
func (s *Store) ListInfractions(ctx context.Context, guildID, userID string, filter InfractionFilter) ([]InfractionRow, int, error) {
	where := `WHERE guild_id = ? AND user_id = ?`
	args := []any{guildID, userID}
	if filter.Source != "" {
		where += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Type != "" {
		where += ` AND type = ?`
		args = append(args, filter.Type)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM infractions `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, COALESCE(moderator_id, ''), source, type, reason,
		COALESCE(rule_id, 0), matched_content, matched_pattern, points_assigned,
		total_points_after, COALESCE(escalation_triggered, ''), expires_at, active, created_at
		FROM infractions `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := scanInfractions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ClearInfractions deactivates all currently-active rows for a user and
// returns the number of rows modified.
func (s *Store) ClearInfractions(ctx context.Context, guildID, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE infractions SET active = 0
		WHERE guild_id = ? AND user_id = ? AND active = 1
	`, guildID, userID)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// GuildInfractionStats aggregates counts for reporting.
func (s *Store) GuildInfractionStats(ctx context.Context, guildID string, now time.Time) (GuildInfractionStats, error) {
	stats := GuildInfractionStats{
		BySource: make(map[string]int),
		ByType:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, type, COUNT(*) FROM infractions
		WHERE guild_id = ? GROUP BY source, type`, guildID)
	if err != nil {
		return GuildInfractionStats{}, err
	}
	for rows.Next() {
		var source, kind string
		var count int
		if err := rows.Scan(&source, &kind, &count); err != nil {
			rows.Close()
			return GuildInfractionStats{}, err
		}
		stats.Total += count
		stats.BySource[source] += count
		stats.ByType[kind] += count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return GuildInfractionStats{}, err
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM infractions
		WHERE guild_id = ? AND `+activePredicate, guildID, now.Unix(),
	).Scan(&stats.Active)
	if err != nil {
		return GuildInfractionStats{}, err
	}

	recent, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, COALESCE(moderator_id, ''), source, type, reason,
		COALESCE(rule_id, 0), matched_content, matched_pattern, points_assigned,
		total_points_after, COALESCE(escalation_triggered, ''), expires_at, active, created_at
		FROM infractions
		WHERE guild_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 10`, guildID)
	if err != nil {
		return GuildInfractionStats{}, err
	}
	defer recent.Close()

	stats.Recent, err = scanInfractions(recent)
	if err != nil {
		return GuildInfractionStats{}, err
	}
	return stats, nil
}

func scanInfractions(rows *sql.Rows) ([]InfractionRow, error) {
	var out []InfractionRow
	for rows.Next() {
		var row InfractionRow
		var expires sql.NullInt64
		var active int
		var created int64
		if err := rows.Scan(
			&row.ID, &row.GuildID, &row.UserID, &row.ModeratorID, &row.Source,
			&row.Type, &row.Reason, &row.RuleID, &row.MatchedContent,
			&row.MatchedPattern, &row.PointsAssigned, &row.TotalPointsAfter,
			&row.EscalationTriggered, &expires, &active, &created,
		); err != nil {
			return nil, err
		}
		if expires.Valid {
			value := time.Unix(expires.Int64, 0)
			row.ExpiresAt = &value
		}
		row.Active = active == 1
		row.CreatedAt = time.Unix(created, 0)
		out = append(out, row)
	}
	return out, rows.Err()
}
