package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

type GuildSettings struct {
	GuildID           string
	LogChannel        string
	Mode              string
	PointDecayEnabled bool
	PointDecayDays    int
	EscalationRearm   bool
	EscalationTiers   []TierRow
}

// TierRow is the stored form of one escalation tier.
type TierRow struct {
	Threshold      int      `json:"threshold"`
	Actions        []string `json:"actions"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT log_channel, mode, point_decay_enabled, point_decay_days,
		escalation_rearm, escalation_tiers
		FROM guild_settings WHERE guild_id = ?`, guildID)

	result := defaults
	result.GuildID = guildID

	var decayEnabled, rearm int
	var tiers string
	err := row.Scan(
		&result.LogChannel,
		&result.Mode,
		&decayEnabled,
		&result.PointDecayDays,
		&rearm,
		&tiers,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}
	result.PointDecayEnabled = decayEnabled == 1
	result.EscalationRearm = rearm == 1
	result.EscalationTiers = nil
	if err := json.Unmarshal([]byte(tiers), &result.EscalationTiers); err != nil {
		return GuildSettings{}, fmt.Errorf("decode escalation tiers: %w", err)
	}
	if len(result.EscalationTiers) == 0 {
		result.EscalationTiers = defaults.EscalationTiers
	}
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	tiers := []byte("[]")
	if settings.EscalationTiers != nil {
		encoded, err := json.Marshal(settings.EscalationTiers)
		if err != nil {
			return fmt.Errorf("encode escalation tiers: %w", err)
		}
		tiers = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, log_channel, mode, point_decay_enabled, point_decay_days,
			escalation_rearm, escalation_tiers
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			log_channel = excluded.log_channel,
			mode = excluded.mode,
			point_decay_enabled = excluded.point_decay_enabled,
			point_decay_days = excluded.point_decay_days,
			escalation_rearm = excluded.escalation_rearm,
			escalation_tiers = excluded.escalation_tiers
	`,
		settings.GuildID,
		settings.LogChannel,
		settings.Mode,
		boolToInt(settings.PointDecayEnabled),
		settings.PointDecayDays,
		boolToInt(settings.EscalationRearm),
		string(tiers),
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	return err
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
