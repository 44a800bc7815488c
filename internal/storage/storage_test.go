package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"heimdall/internal/wildcard"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings := GuildSettings{
		GuildID:           "g1",
		LogChannel:        "c1",
		Mode:              "normal",
		PointDecayEnabled: true,
		PointDecayDays:    30,
		EscalationRearm:   true,
		EscalationTiers: []TierRow{
			{Threshold: 5, Actions: []string{"timeout"}, TimeoutSeconds: 600},
			{Threshold: 10, Actions: []string{"kick"}},
		},
	}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	settings.LogChannel = "c2"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LogChannel != "c2" {
		t.Fatalf("expected channel c2, got %q", got.LogChannel)
	}
	if len(got.EscalationTiers) != 2 || got.EscalationTiers[0].Threshold != 5 {
		t.Fatalf("tiers did not round-trip: %+v", got.EscalationTiers)
	}
}

func TestGetGuildSettingsDefaults(t *testing.T) {
	store := newTestStore(t)
	defaults := GuildSettings{
		Mode:              "normal",
		PointDecayEnabled: true,
		PointDecayDays:    14,
		EscalationTiers:   []TierRow{{Threshold: 3, Actions: []string{"timeout"}}},
	}
	got, err := store.GetGuildSettings(context.Background(), "missing", defaults)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PointDecayDays != 14 || len(got.EscalationTiers) != 1 {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestRuleCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	patterns, errs := wildcard.Compile("*badword*")
	if len(errs) > 0 {
		t.Fatalf("compile: %v", errs)
	}

	rule := RuleRow{
		GuildID:        "g1",
		Name:           "no badwords",
		Enabled:        true,
		Priority:       10,
		Target:         "message_content",
		MatchMode:      "any",
		Patterns:       patterns,
		Actions:        []string{"delete", "warn"},
		WarnPoints:     3,
		ChannelExclude: []string{"staff-channel"},
		CreatedAt:      time.Now(),
	}
	id, err := store.CreateRule(ctx, rule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetRule(ctx, "g1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "no badwords" || len(got.Patterns) != 1 || got.Patterns[0].Wildcard != "*badword*" {
		t.Fatalf("rule did not round-trip: %+v", got)
	}
	if len(got.ChannelExclude) != 1 || got.ChannelExclude[0] != "staff-channel" {
		t.Fatalf("scope lists did not round-trip: %+v", got)
	}

	got.Enabled = false
	if err := store.UpdateRule(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	enabled, err := store.ListEnabledRules(ctx, "g1")
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("disabled rule must not be listed as enabled")
	}

	if err := store.DeleteRule(ctx, "g1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRule(ctx, "g1", id); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestCreateRuleRejectsEmptyPatterns(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateRule(context.Background(), RuleRow{
		GuildID: "g1", Name: "empty", Target: "message_content",
		Actions: []string{"delete"}, CreatedAt: time.Now(),
	})
	if err == nil {
		t.Fatalf("expected rejection for empty pattern list")
	}
}

func TestRuleNameUniquePerGuild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	patterns, _ := wildcard.Compile("*x*")
	rule := RuleRow{
		GuildID: "g1", Name: "dupe", Target: "message_content", MatchMode: "any",
		Patterns: patterns, Actions: []string{"delete"}, CreatedAt: time.Now(),
	}
	if _, err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateRule(ctx, rule); err == nil {
		t.Fatalf("duplicate name in the same guild must fail")
	}
	rule.GuildID = "g2"
	if _, err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("same name in another guild should be fine: %v", err)
	}
}

func TestInsertInfractionSnapshotsTotal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	_, total, err := store.InsertInfraction(ctx, InfractionRow{
		GuildID: "g1", UserID: "u1", Source: "automod", Type: "warn", PointsAssigned: 3,
	}, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}

	row, total, err := store.InsertInfraction(ctx, InfractionRow{
		GuildID: "g1", UserID: "u1", Source: "manual", Type: "warn", PointsAssigned: 2,
	}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if total != 5 || row.TotalPointsAfter != 5 {
		t.Fatalf("expected snapshot 5, got %d / %d", total, row.TotalPointsAfter)
	}
}

func TestSumActivePointsSkipsExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(10000, 0)
	past := now.Add(-time.Hour)

	if _, _, err := store.InsertInfraction(ctx, InfractionRow{
		GuildID: "g1", UserID: "u1", Source: "automod", Type: "warn",
		PointsAssigned: 3, ExpiresAt: &past,
	}, past.Add(-time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	total, err := store.SumActivePoints(ctx, "g1", "u1", now)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 0 {
		t.Fatalf("expired infraction must not count, got %d", total)
	}
}

func TestListInfractionsFilterAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(2000, 0)

	for i := 0; i < 12; i++ {
		source := "automod"
		if i%2 == 0 {
			source = "manual"
		}
		if _, _, err := store.InsertInfraction(ctx, InfractionRow{
			GuildID: "g1", UserID: "u1", Source: source, Type: "warn", PointsAssigned: 1,
		}, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	items, total, err := store.ListInfractions(ctx, "g1", "u1", InfractionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 12 || len(items) != 10 {
		t.Fatalf("expected 12 total, 10 page items; got %d / %d", total, len(items))
	}
	if !items[0].CreatedAt.After(items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	_, total, err = store.ListInfractions(ctx, "g1", "u1", InfractionFilter{Source: "manual"})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 manual rows, got %d", total)
	}
}

func TestClearInfractionsKeepsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(3000, 0)

	for i := 0; i < 3; i++ {
		if _, _, err := store.InsertInfraction(ctx, InfractionRow{
			GuildID: "g1", UserID: "u1", Source: "automod", Type: "warn", PointsAssigned: 2,
		}, now); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cleared, err := store.ClearInfractions(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared != 3 {
		t.Fatalf("expected 3 cleared, got %d", cleared)
	}

	total, err := store.SumActivePoints(ctx, "g1", "u1", now)
	if err != nil || total != 0 {
		t.Fatalf("expected 0 active points after clear, got %d (%v)", total, err)
	}

	items, count, err := store.ListInfractions(ctx, "g1", "u1", InfractionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if count != 3 || len(items) != 3 {
		t.Fatalf("history must be preserved, got %d rows", count)
	}
	for _, item := range items {
		if item.Active {
			t.Fatalf("cleared rows must be inactive")
		}
	}
}

func TestGuildInfractionStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(4000, 0)

	seed := []InfractionRow{
		{GuildID: "g1", UserID: "u1", Source: "automod", Type: "automod_delete", PointsAssigned: 1},
		{GuildID: "g1", UserID: "u2", Source: "manual", Type: "warn", PointsAssigned: 2},
		{GuildID: "g1", UserID: "u1", Source: "automod", Type: "escalation"},
	}
	for _, row := range seed {
		if _, _, err := store.InsertInfraction(ctx, row, now); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stats, err := store.GuildInfractionStats(ctx, "g1", now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 3 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.BySource["automod"] != 2 || stats.ByType["warn"] != 1 {
		t.Fatalf("unexpected breakdown: %+v", stats)
	}
	if len(stats.Recent) != 3 {
		t.Fatalf("expected 3 recent rows, got %d", len(stats.Recent))
	}
}
