package automod

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"heimdall/internal/audit"
	"heimdall/internal/escalation"
	"heimdall/internal/infractions"
	"heimdall/internal/metrics"
	"heimdall/internal/rules"
	"heimdall/internal/rulestore"
	"heimdall/internal/storage"
	"heimdall/internal/wildcard"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeExecutor) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeExecutor) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return f.record("delete:" + channelID + "/" + messageID)
}

func (f *fakeExecutor) RemoveReaction(_ context.Context, channelID, messageID, userID, emoji string) error {
	return f.record("remove_reaction:" + messageID + ":" + emoji)
}

func (f *fakeExecutor) SendDM(_ context.Context, userID, message string) error {
	return f.record("dm:" + userID)
}

func (f *fakeExecutor) Timeout(_ context.Context, guildID, userID string, duration time.Duration, _ string) error {
	return f.record(fmt.Sprintf("timeout:%s:%s", userID, duration))
}

func (f *fakeExecutor) Kick(_ context.Context, guildID, userID, _ string) error {
	return f.record("kick:" + userID)
}

func (f *fakeExecutor) Ban(_ context.Context, guildID, userID, _ string) error {
	return f.record("ban:" + userID)
}

func (f *fakeExecutor) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func newService(t *testing.T, defaults storage.GuildSettings) (*Service, *storage.Store, *fakeExecutor) {
	t.Helper()
	backend, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(backend.Close)
	if err := backend.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	ruleStore, err := rulestore.New(backend, logger)
	if err != nil {
		t.Fatalf("new rulestore: %v", err)
	}
	executor := &fakeExecutor{}
	service := New(Deps{
		Rules:    ruleStore,
		Ledger:   infractions.NewLedger(backend, logger),
		Resolver: escalation.NewResolver(escalation.Config{}),
		Store:    backend,
		Audit:    audit.NewLogger(backend, logger),
		Metrics:  metrics.New(),
		Logger:   logger,
		Executor: executor,
		Defaults: defaults,
	})
	return service, backend, executor
}

func defaultSettings() storage.GuildSettings {
	return storage.GuildSettings{
		Mode:              "normal",
		PointDecayEnabled: true,
		PointDecayDays:    30,
		EscalationRearm:   true,
		EscalationTiers: []storage.TierRow{
			{Threshold: 3, Actions: []string{"timeout"}, TimeoutSeconds: 3600},
			{Threshold: 6, Actions: []string{"kick"}},
		},
	}
}

func seedRule(t *testing.T, backend *storage.Store, row storage.RuleRow) {
	t.Helper()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if _, err := backend.CreateRule(context.Background(), row); err != nil {
		t.Fatalf("create rule: %v", err)
	}
}

func messageEvent(text string) rules.ContentEvent {
	return rules.ContentEvent{
		Type:      rules.TargetMessageContent,
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		AuthorID:  "u1",
		Text:      text,
	}
}

func TestProcessMatchDeletesWarnsAndEscalates(t *testing.T) {
	service, backend, executor := newService(t, defaultSettings())
	ctx := context.Background()

	patterns, _ := wildcard.Compile("*badword*")
	seedRule(t, backend, storage.RuleRow{
		GuildID: "g1", Name: "no-badwords", Enabled: true, Priority: 5,
		Target: "message_content", MatchMode: "any",
		Patterns: patterns, Actions: []string{"delete", "warn"}, WarnPoints: 3,
	})

	outcome, err := service.Process(ctx, messageEvent("this has a badword in it"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome == nil || outcome.Match == nil {
		t.Fatalf("expected a match")
	}
	if outcome.Total != 3 {
		t.Fatalf("expected total 3, got %d", outcome.Total)
	}
	if !executor.called("delete:c1/m1") {
		t.Fatalf("message should be deleted, calls: %v", executor.calls)
	}
	if !executor.called("dm:u1") {
		t.Fatalf("warn should DM the author, calls: %v", executor.calls)
	}
	if outcome.Tier == nil || outcome.Tier.Threshold != 3 {
		t.Fatalf("tier 3 should fire at 3 points, got %+v", outcome.Tier)
	}
	if !executor.called("timeout:u1:1h0m0s") {
		t.Fatalf("tier timeout should run, calls: %v", executor.calls)
	}

	// Escalation leaves its own marker in the ledger.
	items, _, err := backend.ListInfractions(ctx, "g1", "u1", storage.InfractionFilter{Type: "escalation", Limit: 10})
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one escalation marker, got %d (%v)", len(items), err)
	}
	if items[0].EscalationTriggered != "tier_3" {
		t.Fatalf("marker should name the tier, got %q", items[0].EscalationTriggered)
	}
}

func TestProcessNoMatchReturnsNil(t *testing.T) {
	service, backend, executor := newService(t, defaultSettings())

	patterns, _ := wildcard.Compile("*badword*")
	seedRule(t, backend, storage.RuleRow{
		GuildID: "g1", Name: "no-badwords", Enabled: true,
		Target: "message_content", MatchMode: "any",
		Patterns: patterns, Actions: []string{"delete"},
	})

	outcome, err := service.Process(context.Background(), messageEvent("perfectly fine message"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != nil {
		t.Fatalf("no rule matched, got %+v", outcome)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("no actions expected, got %v", executor.calls)
	}
}

func TestProcessAuditModeRecordsWithoutActing(t *testing.T) {
	settings := defaultSettings()
	settings.Mode = "audit"
	service, backend, executor := newService(t, settings)
	ctx := context.Background()

	patterns, _ := wildcard.Compile("*badword*")
	seedRule(t, backend, storage.RuleRow{
		GuildID: "g1", Name: "no-badwords", Enabled: true,
		Target: "message_content", MatchMode: "any",
		Patterns: patterns, Actions: []string{"delete", "warn"}, WarnPoints: 3,
	})

	outcome, err := service.Process(ctx, messageEvent("a badword again"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome == nil || !outcome.AuditMode {
		t.Fatalf("expected an audit-mode outcome, got %+v", outcome)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("audit mode must not act, got %v", executor.calls)
	}
	if outcome.Total != 3 {
		t.Fatalf("audit mode still ledgers points, got %d", outcome.Total)
	}
}

func TestRecordManualFeedsEscalation(t *testing.T) {
	service, _, executor := newService(t, defaultSettings())
	ctx := context.Background()

	row, total, tier, err := service.RecordManual(ctx, infractions.Record{
		GuildID:     "g1",
		UserID:      "u1",
		ModeratorID: "mod1",
		Type:        infractions.TypeWarn,
		Reason:      "spamming",
		Points:      4,
	})
	if err != nil {
		t.Fatalf("record manual: %v", err)
	}
	if row.Source != "manual" {
		t.Fatalf("manual records are forced to the manual source, got %q", row.Source)
	}
	if total != 4 {
		t.Fatalf("expected total 4, got %d", total)
	}
	if tier == nil || tier.Threshold != 3 {
		t.Fatalf("4 points should fire tier 3, got %+v", tier)
	}
	if !executor.called("timeout:u1") {
		t.Fatalf("tier actions should run for manual infractions, calls: %v", executor.calls)
	}
}

func TestClearUserResetsLadder(t *testing.T) {
	settings := defaultSettings()
	settings.EscalationRearm = false
	service, _, _ := newService(t, settings)
	ctx := context.Background()

	if _, _, _, err := service.RecordManual(ctx, infractions.Record{
		GuildID: "g1", UserID: "u1", ModeratorID: "mod1",
		Type: infractions.TypeWarn, Reason: "first", Points: 4,
	}); err != nil {
		t.Fatalf("record manual: %v", err)
	}

	cleared, err := service.ClearUser(ctx, "g1", "u1", "mod1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared < 1 {
		t.Fatalf("expected cleared entries, got %d", cleared)
	}

	// With history cleared the same points cross tier 3 again.
	_, total, tier, err := service.RecordManual(ctx, infractions.Record{
		GuildID: "g1", UserID: "u1", ModeratorID: "mod1",
		Type: infractions.TypeWarn, Reason: "second", Points: 4,
	})
	if err != nil {
		t.Fatalf("record manual: %v", err)
	}
	if total != 4 {
		t.Fatalf("cleared points must not count, got total %d", total)
	}
	if tier == nil || tier.Threshold != 3 {
		t.Fatalf("ladder should be re-armed after clear, got %+v", tier)
	}
}
