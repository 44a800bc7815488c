// Package rules holds the automod rule model and the pure evaluation
// engine that runs compiled rule sets against inbound content events.
package rules

import (
	"fmt"
	"regexp"
	"time"

	"heimdall/internal/wildcard"
)

// Target names the kind of content a rule inspects.
type Target string

const (
	TargetMessageContent Target = "message_content"
	TargetReactionEmoji  Target = "reaction_emoji"
	TargetMessageEmoji   Target = "message_emoji"
	TargetUsername       Target = "username"
	TargetNickname       Target = "nickname"
	TargetSticker        Target = "sticker"
	TargetLink           Target = "link"
)

// ValidTarget reports whether value is a known target name.
func ValidTarget(value string) bool {
	switch Target(value) {
	case TargetMessageContent, TargetReactionEmoji, TargetMessageEmoji,
		TargetUsername, TargetNickname, TargetSticker, TargetLink:
		return true
	}
	return false
}

// MatchMode controls whether one or all of a rule's patterns must match.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// Action is a closed set of moderation effects. Downstream executors
// switch on the concrete type rather than on strings.
type Action interface {
	Name() string
	isAction()
}

type (
	// DeleteMessage removes the offending message.
	DeleteMessage struct{}
	// RemoveReaction strips the offending reaction.
	RemoveReaction struct{}
	// SendDM notifies the author privately.
	SendDM struct{ Message string }
	// Warn records points against the author and notifies them.
	Warn struct{ Points int }
	// Timeout mutes the author for a duration.
	Timeout struct{ Duration time.Duration }
	// Kick removes the author from the guild.
	Kick struct{}
	// Ban removes the author permanently.
	Ban struct{}
	// LogOnly records the match without any platform-side effect.
	LogOnly struct{}
)

func (DeleteMessage) Name() string  { return "delete" }
func (RemoveReaction) Name() string { return "remove_reaction" }
func (SendDM) Name() string         { return "dm" }
func (Warn) Name() string           { return "warn" }
func (Timeout) Name() string        { return "timeout" }
func (Kick) Name() string           { return "kick" }
func (Ban) Name() string            { return "ban" }
func (LogOnly) Name() string        { return "log" }

func (DeleteMessage) isAction()  {}
func (RemoveReaction) isAction() {}
func (SendDM) isAction()         {}
func (Warn) isAction()           {}
func (Timeout) isAction()        {}
func (Kick) isAction()           {}
func (Ban) isAction()            {}
func (LogOnly) isAction()        {}

// ActionsFromNames builds the typed action list from stored names,
// binding rule-level parameters to the variants that take them.
func ActionsFromNames(names []string, warnPoints int, timeout time.Duration) ([]Action, error) {
	actions := make([]Action, 0, len(names))
	for _, name := range names {
		switch name {
		case "delete":
			actions = append(actions, DeleteMessage{})
		case "remove_reaction":
			actions = append(actions, RemoveReaction{})
		case "dm":
			actions = append(actions, SendDM{})
		case "warn":
			actions = append(actions, Warn{Points: warnPoints})
		case "timeout":
			actions = append(actions, Timeout{Duration: timeout})
		case "kick":
			actions = append(actions, Kick{})
		case "ban":
			actions = append(actions, Ban{})
		case "log":
			actions = append(actions, LogOnly{})
		default:
			return nil, fmt.Errorf("unknown action %q", name)
		}
	}
	return actions, nil
}

// Rule is a guild-configured content filter. Invariant: at least one
// pattern and one action.
type Rule struct {
	ID              int64
	GuildID         string
	Name            string
	Enabled         bool
	Priority        int
	Target          Target
	Patterns        []wildcard.Pattern
	MatchMode       MatchMode
	Actions         []Action
	WarnPoints      int
	TimeoutDuration time.Duration
	ChannelInclude  []string
	ChannelExclude  []string
	RoleInclude     []string
	RoleExclude     []string
}

// HasAction reports whether the rule carries an action of the given name.
func (r Rule) HasAction(name string) bool {
	for _, action := range r.Actions {
		if action.Name() == name {
			return true
		}
	}
	return false
}

// CompiledRule pairs a rule with the executable form of its patterns.
// Regexps[i] corresponds to Patterns[i]; entries that failed to compile
// are dropped by the loader before evaluation.
type CompiledRule struct {
	Rule
	Regexps []*regexp.Regexp
}

// CompileRule builds the executable pattern list. Patterns that no longer
// compile are skipped rather than failing the whole rule, so one stale
// pattern cannot disable its siblings.
func CompileRule(rule Rule) CompiledRule {
	compiled := CompiledRule{Rule: rule}
	var kept []wildcard.Pattern
	for _, pattern := range rule.Patterns {
		re, err := pattern.Compiled()
		if err != nil {
			continue
		}
		kept = append(kept, pattern)
		compiled.Regexps = append(compiled.Regexps, re)
	}
	compiled.Patterns = kept
	return compiled
}

// ContentEvent is one evaluable piece of inbound content, already scoped
// to a guild. The host fills only the fields that make sense for Type.
type ContentEvent struct {
	Type        Target
	GuildID     string
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorRoles []string

	// Text carries message content, a username or a nickname.
	Text string
	// EmojiTokens carries reaction emoji identifiers for reaction events.
	EmojiTokens []string
	// StickerNames carries sticker names for sticker events.
	StickerNames []string
	// Emoji is the raw API name of the reacted emoji, used by the
	// executor to remove the reaction.
	Emoji string
}

// Match is the result of a triggering rule.
type Match struct {
	Rule           *CompiledRule
	Pattern        wildcard.Pattern
	MatchedContent string
	Index          int
}
