// Package gate implements the pattern-matching security inspector that
// screens email-derived content before any cache lookup or inference call.
package gate

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// ErrOverrideUnavailable is returned when an override is requested while
// the gate runs at the strict level.
var ErrOverrideUnavailable = errors.New("overrides are unavailable at strict security level")

// maxExcerptRunes bounds how much matched content is ever recorded.
// Audit records carry a truncated excerpt only, never full content.
const maxExcerptRunes = 80

// sanitizedBlockMessage is the non-technical message returned to callers
// for blocked units.
const sanitizedBlockMessage = "This message could not be analyzed because it matched a security policy."

// NotifyFunc receives structured block notifications for display and
// logging layers.
type NotifyFunc func(types.SecurityNotification)

// Options configures a Gate.
type Options struct {
	// Level is the configured security level used for override policy
	// and as the default evaluation level.
	Level types.SecurityLevel

	// PatternFile is the optional versioned pattern definitions file.
	// Empty means use the built-in default set.
	PatternFile string

	// Audit receives append-only block and override records. Nil
	// disables auditing (tests only).
	Audit *Audit

	// Notify, if set, is invoked for every block with a sanitized
	// notification. It must not block.
	Notify NotifyFunc
}

// Gate screens content against an ordered, versioned pattern set.
// Evaluations read an immutable snapshot; reloads swap the snapshot
// atomically so in-flight evaluations are never torn.
type Gate struct {
	level    types.SecurityLevel
	file     string
	audit    *Audit
	notify   NotifyFunc
	snapshot atomic.Pointer[Snapshot]
	logger   *logging.Logger

	// overrides holds identity keys force-allowed for their next
	// evaluation. Each override is single-use.
	mu        sync.Mutex
	overrides map[string]string
}

// New builds a Gate. If a pattern file is configured but cannot be
// loaded, the gate falls back to the built-in default set and logs
// loudly; construction never fails on pattern problems.
func New(opts Options) *Gate {
	g := &Gate{
		level:     opts.Level,
		file:      opts.PatternFile,
		audit:     opts.Audit,
		notify:    opts.Notify,
		logger:    logging.Get("gate"),
		overrides: make(map[string]string),
	}
	if !g.level.Valid() {
		g.level = types.LevelNormal
	}

	snap := DefaultSnapshot()
	if opts.PatternFile != "" {
		loaded, err := LoadSnapshot(opts.PatternFile)
		if err != nil {
			g.logger.Error("pattern file unusable, falling back to built-in patterns",
				"file", opts.PatternFile, "error", err)
		} else {
			snap = loaded
		}
	}
	g.snapshot.Store(snap)

	g.logger.Info("security gate ready",
		"level", string(g.level), "patterns", len(snap.Patterns), "version", snap.Version)
	return g
}

// Level returns the configured security level.
func (g *Gate) Level() types.SecurityLevel {
	return g.level
}

// PatternVersion returns the version of the active pattern snapshot.
func (g *Gate) PatternVersion() string {
	return g.snapshot.Load().Version
}

// Evaluate screens content for the given unit at the given level and
// returns a verdict. A block verdict stops all further processing of
// the unit.
func (g *Gate) Evaluate(identityKey, content string, level types.SecurityLevel) types.SecurityVerdict {
	if !level.Valid() {
		level = g.level
	}

	if g.consumeOverride(identityKey) {
		g.logger.Info("override applied", "identity", identityKey)
		return types.SecurityVerdict{Action: types.ActionAllow}
	}

	snap := g.snapshot.Load()
	pattern, matched := snap.match(content)
	if pattern == nil {
		return types.SecurityVerdict{Action: types.ActionAllow}
	}

	excerpt := truncateExcerpt(matched)
	verdict := types.SecurityVerdict{
		PatternName:    pattern.Name,
		Severity:       pattern.Severity,
		MatchedExcerpt: excerpt,
		Action:         actionFor(level, pattern.Severity),
	}

	switch verdict.Action {
	case types.ActionBlock:
		g.recordBlock(identityKey, verdict)
	case types.ActionWarn:
		g.logger.Warn("content matched pattern, allowed with warning",
			"identity", identityKey, "pattern", pattern.Name, "severity", string(pattern.Severity))
	}

	return verdict
}

// actionFor maps a security level and match severity to a verdict action.
func actionFor(level types.SecurityLevel, severity types.Severity) types.VerdictAction {
	switch level {
	case types.LevelStrict:
		return types.ActionBlock
	case types.LevelPermissive:
		return types.ActionWarn
	default: // normal
		if severity == types.SeverityLow {
			return types.ActionWarn
		}
		return types.ActionBlock
	}
}

// BlockMessage returns the sanitized, non-technical message shown to
// callers for blocked units.
func BlockMessage() string {
	return sanitizedBlockMessage
}

// Override force-allows the next evaluation of one blocked unit. Every
// override is written to the audit log as a distinct event. Overrides
// are unavailable entirely at the strict level.
func (g *Gate) Override(identityKey, reason string) error {
	if g.level == types.LevelStrict {
		return ErrOverrideUnavailable
	}

	g.mu.Lock()
	g.overrides[identityKey] = reason
	g.mu.Unlock()

	if g.audit != nil {
		if err := g.audit.RecordOverride(identityKey, reason); err != nil {
			g.logger.Warn("failed to write override audit record", "identity", identityKey, "error", err)
		}
	}
	g.logger.Info("override registered", "identity", identityKey, "reason", reason)
	return nil
}

// consumeOverride reports and clears a pending override for the key.
func (g *Gate) consumeOverride(identityKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.overrides[identityKey]; !ok {
		return false
	}
	delete(g.overrides, identityKey)
	return true
}

// recordBlock writes the audit record and emits the sanitized
// notification for a blocked unit.
func (g *Gate) recordBlock(identityKey string, verdict types.SecurityVerdict) {
	g.logger.Warn("content blocked",
		"identity", identityKey, "pattern", verdict.PatternName, "severity", string(verdict.Severity))

	if g.audit != nil {
		if err := g.audit.RecordBlock(identityKey, verdict); err != nil {
			g.logger.Warn("failed to write block audit record", "identity", identityKey, "error", err)
		}
	}

	if g.notify != nil {
		g.notify(types.SecurityNotification{
			IdentityKey: identityKey,
			PatternName: verdict.PatternName,
			Severity:    verdict.Severity,
			Message:     sanitizedBlockMessage,
			OccurredAt:  time.Now().UTC(),
		})
	}
}

// Reload re-reads the pattern file and atomically swaps the snapshot.
// On failure the previous snapshot stays active.
func (g *Gate) Reload() error {
	if g.file == "" {
		return nil
	}

	snap, err := LoadSnapshot(g.file)
	if err != nil {
		g.logger.Error("pattern reload failed, keeping active snapshot", "file", g.file, "error", err)
		return err
	}

	g.snapshot.Store(snap)
	g.logger.Info("pattern snapshot reloaded", "version", snap.Version, "patterns", len(snap.Patterns))
	return nil
}

// truncateExcerpt bounds a matched excerpt to maxExcerptRunes runes.
func truncateExcerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= maxExcerptRunes {
		return s
	}
	return string(runes[:maxExcerptRunes]) + "..."
}
