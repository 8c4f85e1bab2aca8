package gate

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// Pattern is one compiled security pattern. Patterns are evaluated in
// file order; the first match decides the verdict.
type Pattern struct {
	Name     string
	Severity types.Severity
	re       *regexp.Regexp
}

// Snapshot is an immutable set of patterns. A reload swaps the whole
// snapshot atomically; in-flight evaluations keep using the snapshot
// they already acquired.
type Snapshot struct {
	Version  string
	Patterns []Pattern
	BuiltIn  bool
}

// patternFile mirrors the on-disk YAML pattern definitions.
type patternFile struct {
	Version  string `yaml:"version"`
	Patterns []struct {
		Name     string `yaml:"name"`
		Expr     string `yaml:"expr"`
		Severity string `yaml:"severity"`
	} `yaml:"patterns"`
}

// defaultPatternDefs is the built-in fallback set used when no pattern
// file is configured or the configured file cannot be loaded.
var defaultPatternDefs = []struct {
	name     string
	expr     string
	severity types.Severity
}{
	{"prompt-injection-ignore", `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?|directives?)`, types.SeverityHigh},
	{"prompt-injection-system", `(?i)(you\s+are\s+now|act\s+as\s+if\s+you\s+are|pretend\s+(to\s+be|you\s+are))\s`, types.SeverityHigh},
	{"prompt-injection-reveal", `(?i)(reveal|print|repeat|show)\s+(your|the)\s+(system\s+prompt|instructions|initial\s+prompt)`, types.SeverityHigh},
	{"delimiter-escape", "(?s)```.*?(system|assistant):", types.SeverityMedium},
	{"role-marker", `(?im)^\s*(system|assistant)\s*:\s`, types.SeverityMedium},
	{"script-tag", `(?i)<script[\s>]`, types.SeverityMedium},
	{"data-url-executable", `(?i)data:text/html|javascript:`, types.SeverityMedium},
	{"excessive-base64", `[A-Za-z0-9+/=]{400,}`, types.SeverityLow},
	{"zero-width-chars", `[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}]{3,}`, types.SeverityLow},
}

// DefaultSnapshot compiles the built-in pattern set.
func DefaultSnapshot() *Snapshot {
	snap := &Snapshot{Version: "builtin-1", BuiltIn: true}
	for _, def := range defaultPatternDefs {
		// Built-in expressions are fixed; compilation cannot fail.
		snap.Patterns = append(snap.Patterns, Pattern{
			Name:     def.name,
			Severity: def.severity,
			re:       regexp.MustCompile(def.expr),
		})
	}
	return snap
}

// LoadSnapshot reads and compiles a pattern file. Malformed entries are
// skipped with a warning; an unreadable or unparseable file is an error
// so callers can fall back to the built-in set.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing pattern file: %w", err)
	}

	logger := logging.Get("gate")
	snap := &Snapshot{Version: pf.Version}

	for _, def := range pf.Patterns {
		if def.Name == "" || def.Expr == "" {
			logger.Warn("skipping pattern with missing name or expr", "name", def.Name)
			continue
		}

		severity := types.Severity(def.Severity)
		if !severity.Valid() {
			logger.Warn("skipping pattern with unknown severity", "name", def.Name, "severity", def.Severity)
			continue
		}

		re, compileErr := regexp.Compile(def.Expr)
		if compileErr != nil {
			logger.Warn("skipping pattern with invalid expression", "name", def.Name, "error", compileErr)
			continue
		}

		snap.Patterns = append(snap.Patterns, Pattern{
			Name:     def.Name,
			Severity: severity,
			re:       re,
		})
	}

	if len(snap.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file %s contains no usable patterns", path)
	}

	return snap, nil
}

// match returns the first pattern matching content, or nil.
func (s *Snapshot) match(content string) (*Pattern, string) {
	for i := range s.Patterns {
		if loc := s.Patterns[i].re.FindStringIndex(content); loc != nil {
			return &s.Patterns[i], content[loc[0]:loc[1]]
		}
	}
	return nil, ""
}
