// Package patch injects stamp rendering into host bundles.
//
// Every injection is fenced between the rule's marker comment and an end
// comment, so a later run can find the region again and re-render it in
// place when the alias tables change.
package patch

import (
	"strings"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/bundle"
)

// Status is the outcome of one rule against one file.
type Status string

const (
	Patched   Status = "patched"
	Refreshed Status = "refreshed"
	Already   Status = "already"
	NoMatch   Status = "no-match"
)

// RuleResult records what a rule did.
type RuleResult struct {
	Rule   string
	Status Status
	Detail string
	// Stale is set when force could not refresh a baked region because it
	// was written by an older patcher without fences.
	Stale bool
}

// Result is the outcome of applying a family's rules to one file.
type Result struct {
	Content []byte
	Rules   []RuleResult
	Changed bool
}

// Status returns the status recorded for rule, or "" if it did not run.
func (r Result) Status(rule string) Status {
	for _, rr := range r.Rules {
		if rr.Rule == rule {
			return rr.Status
		}
	}
	return ""
}

// Count returns how many rules ended with status s.
func (r Result) Count(s Status) int {
	n := 0
	for _, rr := range r.Rules {
		if rr.Status == s {
			n++
		}
	}
	return n
}

// Apply runs the rules of family over content. It performs no IO. With
// force, existing fenced regions are re-rendered from cfg; when cfg is
// unchanged the output is byte-identical to the input.
func Apply(content []byte, family bundle.Family, cfg alias.Config, force bool) (Result, error) {
	t, err := newTables(cfg)
	if err != nil {
		return Result{}, err
	}

	s := string(content)
	res := Result{}
	for _, rule := range Rules(family) {
		var rr RuleResult
		s, rr = applyRule(s, family, rule, t, force)
		res.Rules = append(res.Rules, rr)
	}
	res.Content = []byte(s)
	res.Changed = s != string(content)
	return res, nil
}

func applyRule(s string, family bundle.Family, rule Rule, t *tables, force bool) (string, RuleResult) {
	rr := RuleResult{Rule: rule.Name}

	if start := strings.Index(s, rule.openFence()); start >= 0 {
		rr.Status = Already
		if !force {
			return s, rr
		}
		rel := strings.Index(s[start:], rule.EndFence())
		if rel < 0 {
			rr.Detail = "end fence missing, region left as is"
			return s, rr
		}
		end := start + rel + len(rule.EndFence())
		fresh := rule.block(lineIndent(s, start), t)
		if s[start:end] == fresh {
			return s, rr
		}
		rr.Status = Refreshed
		return s[:start] + fresh + s[end:], rr
	}

	if legacy := legacyMarker(s, rule); legacy != "" {
		rr.Status = Already
		rr.Detail = "legacy marker " + legacy
		if force && rule.Baked {
			rr.Detail += ", tables not refreshed"
			rr.Stale = true
		}
		return s, rr
	}

	if rule.Requires != "" {
		if m := markerFor(family, rule.Requires); m == "" || !strings.Contains(s, m) {
			rr.Status = NoMatch
			rr.Detail = "requires " + rule.Requires
			return s, rr
		}
	}

	start, end := findAnchor(s, rule)
	if start < 0 {
		rr.Status = NoMatch
		rr.Detail = "anchor not found"
		return s, rr
	}
	rr.Status = Patched
	return s[:start] + rule.block(lineIndent(s, start), t) + s[end:], rr
}

// findAnchor returns the span of the rule's anchor, trying the exact literal
// before the whitespace-tolerant pattern. It returns -1, -1 when absent.
func findAnchor(s string, rule Rule) (int, int) {
	if rule.literal != "" {
		if i := strings.Index(s, rule.literal); i >= 0 {
			return i, i + len(rule.literal)
		}
	}
	if rule.pattern != nil {
		if loc := rule.pattern.FindStringIndex(s); loc != nil {
			return loc[0], loc[1]
		}
	}
	return -1, -1
}

// lineIndent returns the leading whitespace of the line containing pos.
func lineIndent(s string, pos int) string {
	lineStart := strings.LastIndexByte(s[:pos], '\n') + 1
	i := lineStart
	for i < pos && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[lineStart:i]
}

func legacyMarker(s string, rule Rule) string {
	for _, legacy := range rule.Legacy {
		if strings.Contains(s, legacy) {
			return legacy
		}
	}
	return ""
}

// LegacyBaked returns the legacy markers in content that stand in for a baked
// rule. Such bundles keep the alias tables of the older patcher until they
// are restored and patched again.
func LegacyBaked(content []byte, family bundle.Family) []string {
	s := string(content)
	var out []string
	for _, rule := range Rules(family) {
		if !rule.Baked || strings.Contains(s, rule.openFence()) {
			continue
		}
		if m := legacyMarker(s, rule); m != "" {
			out = append(out, m)
		}
	}
	return out
}
