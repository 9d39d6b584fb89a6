// Package policy decides whether a rejected validation should be overridden.
//
// The decision is the logical OR of three independent matchers: an exact
// path set, a canonical CDHash set and an optional custom predicate. A
// snapshot the service already considers valid is never overridden.
package policy

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/amfid-allow/internal/domain"
	"github.com/vburojevic/amfid-allow/internal/validator"
)

// Matcher is a custom predicate over a snapshot.
type Matcher interface {
	Match(s *domain.Snapshot) bool
}

// Rules is the operator supplied allow-rule set. It is read-only once built.
type Rules struct {
	paths    map[string]struct{}
	cdhashes map[string]struct{}

	customEnabled bool
	custom        Matcher
}

// NewRules builds a rule set. CDHashes are canonicalized; an invalid one is
// an error. Passing customEnabled with a nil custom matcher is allowed and
// never matches.
func NewRules(paths, cdhashes []string, customEnabled bool, custom Matcher) (*Rules, error) {
	r := &Rules{
		paths:         make(map[string]struct{}),
		cdhashes:      make(map[string]struct{}),
		customEnabled: customEnabled,
		custom:        custom,
	}
	for _, p := range lo.Uniq(paths) {
		r.paths[p] = struct{}{}
	}
	for _, h := range lo.Uniq(cdhashes) {
		c, err := validator.CanonicalCDHash(h)
		if err != nil {
			return nil, fmt.Errorf("--cdhash %q: %w", h, err)
		}
		r.cdhashes[c] = struct{}{}
	}
	return r, nil
}

// Paths returns the allowed paths, sorted.
func (r *Rules) Paths() []string { return sortedKeys(r.paths) }

// CDHashes returns the allowed canonical CDHashes, sorted.
func (r *Rules) CDHashes() []string { return sortedKeys(r.cdhashes) }

// CustomEnabled reports whether the custom predicate is consulted.
func (r *Rules) CustomEnabled() bool { return r.customEnabled }

// Empty reports whether no matcher can ever allow anything.
func (r *Rules) Empty() bool {
	return len(r.paths) == 0 && len(r.cdhashes) == 0 && (!r.customEnabled || r.custom == nil)
}

// Decision is the outcome of Decide. Matcher results are nil when the
// matcher was not consulted: no rules of that kind, or the original verdict
// was already valid.
type Decision struct {
	OriginalVerdict bool
	ByPath          *bool
	ByCDHash        *bool
	ByCustom        *bool
	Override        bool
}

// Decide evaluates the rules against a snapshot. Every configured matcher is
// evaluated, no matcher short-circuits another.
func Decide(s domain.Snapshot, r *Rules) Decision {
	d := Decision{OriginalVerdict: s.IsValid}
	if s.IsValid || r == nil {
		return d
	}

	if len(r.paths) > 0 {
		_, ok := r.paths[s.Path]
		d.ByPath = lo.ToPtr(ok)
	}
	if len(r.cdhashes) > 0 {
		_, ok := r.cdhashes[s.CDHash]
		d.ByCDHash = lo.ToPtr(ok)
	}
	if r.customEnabled {
		ok := r.custom != nil && r.custom.Match(&s)
		d.ByCustom = lo.ToPtr(ok)
	}

	d.Override = lo.FromPtr(d.ByPath) || lo.FromPtr(d.ByCDHash) || lo.FromPtr(d.ByCustom)
	return d
}

// Matched names the matchers that allowed the snapshot.
func (d Decision) Matched() []string {
	var out []string
	if lo.FromPtr(d.ByPath) {
		out = append(out, "path")
	}
	if lo.FromPtr(d.ByCDHash) {
		out = append(out, "cdhash")
	}
	if lo.FromPtr(d.ByCustom) {
		out = append(out, "custom")
	}
	return out
}

// MatcherFields renders each matcher result for structured logging.
func (d Decision) MatcherFields() []zap.Field {
	return []zap.Field{
		resultField("allowed_by_path", d.ByPath),
		resultField("allowed_by_cdhash", d.ByCDHash),
		resultField("allowed_by_custom_checks", d.ByCustom),
	}
}

func resultField(key string, v *bool) zap.Field {
	if v == nil {
		return zap.String(key, "not configured")
	}
	return zap.Bool(key, *v)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
