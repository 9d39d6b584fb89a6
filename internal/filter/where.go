// Package filter implements the custom allow checks: where-clauses evaluated
// against a validation snapshot.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// ErrUnverifiedOnly is returned when a check set would grant access without
// pinning the path or cdhash of the code, e.g. on unverified identity claims
// alone.
var ErrUnverifiedOnly = errors.New("custom checks must constrain path or cdhash with =, ~, ^ or $")

// WhereClause represents a parsed custom check like "path^/Users/me/bin"
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // compiled for ~ and !~
}

// ParseWhereClause parses a clause like "cdhash=..." or "path~\.app/".
// Supported operators: =, !=, ~, !~, ^, $
func ParseWhereClause(clause string) (*WhereClause, error) {
	// The leftmost operator splits the clause so values may contain operator
	// characters. Longest first so "!=" is not read as "=".
	operators := []string{"!~", "!=", "~", "=", "^", "$"}

	op, idx := "", -1
	for _, candidate := range operators {
		i := strings.Index(clause, candidate)
		if i > 0 && (idx < 0 || i < idx) {
			op, idx = candidate, i
		}
	}
	if idx > 0 {
		field := strings.ToLower(strings.TrimSpace(clause[:idx]))
		value := strings.TrimSpace(clause[idx+len(op):])

		if field == "" || value == "" {
			return nil, fmt.Errorf("invalid custom check: %s", clause)
		}
		if _, ok := (&domain.Snapshot{}).Field(field); !ok {
			return nil, fmt.Errorf("unknown field %q in custom check %q", field, clause)
		}

		wc := &WhereClause{
			Field:    field,
			Operator: op,
			Value:    value,
		}
		if op == "~" || op == "!~" {
			re, err := regexp.Compile(value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex in custom check '%s': %w", clause, err)
			}
			wc.regex = re
		}
		return wc, nil
	}

	return nil, fmt.Errorf("no valid operator found in custom check: %s (use =, !=, ~, !~, ^, $)", clause)
}

// Match checks if a snapshot satisfies this clause
func (wc *WhereClause) Match(s *domain.Snapshot) bool {
	fieldValue, _ := s.Field(wc.Field)

	switch wc.Operator {
	case "=":
		return fieldValue == wc.Value
	case "!=":
		return fieldValue != wc.Value
	case "~":
		return wc.regex.MatchString(fieldValue)
	case "!~":
		return !wc.regex.MatchString(fieldValue)
	case "^":
		return strings.HasPrefix(fieldValue, wc.Value)
	case "$":
		return strings.HasSuffix(fieldValue, wc.Value)
	}

	return false
}

// constrainsIdentity reports whether the clause narrows which code matches
// by a verified identity.
func (wc *WhereClause) constrainsIdentity() bool {
	if !domain.IsIdentityField(wc.Field) {
		return false
	}
	return wc.Operator != "!=" && wc.Operator != "!~"
}

// String renders the clause back in its input form.
func (wc *WhereClause) String() string {
	return wc.Field + wc.Operator + wc.Value
}

// WhereFilter applies multiple clauses (AND logic)
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter creates a filter from clause strings. No clauses yields a
// nil filter, which never matches.
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}

	filter := &WhereFilter{}
	pinned := false
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		if wc.constrainsIdentity() {
			pinned = true
		}
		filter.clauses = append(filter.clauses, wc)
	}
	if !pinned {
		return nil, ErrUnverifiedOnly
	}

	return filter, nil
}

// Match returns true if the snapshot matches ALL clauses
func (f *WhereFilter) Match(s *domain.Snapshot) bool {
	if f == nil || len(f.clauses) == 0 || s == nil {
		return false
	}
	for _, clause := range f.clauses {
		if !clause.Match(s) {
			return false
		}
	}
	return true
}

// Clauses returns the parsed clauses in input order.
func (f *WhereFilter) Clauses() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		out[i] = c.String()
	}
	return out
}
