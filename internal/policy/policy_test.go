package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/amfid-allow/internal/domain"
	"github.com/vburojevic/amfid-allow/internal/validator"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type matcherFunc func(*domain.Snapshot) bool

func (f matcherFunc) Match(s *domain.Snapshot) bool { return f(s) }

func always(v bool) Matcher {
	return matcherFunc(func(*domain.Snapshot) bool { return v })
}

func mustRules(t *testing.T, paths, hashes []string, customEnabled bool, custom Matcher) *Rules {
	t.Helper()
	r, err := NewRules(paths, hashes, customEnabled, custom)
	require.NoError(t, err)
	return r
}

func TestDecideValidNeverOverrides(t *testing.T) {
	s := domain.Snapshot{IsValid: true, Path: "/bin/foo", CDHash: hashA}
	rulesets := []*Rules{
		nil,
		mustRules(t, nil, nil, false, nil),
		mustRules(t, []string{"/bin/foo"}, []string{hashA}, true, always(true)),
	}
	for _, r := range rulesets {
		d := Decide(s, r)
		assert.True(t, d.OriginalVerdict)
		assert.False(t, d.Override)
		assert.Nil(t, d.ByPath)
		assert.Nil(t, d.ByCDHash)
		assert.Nil(t, d.ByCustom)
	}
}

func TestDecideInvalidIsOrOfMatchers(t *testing.T) {
	s := domain.Snapshot{IsValid: false, Path: "/bin/foo", CDHash: hashA}

	for _, pathHit := range []bool{false, true} {
		for _, hashHit := range []bool{false, true} {
			for _, customHit := range []bool{false, true} {
				paths := []string{"/bin/other"}
				if pathHit {
					paths = append(paths, "/bin/foo")
				}
				hashes := []string{hashB}
				if hashHit {
					hashes = append(hashes, hashA)
				}
				r := mustRules(t, paths, hashes, true, always(customHit))

				d := Decide(s, r)
				require.NotNil(t, d.ByPath)
				require.NotNil(t, d.ByCDHash)
				require.NotNil(t, d.ByCustom)
				assert.Equal(t, pathHit, *d.ByPath)
				assert.Equal(t, hashHit, *d.ByCDHash)
				assert.Equal(t, customHit, *d.ByCustom)
				assert.Equal(t, pathHit || hashHit || customHit, d.Override)
			}
		}
	}
}

func TestDecideEvaluatesEveryMatcher(t *testing.T) {
	calls := 0
	custom := matcherFunc(func(*domain.Snapshot) bool {
		calls++
		return false
	})
	r := mustRules(t, []string{"/bin/foo"}, nil, true, custom)

	d := Decide(domain.Snapshot{Path: "/bin/foo"}, r)
	assert.True(t, d.Override)
	assert.Equal(t, 1, calls, "custom predicate must run even when the path already matched")
}

func TestDecideEmptyRulesNeverMatch(t *testing.T) {
	s := domain.Snapshot{Path: "", CDHash: ""}

	d := Decide(s, mustRules(t, nil, nil, false, nil))
	assert.False(t, d.Override)
	assert.Nil(t, d.ByPath)
	assert.Nil(t, d.ByCDHash)
	assert.Nil(t, d.ByCustom)

	d = Decide(s, mustRules(t, []string{}, []string{}, true, nil))
	assert.False(t, d.Override)
	require.NotNil(t, d.ByCustom)
	assert.False(t, *d.ByCustom)
}

func TestDecidePathIsExactAndCaseSensitive(t *testing.T) {
	r := mustRules(t, []string{"/bin/foo"}, nil, false, nil)
	for _, p := range []string{"/bin/Foo", "/bin/foo/", "/bin/fo", "/bin/foo2", "bin/foo"} {
		d := Decide(domain.Snapshot{Path: p}, r)
		assert.False(t, d.Override, p)
	}
	assert.True(t, Decide(domain.Snapshot{Path: "/bin/foo"}, r).Override)
}

func TestDecideCDHashCaseInsensitiveInput(t *testing.T) {
	r := mustRules(t, nil, []string{strings.ToUpper(hashA)}, false, nil)
	canonical, err := validator.ParseDataDescription("<AAAAAAAA aaaaaaaa AAAAAAAA aaaaaaaa AAAAAAAA>")
	require.NoError(t, err)

	d := Decide(domain.Snapshot{CDHash: canonical}, r)
	assert.True(t, d.Override)
	assert.Equal(t, []string{hashA}, r.CDHashes())
}

func TestNewRulesRejectsInvalidCDHash(t *testing.T) {
	_, err := NewRules(nil, []string{"xyz"}, false, nil)
	require.ErrorIs(t, err, validator.ErrInvalidCDHash)
}

func TestRulesAccessors(t *testing.T) {
	r := mustRules(t, []string{"/b", "/a", "/b"}, []string{hashB, hashA}, false, nil)
	assert.Equal(t, []string{"/a", "/b"}, r.Paths())
	assert.Equal(t, []string{hashA, hashB}, r.CDHashes())
	assert.False(t, r.CustomEnabled())
	assert.False(t, r.Empty())

	assert.True(t, mustRules(t, nil, nil, true, nil).Empty())
	assert.False(t, mustRules(t, nil, nil, true, always(false)).Empty())
}

func TestMatcherFields(t *testing.T) {
	yes := true
	fields := Decision{ByPath: &yes}.MatcherFields()
	require.Len(t, fields, 3)
	assert.Equal(t, "allowed_by_path", fields[0].Key)
	assert.Equal(t, "allowed_by_cdhash", fields[1].Key)
	assert.Equal(t, "not configured", fields[1].String)
}

func TestMatched(t *testing.T) {
	yes, no := true, false
	assert.Empty(t, Decision{}.Matched())
	assert.Equal(t, []string{"path", "custom"}, Decision{ByPath: &yes, ByCDHash: &no, ByCustom: &yes}.Matched())
}
