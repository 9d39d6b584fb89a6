package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	l, err := Open(path, nil)
	require.NoError(t, err)
	return l, path
}

func testEntry(hit int, decision string) Entry {
	return Entry{
		SessionID: "8f14e45f-ceea-467f-a0e6-2f8b4c1d2e3f",
		Hit:       hit,
		Path:      "/Users/me/bin/a.out",
		CDHash:    "0123456789abcdef0123456789abcdef01234567",
		Decision:  decision,
		MatchedBy: []string{"path"},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	for i := 1; i <= 5; i++ {
		decision := DecisionKeep
		if i%2 == 0 {
			decision = DecisionOverride
		}
		require.NoError(t, l.Record(testEntry(i, decision)))
	}
	require.NoError(t, l.Close())

	res := Verify(path)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 5, res.Lines)
	assert.Equal(t, 2, res.Overrides)
}

func TestFirstEntryUsesGenesisHash(t *testing.T) {
	l, path := newTestLog(t)
	require.NoError(t, l.Record(testEntry(1, DecisionValid)))
	require.NoError(t, l.Close())

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(readLines(t, path)[0]), &e))
	assert.Equal(t, GenesisHash, e.PrevHash)
	assert.NotEmpty(t, e.Timestamp)
	assert.Equal(t, 1, e.Hit)
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Record(testEntry(i, DecisionKeep)))
	}
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"keep"`, `"override"`, 1)
	writeLines(t, path, lines)

	res := Verify(path)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, res.ErrorLine)
	assert.Contains(t, res.Error, "hash mismatch")
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Record(testEntry(i, DecisionKeep)))
	}
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	res := Verify(path)
	assert.False(t, res.Valid)
	assert.Equal(t, 2, res.ErrorLine)
}

func TestVerifyDetectsRemovedHead(t *testing.T) {
	l, path := newTestLog(t)
	for i := 1; i <= 2; i++ {
		require.NoError(t, l.Record(testEntry(i, DecisionKeep)))
	}
	require.NoError(t, l.Close())

	writeLines(t, path, readLines(t, path)[1:])

	res := Verify(path)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.ErrorLine)
	assert.Contains(t, res.Error, "genesis")
}

func TestVerifyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o600))

	res := Verify(path)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.ErrorLine)
	assert.Contains(t, res.Error, "parse error")
}

func TestVerifyEmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	res := Verify(path)
	assert.True(t, res.Valid)
	assert.Zero(t, res.Lines)

	res = Verify(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "open")
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	require.NoError(t, l.Record(testEntry(1, DecisionKeep)))
	require.NoError(t, l.Close())

	l, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Record(testEntry(1, DecisionOverride)))
	require.NoError(t, l.Close())

	res := Verify(path)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 2, res.Lines)
}

func TestConcurrentRecordsKeepChainIntact(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(hit int) {
			defer wg.Done()
			assert.NoError(t, l.Record(testEntry(hit, DecisionKeep)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	res := Verify(path)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 20, res.Lines)
}

func TestHashLine(t *testing.T) {
	h := HashLine([]byte("abc"))
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
	assert.Equal(t, h, HashLine([]byte("abc")))
}

func TestRecordTimestampsFromClock(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC))
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path, clk)
	require.NoError(t, err)

	require.NoError(t, l.Record(testEntry(1, DecisionOverride)))
	clk.Add(90 * time.Second)
	require.NoError(t, l.Record(testEntry(2, DecisionKeep)))
	stamped := testEntry(3, DecisionValid)
	stamped.Timestamp = "2025-12-31T23:59:59.000Z"
	require.NoError(t, l.Record(stamped))
	require.NoError(t, l.Close())

	var got []string
	for _, line := range readLines(t, path) {
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		got = append(got, e.Timestamp)
	}
	assert.Equal(t, []string{
		"2026-03-01T12:00:00.250Z",
		"2026-03-01T12:01:30.250Z",
		"2025-12-31T23:59:59.000Z",
	}, got)
}
