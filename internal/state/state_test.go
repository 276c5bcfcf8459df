package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	bar := time.Date(2026, 1, 8, 4, 0, 0, 0, time.UTC)
	assert.True(t, s.IsNewBar(bar))
	assert.False(t, s.IsDuplicateSignal("USD/JPY|LONG|2026-01-08T00:00:00Z"))
}

func TestStoreBarDedupAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	bar := time.Date(2026, 1, 8, 4, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkBarSent(bar))
	assert.False(t, s.IsNewBar(bar))
	assert.True(t, s.IsNewBar(bar.Add(4*time.Hour)))

	// プロセス再起動相当：読み直しても判定は同じ。
	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.False(t, reloaded.IsNewBar(bar))
}

// データソースが古い足に巻き戻っても再通知しない。
func TestStoreBarDedupRejectsEarlierBar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	bar := time.Date(2026, 1, 8, 4, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkBarSent(bar))

	assert.False(t, s.IsNewBar(bar.Add(-4*time.Hour)))
	assert.False(t, s.IsNewBar(time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)))
	assert.False(t, s.IsNewBar(bar))
	assert.True(t, s.IsNewBar(bar.Add(4*time.Hour)))

	// タイムゾーン付きで渡しても UTC 換算で比較される。
	jst := time.FixedZone("JST", 9*3600)
	assert.False(t, s.IsNewBar(bar.In(jst)))
}

// 同じシグナルに対する 2 回のディスパッチは 1 回の送信に畳まれる。
func TestStoreSignalDedupIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	key := "USD/JPY|LONG|2026-01-08T00:00:00Z"
	now := time.Date(2026, 1, 8, 4, 1, 30, 0, time.UTC)
	sends := 0
	dispatch := func() {
		if s.IsDuplicateSignal(key) {
			return
		}
		require.NoError(t, s.MarkSignalSent(key, now))
		sends++
	}
	dispatch()
	dispatch()
	assert.Equal(t, 1, sends)
}

// 永続化されるのは派発時刻（RFC3339）。
func TestStoreSignalHistoryKeepsDispatchInstant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	key := "USD/JPY|LONG|2026-01-08T00:00:00Z"
	sentAt := time.Date(2026, 1, 8, 4, 1, 30, 0, time.UTC)
	require.NoError(t, s.MarkSignalSent(key, sentAt))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "2026-01-08T04:01:30Z", snap.SignalHistory[key])
}

func TestStoreCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken json"), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err, "破損ファイルはエラーではなく初期化")
	assert.True(t, s.IsNewBar(time.Date(2026, 1, 8, 4, 0, 0, 0, time.UTC)))

	// 次の書き込みで正常なファイルに戻る。
	require.NoError(t, s.MarkBarSent(time.Date(2026, 1, 8, 4, 0, 0, 0, time.UTC)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "2026-01-08T04:00:00Z", snap.LastSentBarTimestamp)
}

func TestStoreAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.MarkSignalSent("USD/JPY|LONG|2026-01-08T00:00:00Z", time.Now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	old := "USD/JPY|LONG|2025-12-01T00:00:00Z"
	recent := "EUR/JPY|SHORT|2026-01-07T20:00:00Z"
	require.NoError(t, s.MarkSignalSent(old, time.Date(2025, 12, 1, 4, 1, 0, 0, time.UTC)))
	require.NoError(t, s.MarkSignalSent(recent, time.Date(2026, 1, 8, 0, 1, 0, 0, time.UTC)))

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Prune(cutoff))
	assert.False(t, s.IsDuplicateSignal(old))
	assert.True(t, s.IsDuplicateSignal(recent))
}
