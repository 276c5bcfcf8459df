// Package state 持久化通知去重状态。
//
// 两层去重：K 线级（同一根执行足只处理一次）与信号级
// （同一 symbol|side|signal_bar_time 只通知一次）。
// 状态文件写入采用临时文件 + rename，任何时刻崩溃都不会
// 留下半写状态。
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"minfx/internal/logger"
)

// ErrStateIO 表示状态文件无法持久化。持久化失败时必须跳过
// 发送而不是冒重复通知的风险。
var ErrStateIO = fmt.Errorf("通知状態ファイルの書き込みに失敗")

// Snapshot 是状态文件的 JSON 结构。signal_history 的值是该信号
// 实际派发的时刻（RFC3339）。
type Snapshot struct {
	LastSentBarTimestamp string            `json:"last_sent_bar_timestamp"`
	SignalHistory        map[string]string `json:"signal_history"`
}

// Store 管理单个状态文件。非并发安全，调用方串行访问。
type Store struct {
	path string
	snap Snapshot
}

// NewStore 加载状态文件。文件不存在按全新状态处理；
// 文件损坏时告警并重置为空状态（宁可重复一次也不中断服务）。
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		snap: Snapshot{SignalHistory: make(map[string]string)},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知状態ファイル読み込み失敗 %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warnf("state: 状態ファイル破損、初期化します %s: %v", path, err)
		return s, nil
	}
	if snap.SignalHistory == nil {
		snap.SignalHistory = make(map[string]string)
	}
	s.snap = snap
	return s, nil
}

// IsNewBar 报告该执行足是否尚未处理过。晚于已记录时刻的才算新：
// 数据源回退到旧足时不得重新通知。
func (s *Store) IsNewBar(barTime time.Time) bool {
	if s.snap.LastSentBarTimestamp == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, s.snap.LastSentBarTimestamp)
	if err != nil {
		logger.Warnf("state: last_sent_bar_timestamp 破損、新バー扱い: %v", err)
		return true
	}
	return barTime.UTC().After(last)
}

// MarkBarSent 记录该执行足已处理并立即落盘。
func (s *Store) MarkBarSent(barTime time.Time) error {
	s.snap.LastSentBarTimestamp = barTime.UTC().Format(time.RFC3339)
	return s.persist()
}

// IsDuplicateSignal 报告该信号键是否已经通知过。
func (s *Store) IsDuplicateSignal(key string) bool {
	_, ok := s.snap.SignalHistory[key]
	return ok
}

// MarkSignalSent 记录信号键与派发时刻并立即落盘。
func (s *Store) MarkSignalSent(key string, sentAt time.Time) error {
	s.snap.SignalHistory[key] = sentAt.UTC().Format(time.RFC3339)
	return s.persist()
}

// Prune 丢弃派发时刻早于 cutoff 的信号键，防止历史无限增长。
// 时刻解析失败的键一并丢弃。
func (s *Store) Prune(cutoff time.Time) error {
	kept := make(map[string]string, len(s.snap.SignalHistory))
	for key, sent := range s.snap.SignalHistory {
		ts, err := time.Parse(time.RFC3339, sent)
		if err == nil && !ts.Before(cutoff) {
			kept[key] = sent
		}
	}
	if len(kept) == len(s.snap.SignalHistory) {
		return nil
	}
	s.snap.SignalHistory = kept
	return s.persist()
}

// persist 原子写入：同目录临时文件 + fsync + rename。
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}
	tmp, err := os.CreateTemp(dir, ".notify_state_*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrStateIO, err)
	}
	return nil
}
