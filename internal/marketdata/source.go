// Package marketdata 提供 FX K 线的远端拉取与本地 sqlite 缓存。
package marketdata

import (
	"context"
	"fmt"

	"minfx/internal/market"
)

// ErrUnavailable 表示远端数据源暂时不可用（网络、限流、服务端错误）。
// 实时告警路径遇到它应跳过本轮并告警，而不是中止进程。
var ErrUnavailable = fmt.Errorf("データソースが利用できません")

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol    string // 形如 "USD/JPY"
	Timeframe market.Timeframe
	Limit     int
}

// Source 统一不同数据源的拉取行为，返回时间升序的已收盘序列。
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) (market.Bars, error)
	Name() string
}
