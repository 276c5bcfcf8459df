package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述一个 K 线周期（内部 duration + 数据源 interval 名）。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

// 数据源使用 Twelve Data 风格的 interval 命名（"1day" 而非 "1d"）。
var supportedTimeframes = map[string]Timeframe{
	"1h": {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"4h": {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	"1d": {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1day"},
	"1w": {Key: "1w", Duration: 7 * 24 * time.Hour, SourceInterval: "1week"},
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
