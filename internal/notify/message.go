package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// SignalLine 是一条可执行信号的渲染输入。
type SignalLine struct {
	Symbol     string
	Side       string
	Pattern    string
	Entry      float64
	Stop       float64
	TP1        float64
	TP2        float64
	SpreadPips float64
	Units      int64
	Lots       float64
	RiskJPY    float64
}

// SkipLine 是一条被跳过信号的渲染输入。
type SkipLine struct {
	Symbol string
	Side   string
	Reason string
	Detail string
}

// Report 是一轮检测的完整渲染输入。
type Report struct {
	BarTime     time.Time
	NextBarTime time.Time
	GeneratedAt time.Time
	Timezone    *time.Location
	Signals     []SignalLine
	Skips       []SkipLine
}

// RenderOptions 控制消息长度与跳过行为的折叠。
type RenderOptions struct {
	MaxTextLength     int
	CompressSkipLines bool
	IncludeSkips      bool
}

// 跳过原因的单字符码，折叠模式下使用。
var skipCodes = map[string]string{
	"maintenance_window":    "M",
	"spread_filter":         "S",
	"environment_filter":    "E",
	"position_size_invalid": "P",
}

// Render 把一轮检测结果渲染为单条通知文本。
// 超过 MaxTextLength 时在行边界截断并追加省略标记。
func Render(r Report, opts RenderOptions) string {
	loc := r.Timezone
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder

	fmt.Fprintf(&b, "📊 4時間足チェック %s\n", r.BarTime.In(loc).Format("01/02 15:04"))
	if !r.NextBarTime.IsZero() {
		fmt.Fprintf(&b, "次回足確定: %s\n", r.NextBarTime.In(loc).Format("01/02 15:04"))
	}

	if len(r.Signals) == 0 {
		b.WriteString("\nシグナルなし\n")
	}
	for _, s := range r.Signals {
		b.WriteString("\n")
		fmt.Fprintf(&b, "🔔 %s %s (%s)\n", s.Symbol, s.Side, s.Pattern)
		fmt.Fprintf(&b, "  エントリー: %.3f\n", s.Entry)
		fmt.Fprintf(&b, "  損切り: %.3f\n", s.Stop)
		fmt.Fprintf(&b, "  TP1: %.3f / TP2: %.3f\n", s.TP1, s.TP2)
		fmt.Fprintf(&b, "  スプレッド: %.1f pips\n", s.SpreadPips)
		fmt.Fprintf(&b, "  数量: %d (%.1f lot) リスク: %.0f円\n", s.Units, s.Lots, s.RiskJPY)
	}

	if opts.IncludeSkips && len(r.Skips) > 0 {
		b.WriteString("\n")
		if opts.CompressSkipLines {
			// 折叠模式：每条一行，单字符原因码。
			for _, sk := range r.Skips {
				code, ok := skipCodes[sk.Reason]
				if !ok {
					code = "?"
				}
				fmt.Fprintf(&b, "[%s] %s %s\n", code, sk.Symbol, sk.Side)
			}
		} else {
			for _, sk := range r.Skips {
				fmt.Fprintf(&b, "⏭ %s %s 見送り: %s", sk.Symbol, sk.Side, sk.Reason)
				if sk.Detail != "" {
					fmt.Fprintf(&b, " (%s)", sk.Detail)
				}
				b.WriteString("\n")
			}
		}
	}

	fmt.Fprintf(&b, "\nシグナル %d件 / 見送り %d件", len(r.Signals), len(r.Skips))
	if !r.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "\n%s", r.GeneratedAt.In(loc).Format("15:04:05"))
	}

	return truncate(b.String(), opts.MaxTextLength)
}

// truncate 在行边界截断，保证不超过 limit。找不到行边界时
// 退到 rune 边界，绝不切断多字节字符。
func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	const marker = "\n…(省略)"
	cut := limit - len(marker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	head := text[:cut]
	if idx := strings.LastIndex(head, "\n"); idx > 0 {
		head = head[:idx]
	}
	return head + marker
}
