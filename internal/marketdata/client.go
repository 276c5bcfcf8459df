package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"minfx/internal/market"
)

const defaultBaseURL = "https://api.twelvedata.com"

// TwelveDataSource 基于 Twelve Data REST /time_series。
// 返回序列为最新在前，这里统一翻转为时间升序。
type TwelveDataSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewTwelveDataSource(base, apiKey string, timeout time.Duration) *TwelveDataSource {
	if base == "" {
		base = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TwelveDataSource{
		baseURL: base,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *TwelveDataSource) Name() string { return "twelvedata" }

func (t *TwelveDataSource) Fetch(ctx context.Context, req FetchRequest) (market.Bars, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > 5000 {
		limit = 300
	}
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url 不合法: %w", err)
	}
	u.Path = "/time_series"
	q := u.Query()
	q.Set("symbol", req.Symbol)
	q.Set("interval", req.Timeframe.SourceInterval)
	q.Set("outputsize", strconv.Itoa(limit))
	q.Set("timezone", "UTC")
	q.Set("apikey", t.apiKey)
	u.RawQuery = q.Encode()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: ステータス %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("twelvedata 返回状态码 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	root := gjson.ParseBytes(body)
	if status := root.Get("status").String(); status == "error" {
		code := root.Get("code").Int()
		msg := root.Get("message").String()
		if code == 429 || code >= 500 {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, msg)
		}
		return nil, fmt.Errorf("twelvedata エラー(%d): %s", code, msg)
	}

	values := root.Get("values").Array()
	bars := make(market.Bars, 0, len(values))
	for _, v := range values {
		ts, err := parseDatetime(v.Get("datetime").String())
		if err != nil {
			return nil, fmt.Errorf("datetime 解析失败: %w", err)
		}
		bars = append(bars, market.Bar{
			Time:  ts,
			Open:  v.Get("open").Float(),
			High:  v.Get("high").Float(),
			Low:   v.Get("low").Float(),
			Close: v.Get("close").Float(),
		})
	}
	// 最新在前 → 升序。
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// parseDatetime 兼容日内（含时分秒）与日线（仅日期）两种格式。
func parseDatetime(s string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
