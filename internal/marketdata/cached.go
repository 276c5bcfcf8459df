package marketdata

import (
	"context"
	"errors"
	"time"

	"minfx/internal/logger"
	"minfx/internal/market"
)

// CachedSource 在远端源外包一层本地缓存：拉取成功即回写缓存，
// 远端不可用时退回缓存中已有的数据。
type CachedSource struct {
	remote Source
	store  *Store
}

func NewCachedSource(remote Source, store *Store) *CachedSource {
	return &CachedSource{remote: remote, store: store}
}

func (c *CachedSource) Name() string { return c.remote.Name() + "+cache" }

func (c *CachedSource) Fetch(ctx context.Context, req FetchRequest) (market.Bars, error) {
	bars, err := c.remote.Fetch(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		logger.Warnf("marketdata: %s %s 远端不可用，退回缓存: %v",
			req.Symbol, req.Timeframe.Key, err)
		cached, cerr := c.store.QueryBars(ctx, req.Symbol, req.Timeframe.Key,
			time.Time{}, time.Time{}, req.Limit)
		if cerr != nil || len(cached) == 0 {
			return nil, err
		}
		// 缓存兜底时把数据新鲜度一并告警。
		if latest, lerr := c.store.LatestBarTime(ctx, req.Symbol, req.Timeframe.Key); lerr == nil && !latest.IsZero() {
			logger.Warnf("marketdata: %s %s キャッシュ使用、最新バー %s",
				req.Symbol, req.Timeframe.Key, latest.UTC().Format(time.RFC3339))
		}
		return cached, nil
	}
	if _, werr := c.store.InsertBars(ctx, req.Symbol, req.Timeframe.Key, bars); werr != nil {
		logger.Warnf("marketdata: 缓存写入失败 %s %s: %v", req.Symbol, req.Timeframe.Key, werr)
	}
	return bars, nil
}
