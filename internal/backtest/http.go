package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"minfx/internal/logger"
)

// HTTPServer 提供 Gin 接口：触发回测、查询 run 与交易明细。
type HTTPServer struct {
	addr   string
	runner *Runner
	store  *ResultStore
	router *gin.Engine
}

type HTTPConfig struct {
	Addr   string
	Runner *Runner
	Store  *ResultStore
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner 不能为空")
	}
	if cfg.Store == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9873"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:   cfg.Addr,
		runner: cfg.Runner,
		store:  cfg.Store,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	var req struct {
		Symbols []string `json:"symbols"`
		Start   string   `json:"start"`
		End     string   `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var start, end time.Time
	var err error
	if req.Start != "" {
		if start, err = time.Parse("2006-01-02", req.Start); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start 格式须为 YYYY-MM-DD"})
			return
		}
	}
	if req.End != "" {
		if end, err = time.Parse("2006-01-02", req.End); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end 格式须为 YYYY-MM-DD"})
			return
		}
	}

	run, err := s.runner.Run(c.Request.Context(), Request{
		Symbols: req.Symbols,
		Start:   start,
		End:     end,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":     run.RunID,
		"elapsed_ms": run.Elapsed.Milliseconds(),
		"symbols":    len(run.Results),
	})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	details, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run 不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": details})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	trades, err := s.store.GetTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// Start 启动 HTTP 服务并阻塞到 ctx 取消。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("backtest: HTTP 服务监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
