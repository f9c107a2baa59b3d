// Package server 宿主应用使用的 HTTP 控制面
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/betbot/tradelink/internal/coordinator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "controlplane")

const requestIDHeader = "X-Request-ID"

// Registry 控制面需要的账号注册表能力（coordinator.Registry 实现）
type Registry interface {
	Login(ctx context.Context, req coordinator.LoginRequest) (*coordinator.Coordinator, error)
	Logout(ctx context.Context, username string) error
	Get(username string) (*coordinator.Coordinator, error)
	List() []string
}

// Server 控制面
type Server struct {
	registry Registry
}

func New(registry Registry) *Server {
	return &Server{registry: registry}
}

// Router 构造 gin 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.POST("/sessions", s.handleLogin)

	accounts := api.Group("/accounts")
	accounts.GET("", s.handleAccountsList)
	account := accounts.Group("/:username")
	account.GET("/status", s.handleStatus)
	account.DELETE("", s.handleLogout)
	account.PUT("/settings", s.handleUserSettings)
	account.POST("/trading/pause", s.handlePause)
	account.POST("/trading/resume", s.handleResume)

	market := account.Group("/marketplaces/:marketplace")
	market.PUT("/api-key", s.handleSetAPIKey)
	market.POST("/start", s.handleStart)
	market.POST("/stop", s.handleStop)

	return r
}

// requestID 为每个请求分配 request id（沿用客户端传入的值）
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.Warnf("⚠️ %s", c.Errors.String())
			return
		}
		entry.Debug("request")
	}
}
