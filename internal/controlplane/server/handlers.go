package server

import (
	"errors"
	"net/http"

	"github.com/betbot/tradelink/internal/coordinator"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/gin-gonic/gin"
)

// statusFor 领域错误 → HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCoordinatorNotFound), errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownMarketplace), errors.Is(err, domain.ErrMissingAPIKey):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransient):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, code int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

func (s *Server) coordinator(c *gin.Context) (*coordinator.Coordinator, bool) {
	co, err := s.registry.Get(c.Param("username"))
	if err != nil {
		writeError(c, statusFor(err), err)
		return nil, false
	}
	return co, true
}

func marketplaceParam(c *gin.Context) (domain.Marketplace, bool) {
	m, err := domain.ParseMarketplace(c.Param("marketplace"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return "", false
	}
	return m, true
}

func (s *Server) handleLogin(c *gin.Context) {
	var req coordinator.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	co, err := s.registry.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	log.Infof("🔐 账号 %s 已登录", co.Username())
	c.JSON(http.StatusOK, co.Status())
}

func (s *Server) handleAccountsList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.registry.List()})
}

func (s *Server) handleStatus(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, co.Status())
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.registry.Logout(c.Request.Context(), c.Param("username")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUserSettings(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	var req domain.UserSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := co.UpdateUserSettings(c.Request.Context(), req); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, co.Status())
}

func (s *Server) handlePause(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	co.PauseTrading()
	c.JSON(http.StatusOK, co.Status().Breaker)
}

func (s *Server) handleResume(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	co.ResumeTrading()
	c.JSON(http.StatusOK, co.Status().Breaker)
}

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleSetAPIKey(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	m, ok := marketplaceParam(c)
	if !ok {
		return
	}
	var req apiKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := co.SetAPIKey(c.Request.Context(), m, req.APIKey); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, co.Status().Marketplaces[m])
}

func (s *Server) handleStart(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	m, ok := marketplaceParam(c)
	if !ok {
		return
	}
	if err := co.StartMarketplace(c.Request.Context(), m); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, co.Status().Marketplaces[m])
}

func (s *Server) handleStop(c *gin.Context) {
	co, ok := s.coordinator(c)
	if !ok {
		return
	}
	m, ok := marketplaceParam(c)
	if !ok {
		return
	}
	if err := co.StopMarketplace(m); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, co.Status().Marketplaces[m])
}
