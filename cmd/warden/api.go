package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/guildwarden/warden/store"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

// registers collectors, so only once per process
var promMiddleware = echoprometheus.NewMiddleware("warden")

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

type ModerationLogsResponse struct {
	Logs []store.ModerationLog `json:"logs"`
}

type PunishmentsResponse struct {
	Punishments []store.TempPunishment `json:"punishments"`
}

type SweepResponse struct {
	Skipped  bool `json:"skipped"`
	Expired  int  `json:"expired"`
	Reversed int  `json:"reversed"`
	Failed   int  `json:"failed"`
	Dropped  int  `json:"dropped"`
}

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// Health check plus, when an admin token is configured, a small read-mostly admin API.
func (s *Server) newAPIServer(bind string) *http.Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(promMiddleware)
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", s.HandleHealthCheck)

	if s.config.AdminToken != "" {
		admin := e.Group("/admin", middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AdminToken)) == 1, nil
		}))
		admin.GET("/communities/:community/modlogs", s.HandleListModerationLogs)
		admin.GET("/communities/:community/punishments", s.HandleListPunishments)
		admin.POST("/punishments/sweep", s.HandleSweep)
	} else {
		s.logger.Warn("admin token not configured, admin API disabled")
	}

	return &http.Server{
		Handler:        e,
		Addr:           bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1024 * 1024,
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		slog.Warn("warden-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "warden", Message: errorMessage})
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden", Version: versioninfo.Short()})
}

func (s *Server) HandleListModerationLogs(c echo.Context) error {
	limit := defaultLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxLogLimit)
	}
	logs, err := s.store.ListModerationLogs(c.Request().Context(), c.Param("community"), limit)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []store.ModerationLog{}
	}
	return c.JSON(http.StatusOK, ModerationLogsResponse{Logs: logs})
}

func (s *Server) HandleListPunishments(c echo.Context) error {
	ps, err := s.store.ListTempPunishments(c.Request().Context(), c.Param("community"))
	if err != nil {
		return err
	}
	if ps == nil {
		ps = []store.TempPunishment{}
	}
	return c.JSON(http.StatusOK, PunishmentsResponse{Punishments: ps})
}

func (s *Server) HandleSweep(c echo.Context) error {
	apiSweeps.Inc()
	res, err := s.punish.Sweep(c.Request().Context(), s.punish.Clock.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SweepResponse{
		Skipped:  res.Skipped,
		Expired:  res.Expired,
		Reversed: res.Reversed,
		Failed:   res.Failed,
		Dropped:  res.Dropped,
	})
}
