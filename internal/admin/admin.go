// Package admin exposes a small HTTP API for inspecting and flushing the answer cache of a running
// server.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/miekg/dns"

	"dnscash/internal/data"
	"dnscash/internal/log"
	"dnscash/internal/meta"
	"dnscash/internal/pool"
	"dnscash/internal/wire"
)

// PoolStats is the subset of the worker pool the API reports on.
type PoolStats interface {
	Stats() pool.Stats
}

// Server is the administration HTTP server.
type Server struct {
	addr    string
	echo    *echo.Echo
	cache   *data.TLRUCache
	pending *data.PendingTable
	workers PoolStats
	logger  log.Logger
}

// Stats is the body of GET /stats.
type Stats struct {
	Version string         `json:"version"`
	Cache   data.TLRUStats `json:"cache"`
	Pool    pool.Stats     `json:"pool"`
	Pending PendingStats   `json:"pending"`
}

// PendingStats summarizes the pending query table.
type PendingStats struct {
	Entries int    `json:"entries"`
	Expired uint64 `json:"expired"`
}

// NewServer creates an administration server that will listen on addr.
func NewServer(
	addr string,
	cache *data.TLRUCache,
	pending *data.PendingTable,
	workers PoolStats,
	logger log.Logger,
) *Server {
	s := &Server{
		addr:    addr,
		echo:    echo.New(),
		cache:   cache,
		pending: pending,
		workers: workers,
		logger:  logger,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			s.logger.Debug(
				"admin: served request: method=%s path=%s status=%d",
				c.Request().Method,
				c.Path(),
				c.Response().Status,
			)
			return err
		}
	})

	s.echo.GET("/healthz", s.getHealth)
	s.echo.GET("/stats", s.getStats)
	s.echo.DELETE("/cache", s.deleteCacheEntry)
	s.echo.DELETE("/cache/all", s.deleteCache)

	return s
}

// ListenAndServe serves the API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin: listening: addr=%s", s.addr)

	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routes for in-process use.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, Stats{
		Version: meta.VersionSHA,
		Cache:   s.cache.Stats(),
		Pool:    s.workers.Stats(),
		Pending: PendingStats{
			Entries: s.pending.Len(),
			Expired: s.pending.Expired(),
		},
	})
}

// deleteCacheEntry removes a single question. The type and class accept either mnemonics (A, IN)
// or numeric values and default to A and IN.
func (s *Server) deleteCacheEntry(c echo.Context) error {
	name := strings.TrimSuffix(c.QueryParam("name"), ".")
	if name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing name"})
	}

	qtype, ok := parseCode(c.QueryParam("type"), dns.TypeA, dns.StringToType)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown type"})
	}

	qclass, ok := parseCode(c.QueryParam("class"), dns.ClassINET, dns.StringToClass)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown class"})
	}

	question := wire.Question{Name: name, Type: qtype, Class: qclass}
	removed := s.cache.Has(question)
	s.cache.Remove(question)

	s.logger.Info("admin: removed cache entry: question=%s present=%t", question, removed)

	return c.JSON(http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) deleteCache(c echo.Context) error {
	entries := s.cache.Len()
	s.cache.Clear()

	s.logger.Info("admin: cleared cache: entries=%d", entries)

	return c.NoContent(http.StatusNoContent)
}

// parseCode resolves a query parameter as a mnemonic or a decimal code.
func parseCode(value string, fallback uint16, mnemonics map[string]uint16) (uint16, bool) {
	if value == "" {
		return fallback, true
	}

	if code, ok := mnemonics[strings.ToUpper(value)]; ok {
		return code, true
	}

	code, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return 0, false
	}

	return uint16(code), true
}
