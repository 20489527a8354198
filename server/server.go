// Package server exposes health, metrics and last-run status over HTTP while
// the notifier runs as a daemon.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"flat-notifier/models"
	"flat-notifier/utils"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State holds the outcome of the most recent run.
type State struct {
	mu      sync.RWMutex
	summary *models.RunSummary
	err     string
}

func NewState() *State {
	return &State{}
}

// Record stores the latest run; err may be nil.
func (s *State) Record(summary *models.RunSummary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.err = ""
	if err != nil {
		s.err = err.Error()
	}
}

func (s *State) Snapshot() (*models.RunSummary, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.err
}

// NewRouter builds the gin engine. store and metrics may be nil.
func NewRouter(state *State, metrics http.Handler, store Pinger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	r.GET("/last-run", func(c *gin.Context) {
		summary, runErr := state.Snapshot()
		if summary == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"summary":   summary,
			"processed": summary.Processed(),
			"recorded":  summary.Recorded(),
			"delivered": summary.Delivered(),
			"error":     runErr,
		})
	})

	return r
}

// Start serves handler on addr in the background. Shut it down with
// srv.Shutdown.
func Start(addr string, handler http.Handler, logger *utils.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("[server] Status endpoints on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[server] %v", err)
		}
	}()
	return srv
}
