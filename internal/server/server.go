// Package server exposes trends, calibration state and job triggers over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/pipeline"
	"github.com/strrl/viralscope/internal/signals"
	"github.com/strrl/viralscope/internal/store"
)

const shutdownTimeout = 10 * time.Second

type TrendRunner interface {
	Run(ctx context.Context, now time.Time) (pipeline.RunResult, error)
}

type CalibrationRunner interface {
	Run(ctx context.Context, now time.Time) (calibration.RunResult, error)
}

// Reader is the read side of the store the handlers query.
type Reader interface {
	store.TrendReader
	store.OutcomeSource
	LatestPlattParameters(ctx context.Context) (*signals.PlattParameters, error)
	PlattParameterHistory(ctx context.Context, limit int) ([]signals.PlattParameters, error)
}

type Deps struct {
	Trends      TrendRunner
	Calibration CalibrationRunner
	Reader      Reader
	Corrector   *calibration.Corrector
	// Report shapes the on-demand reliability report.
	Report calibration.JobConfig
	// Token guards the job trigger endpoints. Empty disables the check.
	Token string
	Now   func() time.Time
}

type Server struct {
	addr   string
	deps   Deps
	engine *gin.Engine
}

func New(addr string, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{addr: addr, deps: deps}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/trends", s.listTrends)
	v1.GET("/calibration/params", s.plattParams)
	v1.GET("/calibration/report", s.calibrationReport)
	v1.GET("/calibration/correct", s.correct)

	jobs := v1.Group("/jobs", tokenRequired(s.deps.Token))
	jobs.POST("/trends", s.runTrends)
	jobs.POST("/calibration", s.runCalibration)

	return r
}

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-server"
}
