// Package httpapi serves the JSON API over a Monitor: channel state, stats,
// outages, coordination status, on-demand runs, watch control and a
// websocket event stream.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/coordination"
	"github.com/hamed0406/healthwatch/internal/domain"
	apimw "github.com/hamed0406/healthwatch/internal/httpapi/middleware"
	"github.com/hamed0406/healthwatch/internal/monitor"
	"github.com/hamed0406/healthwatch/internal/scheduler"
	"github.com/hamed0406/healthwatch/internal/stats"
)

// Monitor is what the API needs from the monitoring core.
type Monitor interface {
	Channels() []monitor.ChannelView
	Channel(id domain.ChannelID) (monitor.ChannelView, error)
	ChannelStats(ctx context.Context, id domain.ChannelID, window time.Duration) (stats.ChannelStats, error)
	Report(ctx context.Context, window time.Duration) monitor.Report
	Outages(id domain.ChannelID, limit int) ([]domain.Outage, error)
	Coordination() coordination.Status

	RunAll(ctx context.Context) ([]scheduler.RunResult, error)
	RunChannel(ctx context.Context, id domain.ChannelID) (scheduler.RunResult, error)

	Watch() monitor.WatchStatus
	StartWatch(d domain.WatchDuration) (*domain.WatchSession, error)
	StopWatch() (*domain.WatchSession, error)
	PauseWatch() error
	ResumeWatch() error
	StartIndividualWatch(id domain.ChannelID, opts scheduler.IndividualWatch) error
	StopIndividualWatch(id domain.ChannelID) error
}

type Server struct {
	Logger  *zap.Logger
	Monitor Monitor
	Metrics http.Handler // nil disables /metrics
	Hub     *Hub         // nil disables /api/events
}

func NewServer(l *zap.Logger, mon Monitor, metrics http.Handler, hub *Hub) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Monitor: mon, Metrics: metrics, Hub: hub}
}

// Router builds the API. Read routes accept public or admin keys. Mutating
// routes need an admin key and are refused on a follower. Each group has its
// own per-IP limit.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/channels", s.handleListChannels)
			r.Get("/channels/{id}", s.handleGetChannel)
			r.Get("/channels/{id}/stats", s.handleChannelStats)
			r.Get("/stats", s.handleStats)
			r.Get("/outages", s.handleOutages)
			r.Get("/coordination", s.handleCoordination)
			r.Get("/watch", s.handleGetWatch)
			if s.Hub != nil {
				r.Get("/events", s.Hub.HandleConnect)
			}
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Use(apimw.RequireLeader(s.leadership))
			r.Post("/run", s.handleRunAll)
			r.Post("/channels/{id}/run", s.handleRunChannel)
			r.Post("/watch", s.handleStartWatch)
			r.Delete("/watch", s.handleStopWatch)
			r.Post("/watch/pause", s.handlePauseWatch)
			r.Post("/watch/resume", s.handleResumeWatch)
			r.Post("/channels/{id}/watch", s.handleStartIndividualWatch)
			r.Delete("/channels/{id}/watch", s.handleStopIndividualWatch)
		})
	})
	return r
}

func (s *Server) leadership() (bool, string) {
	st := s.Monitor.Coordination()
	return st.Acting(), st.Leader
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
