package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/coordination"
	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/health"
	apimw "github.com/hamed0406/healthwatch/internal/httpapi/middleware"
	"github.com/hamed0406/healthwatch/internal/scheduler"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody = apimw.ErrorBody

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps core sentinels onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, health.ErrUnknownChannel):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, scheduler.ErrNoActiveWatch):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, coordination.ErrNotLeader):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Leader: s.Monitor.Coordination().Leader})
	default:
		s.Logger.Error("api_error", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func channelID(r *http.Request) domain.ChannelID {
	return domain.ChannelID(chi.URLParam(r, "id"))
}

// window reads ?window=, e.g. 1h or 30m. Zero means the monitor default.
func window(r *http.Request) (time.Duration, error) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errors.New("window must be a positive duration")
	}
	return d, nil
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Channels())
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	v, err := s.Monitor.Channel(channelID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	win, err := window(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	cs, err := s.Monitor.ChannelStats(r.Context(), channelID(r), win)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	win, err := window(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Monitor.Report(r.Context(), win))
}

func (s *Server) handleOutages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	out, err := s.Monitor.Outages(domain.ChannelID(q.Get("channel")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []domain.Outage{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCoordination(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Coordination())
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.Monitor.RunAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Logger.Info("run_all", zap.Int("channels", len(res)))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunChannel(w http.ResponseWriter, r *http.Request) {
	res, err := s.Monitor.RunChannel(r.Context(), channelID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Watch())
}

type watchPayload struct {
	// Duration is a Go duration or "forever".
	Duration string `json:"duration" validate:"required"`
}

func (s *Server) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	var p watchPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || validate.Struct(p) != nil {
		badRequest(w, "bad payload")
		return
	}
	d, err := domain.ParseWatchDuration(p.Duration)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ws, err := s.Monitor.StartWatch(d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	ws, err := s.Monitor.StopWatch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handlePauseWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.PauseWatch(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Monitor.Watch())
}

func (s *Server) handleResumeWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.ResumeWatch(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Monitor.Watch())
}

type individualWatchPayload struct {
	IntervalMS int    `json:"intervalMs" validate:"omitempty,min=100"`
	TimeoutMS  int    `json:"timeoutMs" validate:"omitempty,min=1"`
	Duration   string `json:"duration" validate:"required"`
}

func (s *Server) handleStartIndividualWatch(w http.ResponseWriter, r *http.Request) {
	var p individualWatchPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || validate.Struct(p) != nil {
		badRequest(w, "bad payload")
		return
	}
	d, err := domain.ParseWatchDuration(p.Duration)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	opts := scheduler.IndividualWatch{
		Interval: time.Duration(p.IntervalMS) * time.Millisecond,
		Timeout:  time.Duration(p.TimeoutMS) * time.Millisecond,
		Duration: d,
	}
	if err := s.Monitor.StartIndividualWatch(channelID(r), opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopIndividualWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.StopIndividualWatch(channelID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
