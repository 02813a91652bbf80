package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/hoststate"
	"github.com/Agrid-Dev/preheat/internal/ports"
)

const (
	defaultSessionsLimit = 50
	maxSessionsLimit     = 1000
)

type Server struct {
	svc   ports.RoomService
	state ports.StateWriter
	srv   *http.Server
}

// New returns a runnable server.
func New(svc ports.RoomService, state ports.StateWriter, addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{svc: svc, state: state}

	// Read
	mux.HandleFunc("GET /v1/rooms", s.handleGetRooms)
	mux.HandleFunc("GET /v1/rooms/{id}", s.handleGetRoom)
	mux.HandleFunc("GET /v1/rooms/{id}/sessions", s.handleGetSessions)

	// Write: one endpoint per host variable
	mux.HandleFunc("POST /v1/rooms/{id}/current_temperature", s.handlePostCurrentTemperature)
	mux.HandleFunc("POST /v1/rooms/{id}/target_temperature", s.handlePostTargetTemperature)
	mux.HandleFunc("POST /v1/rooms/{id}/next_schedule", s.handlePostNextSchedule)
	mux.HandleFunc("POST /v1/environment/flow_temperature", s.handlePostFlowTemperature)
	mux.HandleFunc("POST /v1/environment/outside_temperature", s.handlePostOutsideTemperature)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type snapshotDTO struct {
	RoomID                string     `json:"room_id"`
	RoomName              string     `json:"room_name"`
	CurrentTemperature    float64    `json:"current_temperature"`
	PredictedLeadMinutes  int        `json:"predicted_lead_minutes"`
	EstimateMinutes       float64    `json:"estimate_minutes"`
	NextTargetTemperature float64    `json:"next_target_temperature"`
	NextScheduleChange    time.Time  `json:"next_schedule_change"`
	PlannedHeatStart      time.Time  `json:"planned_heat_start"`
	Phase                 string     `json:"phase"`
	ObservedTarget        float64    `json:"observed_target"`
	ObservedNextChange    time.Time  `json:"observed_next_change"`
	OnTime                *time.Time `json:"on_time"`
	OnTemperature         *float64   `json:"on_temperature"`
	OffTime               *time.Time `json:"off_time"`
	OffTemperature        *float64   `json:"off_temperature"`
	FlowTemperature       *float64   `json:"flow_temperature"`
	AmbientTemperature    *float64   `json:"ambient_temperature"`
}

func toDTO(s heating.Snapshot) snapshotDTO {
	return snapshotDTO{
		RoomID:                s.RoomID,
		RoomName:              s.RoomName,
		CurrentTemperature:    s.CurrentTemperature,
		PredictedLeadMinutes:  s.PredictedLeadMinutes,
		EstimateMinutes:       s.EstimateMinutes,
		NextTargetTemperature: s.NextTargetTemperature,
		NextScheduleChange:    s.NextScheduleChange,
		PlannedHeatStart:      s.PlannedHeatStart,
		Phase:                 s.Phase.String(),
		ObservedTarget:        s.ObservedTarget,
		ObservedNextChange:    s.ObservedNextChange,
		OnTime:                s.OnTime,
		OnTemperature:         s.OnTemperature,
		OffTime:               s.OffTime,
		OffTemperature:        s.OffTemperature,
		FlowTemperature:       s.FlowTemperature,
		AmbientTemperature:    s.AmbientTemperature,
	}
}

type sessionDTO struct {
	ID                 string     `json:"id"`
	RoomID             string     `json:"room_id"`
	Phase              string     `json:"phase"`
	OnTime             *time.Time `json:"on_time"`
	OnTemperature      *float64   `json:"on_temperature"`
	OffTime            time.Time  `json:"off_time"`
	OffTemperature     float64    `json:"off_temperature"`
	FlowTemperature    *float64   `json:"flow_temperature"`
	AmbientTemperature *float64   `json:"ambient_temperature"`
}

func toSessionDTO(s heating.Session) sessionDTO {
	return sessionDTO{
		ID:                 s.ID,
		RoomID:             s.RoomID,
		Phase:              s.Phase.String(),
		OnTime:             s.OnTime,
		OnTemperature:      s.OnTemperature,
		OffTime:            s.OffTime,
		OffTemperature:     s.OffTemperature,
		FlowTemperature:    s.FlowTemperature,
		AmbientTemperature: s.AmbientTemperature,
	}
}

// ---- Handlers ----

func (s *Server) handleGetRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.svc.Rooms()
	out := make([]snapshotDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toDTO(r))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Room(r.PathValue("id"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(snap))
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSessionsLimit {
			writeErr(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxSessionsLimit))
			return
		}
		limit = n
	}

	sessions, err := s.svc.Sessions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, ses := range sessions {
		out = append(out, toSessionDTO(ses))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostCurrentTemperature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	postValue(w, r, func(v float64) error {
		return s.state.SetCurrentTemperature(id, v)
	})
}

func (s *Server) handlePostTargetTemperature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	postValue(w, r, func(v float64) error {
		return s.state.SetTargetTemperature(id, v)
	})
}

func (s *Server) handlePostNextSchedule(w http.ResponseWriter, r *http.Request) {
	// body: {"value": {"temperature": 21, "time": "2026-01-12 07:30:00"}}
	id := r.PathValue("id")
	postValue(w, r, func(v hoststate.NextSchedule) error {
		return s.state.SetNextSchedule(id, v)
	})
}

func (s *Server) handlePostFlowTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(w, r, s.state.SetFlowTemperature)
}

func (s *Server) handlePostOutsideTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(w, r, s.state.SetOutsideTemperature)
}

// ---- generic helpers ----

// postValue applies {"value": ...}. State writes take effect on the next
// tick, so the response only acknowledges them.
func postValue[T any](w http.ResponseWriter, r *http.Request, apply func(T) error) {
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeServiceErr(w http.ResponseWriter, err error) {
	if errors.Is(err, heating.ErrUnknownRoom) {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeErr(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
