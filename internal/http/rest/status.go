package rest

import (
	"encoding/json"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// Session is the part of a download session the status API drives.
type Session interface {
	Progress() downloader.Snapshot
	Tasks() []downloader.TaskState
	Stop()
	Stopped() bool
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	downloader.Counts

	Stopped             bool    `json:"stopped"`
	Final               bool    `json:"final"`
	CurrentFile         string  `json:"current_file,omitempty"`
	CurrentFileProgress float64 `json:"current_file_progress"`
	OverallProgress     float64 `json:"overall_progress"`
	Speed               string  `json:"speed"`
	AverageSpeed        string  `json:"average_speed"`
	Bytes               int64   `json:"bytes"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
	ETASeconds          float64 `json:"eta_seconds"`
}

// TaskResponse is one entry of GET /tasks.
type TaskResponse struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Name         string `json:"name,omitempty"`
	Path         string `json:"path,omitempty"`
	ExpectedSize int64  `json:"expected_size"`
	ReceivedSize int64  `json:"received_size"`
	RetryCount   int    `json:"retry_count"`
	Error        string `json:"error,omitempty"`
}

type StatusHandler struct {
	session   Session
	telemetry *telemetry.Telemetry
}

// NewStatusHandler creates the handler exposing a session's progress.
func NewStatusHandler(session Session, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{session: session, telemetry: t}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/status", h.HandleStatus)
	r.Get("/tasks", h.HandleTasks)
	r.Post("/stop", h.HandleStop)

	if h.telemetry != nil {
		r.Handle("/metrics", h.telemetry.Handler())
	}

	return r
}

// HandleStatus reports the latest progress snapshot.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Progress()

	writeJSON(w, r, http.StatusOK, StatusResponse{
		Counts:              snap.Counts,
		Stopped:             h.session.Stopped(),
		Final:               snap.Final,
		CurrentFile:         snap.CurrentFile,
		CurrentFileProgress: snap.CurrentFileProgress,
		OverallProgress:     snap.OverallProgress,
		Speed:               humanize.Bytes(uint64(snap.Speed)) + "/s",
		AverageSpeed:        humanize.Bytes(uint64(snap.AverageSpeed)) + "/s",
		Bytes:               snap.Bytes,
		ElapsedSeconds:      snap.Elapsed.Seconds(),
		ETASeconds:          snap.ETA.Seconds(),
	})
}

// HandleTasks lists every task of the current run in input order.
func (h *StatusHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	states := h.session.Tasks()

	resp := make([]TaskResponse, 0, len(states))
	for _, st := range states {
		resp = append(resp, TaskResponse{
			ID:           st.ID,
			Status:       st.Status.String(),
			Name:         st.Name,
			Path:         st.Path,
			ExpectedSize: st.ExpectedSize,
			ReceivedSize: st.ReceivedSize,
			RetryCount:   st.RetryCount,
			Error:        st.Error,
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleStop requests a cooperative stop of the running session.
func (h *StatusHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	logctx.LoggerFromContext(r.Context()).Info("stop requested over http")

	h.session.Stop()

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
