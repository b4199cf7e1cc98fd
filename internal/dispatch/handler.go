package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// Handler exposes a Dispatcher to runner processes over HTTP: register,
// poll for work, heartbeat, and report a job's terminal or in-progress
// status, gorilla/mux-routed the same way internal/lfs.Handler and
// internal/postreceive.Handler are.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// Register wires the runner-facing endpoints onto router, scoped under
// /internal/runners and /internal/jobs so they sit alongside other internal
// callback routes.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/internal/runners/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/internal/runners/{id}/poll", h.poll).Methods(http.MethodPost)
	router.HandleFunc("/internal/runners/{id}/heartbeat", h.heartbeat).Methods(http.MethodPost)
	router.HandleFunc("/internal/jobs/{id}/status", h.updateStatus).Methods(http.MethodPost)
	router.HandleFunc("/internal/jobs/{id}/cancel", h.cancel).Methods(http.MethodPost)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var runner model.Runner
	if err := json.NewDecoder(r.Body).Decode(&runner); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid runner body")
		return
	}
	h.dispatcher.RegisterRunner(runner)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Heartbeat(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// poll reports the next job assigned to the runner, if any. A body of
// {"job": null} means there is nothing to run right now; the runner is
// expected to poll again after a short backoff.
func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	var snapshot model.Runner
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid runner snapshot body")
		return
	}

	job, err := h.dispatcher.Poll(r.Context(), mux.Vars(r)["id"], snapshot)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Job *model.QueuedJob `json:"job"`
	}{Job: job})
}

type statusUpdate struct {
	Status model.JobStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid status update body")
		return
	}
	if err := h.dispatcher.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status, body.Reason); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	kind, ok := plueerr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case plueerr.KindNotFound:
		return http.StatusNotFound
	case plueerr.KindConflict:
		return http.StatusConflict
	case plueerr.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
