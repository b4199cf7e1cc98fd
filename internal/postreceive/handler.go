package postreceive

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/plue-git/plue/internal/plueerr"
)

// Handler exposes Processor over HTTP so the short-lived process a git
// post-receive hook execs (cmd/plue-hook) can hand off a PushEvent without
// itself holding a WorkflowLister/RunStore/Publisher, the same
// gorilla/mux-routed-admin-surface shape internal/lfs.Handler uses.
type Handler struct {
	processor *Processor
}

func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// Register wires the single post-receive callback endpoint onto router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/internal/post-receive", h.postReceive).Methods(http.MethodPost)
}

func (h *Handler) postReceive(w http.ResponseWriter, r *http.Request) {
	var evt PushEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid push event body")
		return
	}
	if err := h.processor.ProcessPush(r.Context(), evt); err != nil {
		status := http.StatusInternalServerError
		if kind, ok := plueerr.KindOf(err); ok && kind == plueerr.KindValidation {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
