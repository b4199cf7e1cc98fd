package lfs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/plue-git/plue/internal/plueerr"
)

// Handler serves the Git LFS HTTP API (batch negotiation plus upload/
// download transfer endpoints) against a Store, routed with gorilla/mux —
// the teacher's go.mod pulls gorilla/mux for exactly this kind of small
// path-parameterized admin/API surface.
type Handler struct {
	store   *Store
	baseURL string
}

func NewHandler(store *Store, baseURL string) *Handler {
	return &Handler{store: store, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Register wires the batch and transfer endpoints onto router, scoped
// under /<owner>/<repo>.git/info/lfs per the Git LFS wire protocol.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/{owner}/{repo}.git/info/lfs/objects/batch", h.batch).Methods(http.MethodPost)
	router.HandleFunc("/{owner}/{repo}.git/info/lfs/objects/{oid}", h.upload).Methods(http.MethodPut)
	router.HandleFunc("/{owner}/{repo}.git/info/lfs/objects/{oid}", h.download).Methods(http.MethodGet)
}

type batchObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type batchRequest struct {
	Operation string        `json:"operation"`
	Objects   []batchObject `json:"objects"`
}

type batchAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header,omitempty"`
}

type batchResponseObject struct {
	OID     string                 `json:"oid"`
	Size    int64                  `json:"size"`
	Actions map[string]batchAction `json:"actions,omitempty"`
	Error   *batchError            `json:"error,omitempty"`
}

type batchError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type batchResponse struct {
	Transfer string                `json:"transfer"`
	Objects  []batchResponseObject `json:"objects"`
}

// batch implements the LFS batch API: for "upload", objects the store
// doesn't already have get an upload action; for "download", every
// existing object gets a download action. Objects the store can't serve
// get a per-object error instead of failing the whole batch.
func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, repo := vars["owner"], vars["repo"]

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid batch request body")
		return
	}

	resp := batchResponse{Transfer: "basic"}
	ctx := r.Context()
	for _, o := range req.Objects {
		if err := ValidateOID(o.OID); err != nil {
			resp.Objects = append(resp.Objects, batchResponseObject{
				OID: o.OID, Size: o.Size,
				Error: &batchError{Code: http.StatusUnprocessableEntity, Message: err.Error()},
			})
			continue
		}

		exists, err := h.store.Exists(ctx, o.OID)
		if err != nil {
			resp.Objects = append(resp.Objects, batchResponseObject{
				OID: o.OID, Size: o.Size,
				Error: &batchError{Code: http.StatusInternalServerError, Message: err.Error()},
			})
			continue
		}

		obj := batchResponseObject{OID: o.OID, Size: o.Size}
		href := fmt.Sprintf("%s/%s/%s.git/info/lfs/objects/%s", h.baseURL, owner, repo, o.OID)
		switch req.Operation {
		case "download":
			if !exists {
				obj.Error = &batchError{Code: http.StatusNotFound, Message: "object does not exist"}
			} else {
				obj.Actions = map[string]batchAction{"download": {Href: href}}
			}
		default: // "upload"
			if !exists {
				obj.Actions = map[string]batchAction{"upload": {Href: href}}
			}
		}
		resp.Objects = append(resp.Objects, obj)
	}

	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	oid := mux.Vars(r)["oid"]
	size := r.ContentLength
	if _, err := h.store.Put(r.Context(), oid, size, r.Body); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	oid := mux.Vars(r)["oid"]
	rangeStart, rangeEnd := parseRangeHeader(r.Header.Get("Range"))

	rc, obj, err := h.store.Get(r.Context(), oid, rangeStart, rangeEnd)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if rangeStart > 0 || rangeEnd > 0 {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if rerr != nil {
			return
		}
	}
}

// parseRangeHeader handles the single "bytes=start-end" form; anything
// else is treated as "no range", which serves the whole object.
func parseRangeHeader(header string) (start, end int64) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0
	}
	parts := strings.SplitN(strings.TrimPrefix(header, prefix), "-", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	start, _ = strconv.ParseInt(parts[0], 10, 64)
	if parts[1] != "" {
		end, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return start, end
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := plueerr.KindOf(err); ok {
		switch kind {
		case plueerr.KindNotFound:
			status = http.StatusNotFound
		case plueerr.KindValidation, plueerr.KindIntegrity:
			status = http.StatusUnprocessableEntity
		case plueerr.KindAuthz:
			status = http.StatusForbidden
		case plueerr.KindConflict:
			status = http.StatusConflict
		}
	}
	writeJSONError(w, status, err.Error())
}
