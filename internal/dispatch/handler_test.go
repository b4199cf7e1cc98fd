package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/plue-git/plue/internal/model"
)

func newTestRouter(d *Dispatcher) *mux.Router {
	router := mux.NewRouter()
	NewHandler(d).Register(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRegisterThenPollReturnsQueuedJob(t *testing.T) {
	d := newTestDispatcher()
	router := newTestRouter(d)

	rec := doJSON(t, router, "POST", "/internal/runners/register", model.Runner{
		ID: "r1", MaxParallel: 1, Status: model.RunnerOnline,
	})
	if rec.Code != 204 {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body)
	}

	mustEnqueue(t, d, model.QueuedJob{RunID: 1, JobKey: "build", Priority: model.PriorityNormal})

	rec = doJSON(t, router, "POST", "/internal/runners/r1/poll", model.Runner{ID: "r1", MaxParallel: 1, Status: model.RunnerOnline})
	if rec.Code != 200 {
		t.Fatalf("poll status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Job *model.QueuedJob `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding poll response: %v", err)
	}
	if resp.Job == nil || resp.Job.JobKey != "build" {
		t.Fatalf("expected the build job, got %+v", resp.Job)
	}
}

func TestHandlerPollWithNoWorkReturnsNilJob(t *testing.T) {
	d := newTestDispatcher()
	router := newTestRouter(d)

	rec := doJSON(t, router, "POST", "/internal/runners/idle/poll", model.Runner{ID: "idle", MaxParallel: 1, Status: model.RunnerOnline})
	if rec.Code != 200 {
		t.Fatalf("poll status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Job *model.QueuedJob `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding poll response: %v", err)
	}
	if resp.Job != nil {
		t.Fatalf("expected no job, got %+v", resp.Job)
	}
}

func TestHandlerUpdateStatusOnUnknownJobReturnsNotFound(t *testing.T) {
	d := newTestDispatcher()
	router := newTestRouter(d)

	rec := doJSON(t, router, "POST", "/internal/jobs/missing/status", statusUpdate{Status: model.JobCompleted})
	if rec.Code != 404 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestHandlerCancelMarksJobCancelled(t *testing.T) {
	d := newTestDispatcher()
	router := newTestRouter(d)

	job := mustEnqueue(t, d, model.QueuedJob{RunID: 1, JobKey: "build", Priority: model.PriorityNormal})

	rec := doJSON(t, router, "POST", "/internal/jobs/"+job.ID+"/cancel", nil)
	if rec.Code != 204 {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body)
	}

	snap := d.Snapshot()
	for _, depth := range snap.QueueDepth {
		if depth != 0 {
			t.Fatalf("expected cancelled job to leave the queue empty, got depths %+v", snap.QueueDepth)
		}
	}
}
