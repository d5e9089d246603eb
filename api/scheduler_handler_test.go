package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/services"
)

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, job models.ScheduledJob) models.ExecutionResult {
	return models.ExecutionResult{Success: true}
}

func newSchedulerRouter() (*mux.Router, *services.JobScheduler) {
	scheduler := services.NewJobScheduler(noopExecutor{}, services.SchedulerConfig{}, nil)
	handler := CreateSchedulerHandler(scheduler)

	r := mux.NewRouter()
	r.HandleFunc("/jobs", handler.HandleListJobs).Methods("GET")
	r.HandleFunc("/jobs", handler.HandleCreateJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", handler.HandleGetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}", handler.HandleUpdateJob).Methods("PUT")
	r.HandleFunc("/jobs/{id}", handler.HandleDeleteJob).Methods("DELETE")
	r.HandleFunc("/jobs/{id}/pause", handler.HandlePauseJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/resume", handler.HandleResumeJob).Methods("POST")
	return r, scheduler
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const dailyJob = `{
	"id": "stock-sync",
	"schedule": {"kind": "daily", "hour": 3, "minute": 15},
	"request": {"method": "GET", "url": "https://api.partner.test/stock", "use_auth_token": true}
}`

func TestSchedulerHandler_Lifecycle(t *testing.T) {
	r, scheduler := newSchedulerRouter()

	w := serve(r, "POST", "/jobs", dailyJob)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	w = serve(r, "POST", "/jobs", dailyJob)
	if w.Code != http.StatusOK {
		t.Errorf("upsert status = %d, want %d", w.Code, http.StatusOK)
	}

	w = serve(r, "GET", "/jobs/stock-sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	var job models.ScheduledJob
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if job.Schedule.Hour != 3 || !job.IsActive || !job.Request.UseAuthToken {
		t.Errorf("get job = %+v", job)
	}

	w = serve(r, "POST", "/jobs/stock-sync/pause", "")
	if w.Code != http.StatusOK {
		t.Errorf("pause status = %d, want %d", w.Code, http.StatusOK)
	}
	if j, _ := scheduler.Get("stock-sync"); j.IsActive {
		t.Error("job still active after pause")
	}

	w = serve(r, "POST", "/jobs/stock-sync/resume", "")
	if w.Code != http.StatusOK {
		t.Errorf("resume status = %d, want %d", w.Code, http.StatusOK)
	}

	w = serve(r, "PUT", "/jobs/stock-sync", `{"schedule":{"kind":"interval","interval_seconds":300},"request":{"url":"https://api.partner.test/stock"}}`)
	if w.Code != http.StatusOK {
		t.Errorf("update status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if j, _ := scheduler.Get("stock-sync"); j.Schedule.Kind != models.ScheduleKindInterval {
		t.Errorf("schedule kind = %v, want interval", j.Schedule.Kind)
	}

	w = serve(r, "GET", "/jobs", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":1`) {
		t.Errorf("list = %d %s", w.Code, w.Body.String())
	}

	w = serve(r, "DELETE", "/jobs/stock-sync", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = serve(r, "GET", "/jobs/stock-sync", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSchedulerHandler_Errors(t *testing.T) {
	r, _ := newSchedulerRouter()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid body", "POST", "/jobs", `{`, http.StatusBadRequest},
		{"cron schedule", "POST", "/jobs", `{"id":"c","schedule":{"kind":"cron"},"request":{"url":"https://a.test"}}`, http.StatusBadRequest},
		{"missing job", "GET", "/jobs/nope", "", http.StatusNotFound},
		{"pause missing", "POST", "/jobs/nope/pause", "", http.StatusNotFound},
		{"delete missing", "DELETE", "/jobs/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}
