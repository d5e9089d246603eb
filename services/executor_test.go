package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malwarebo/partnersync/cache"
	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/providers"
)

type fakeTokens struct {
	token       string
	err         error
	partner     bool
	invalidated atomic.Int32
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) { return f.token, f.err }
func (f *fakeTokens) InvalidateToken() { f.invalidated.Add(1) }
func (f *fakeTokens) IsPartnerURL(raw string) bool { return f.partner }

func scheduledJob(url string, useToken bool) models.ScheduledJob {
	return models.ScheduledJob{
		ID: "sync",
		Request: models.JobRequest{
			Method:       http.MethodPost,
			URL:          url,
			Headers:      map[string]string{"X-Sync": "stock"},
			Body:         `{"since":"2025-01-01"}`,
			UseAuthToken: useToken,
		},
	}
}

func TestHTTPJobExecutor_AttachesPartnerToken(t *testing.T) {
	var gotAuth, gotHeader, gotBody, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Sync")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"synced":12}`))
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "tok-1", partner: true}
	result := NewHTTPJobExecutor(server.Client(), tokens).Execute(context.Background(), scheduledJob(server.URL, true))

	if !result.Success || result.StatusCode != http.StatusOK {
		t.Fatalf("Execute() = %+v, want success", result)
	}
	if result.Degraded {
		t.Error("Execute() degraded = true with a token available")
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", gotAuth)
	}
	if gotHeader != "stock" {
		t.Errorf("X-Sync = %q, want stock", gotHeader)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotBody != `{"since":"2025-01-01"}` {
		t.Errorf("body = %q", gotBody)
	}
	if result.ResponseBody != `{"synced":12}` {
		t.Errorf("ResponseBody = %q", result.ResponseBody)
	}
}

func TestHTTPJobExecutor_DegradedWithoutToken(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tokens := &fakeTokens{err: errors.New("login failed"), partner: true}
	result := NewHTTPJobExecutor(server.Client(), tokens).Execute(context.Background(), scheduledJob(server.URL, true))

	if !result.Success {
		t.Fatalf("Execute() = %+v, want success", result)
	}
	if !result.Degraded {
		t.Error("Execute() degraded = false, want true")
	}
	if auth := gotAuth.Load(); auth != "" {
		t.Errorf("Authorization = %q, want empty", auth)
	}
}

func TestHTTPJobExecutor_NoTokenForForeignHosts(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "secret", partner: false}
	result := NewHTTPJobExecutor(server.Client(), tokens).Execute(context.Background(), scheduledJob(server.URL, true))

	if !result.Success {
		t.Fatalf("Execute() = %+v, want success", result)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, token leaked to a non-partner host", gotAuth)
	}
}

func TestHTTPJobExecutor_UnauthorizedInvalidatesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "stale", partner: true}
	result := NewHTTPJobExecutor(server.Client(), tokens).Execute(context.Background(), scheduledJob(server.URL, true))

	if result.Success {
		t.Fatal("Execute() success = true on 401")
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", result.StatusCode)
	}
	if got := tokens.invalidated.Load(); got != 1 {
		t.Errorf("InvalidateToken() called %d times, want 1", got)
	}
}

func TestHTTPJobExecutor_TruncatesResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer server.Close()

	result := NewHTTPJobExecutor(server.Client(), nil).Execute(context.Background(), scheduledJob(server.URL, false))

	if result.Success {
		t.Fatal("Execute() success = true on 500")
	}
	if len(result.ResponseBody) != maxResponseBody {
		t.Errorf("len(ResponseBody) = %d, want %d", len(result.ResponseBody), maxResponseBody)
	}
	if result.Error == "" {
		t.Error("Execute() error message is empty on 500")
	}
}

func TestHTTPJobExecutor_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := NewHTTPJobExecutor(nil, nil).Execute(context.Background(), scheduledJob(url, false))

	if result.Success || result.StatusCode != 0 || result.Error == "" {
		t.Errorf("Execute() = %+v, want transport failure", result)
	}
	if result.ExecutedAt.IsZero() {
		t.Error("Execute() ExecutedAt is zero")
	}
}

func TestHTTPJobExecutor_HangingLoginStillRunsJob(t *testing.T) {
	release := make(chan struct{})
	var jobHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			<-release
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		jobHits.Add(1)
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want empty while login hangs", auth)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()
	defer close(release)

	partner := providers.CreatePartnerClient(providers.PartnerConfig{
		BaseURL:  server.URL,
		Username: "svc",
		Password: "secret",
	}, cache.CreateTokenCache(), server.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	result := NewHTTPJobExecutor(server.Client(), partner).Execute(ctx, scheduledJob(server.URL+"/api/stock", true))

	if got := jobHits.Load(); got != 1 {
		t.Fatalf("job endpoint hits = %d, want 1 (result %+v)", got, result)
	}
	if !result.Success {
		t.Errorf("Execute() = %+v, want success", result)
	}
	if !result.Degraded {
		t.Error("Execute() degraded = false, want true")
	}
}

func TestHTTPJobExecutor_RecordsDuration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPJobExecutor(server.Client(), nil).Execute(context.Background(), scheduledJob(server.URL, false))

	if !result.Success {
		t.Fatalf("Execute() = %+v, want success", result)
	}
	if result.DurationMs < 60 {
		t.Errorf("DurationMs = %d, want at least 60", result.DurationMs)
	}
}
