package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malwarebo/partnersync/cache"
)

func newTestPartner(t *testing.T, handler http.HandlerFunc) (*PartnerClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := CreatePartnerClient(PartnerConfig{
		BaseURL:  server.URL,
		Username: "svc",
		Password: "secret",
		Domain:   "partner.example.com",
	}, cache.CreateTokenCache(), server.Client())
	client.retry = RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return client, server
}

func TestPartnerClient_LoginCachesToken(t *testing.T) {
	var calls int32
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != defaultLoginPath {
			t.Errorf("login path = %v, want %v", r.URL.Path, defaultLoginPath)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "svc" || body["password"] != "secret" {
			t.Errorf("login body = %v", body)
		}
		json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok-1", ExpiresIn: 3600, TokenType: "Bearer"})
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		token, err := client.Token(ctx)
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if token != "tok-1" {
			t.Errorf("Token() = %v, want %v", token, "tok-1")
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("login calls = %d, want 1", n)
	}

	expiresAt, ok := client.Tokens().ExpiresAt()
	if !ok || time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("ExpiresAt() = %v, %v; want about one hour from now", expiresAt, ok)
	}
}

func TestPartnerClient_ConcurrentMissesShareLogin(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok-shared", ExpiresIn: 3600})
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Token(context.Background()); err != nil {
				t.Errorf("Token() error = %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("login calls = %d, want 1", n)
	}
}

func TestPartnerClient_TokenReturnsWhenCallerGivesUp(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok-late", ExpiresIn: 3600})
	})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := client.Token(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Token() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Token() returned after %v, want prompt return on deadline", elapsed)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if token, ok := client.Tokens().GetToken(); ok {
			if token != "tok-late" {
				t.Errorf("GetToken() = %v, want %v", token, "tok-late")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached login never filled the token cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPartnerClient_LoginRejected(t *testing.T) {
	var calls int32
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Token(context.Background())
	if !errors.Is(err, ErrPartnerAuth) {
		t.Errorf("Token() error = %v, want %v", err, ErrPartnerAuth)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("login calls = %d, want 1 (no retry on rejected credentials)", n)
	}
}

func TestPartnerClient_LoginRetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok-3", ExpiresIn: 3600})
	})

	token, err := client.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "tok-3" {
		t.Errorf("Token() = %v, want %v", token, "tok-3")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("login calls = %d, want 3", n)
	}
}

func TestPartnerClient_BadLoginPayload(t *testing.T) {
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LoginResponse{AccessToken: "", ExpiresIn: 3600})
	})

	if _, err := client.Login(context.Background()); !errors.Is(err, ErrPartnerBadPayload) {
		t.Errorf("Login() error = %v, want %v", err, ErrPartnerBadPayload)
	}
	if _, ok := client.Tokens().GetToken(); ok {
		t.Error("GetToken() ok = true after failed login")
	}
}

func TestPartnerClient_Authorize(t *testing.T) {
	client, _ := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok-auth", ExpiresIn: 3600})
	})

	req := httptest.NewRequest(http.MethodGet, "https://api.partner.example.com/products", nil)
	if err := client.Authorize(context.Background(), req); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-auth" {
		t.Errorf("Authorization = %v, want %v", got, "Bearer tok-auth")
	}
}

func TestPartnerClient_IsPartnerURL(t *testing.T) {
	client := CreatePartnerClient(PartnerConfig{Domain: "partner.example.com"}, cache.CreateTokenCache(), http.DefaultClient)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://partner.example.com/api/products", true},
		{"https://api.partner.example.com/orders", true},
		{"https://PARTNER.example.com:8443/x", true},
		{"https://evilpartner.example.com/x", false},
		{"https://partner.example.com.evil.io/x", false},
		{"https://other.example.com/x", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := client.IsPartnerURL(tt.url); got != tt.want {
				t.Errorf("IsPartnerURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
