package nethttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Anas-Altaf/gatekeeper"
)

type admitFunc func(req *gatekeeper.Request) *gatekeeper.Outcome

func (f admitFunc) Admit(_ context.Context, req *gatekeeper.Request) *gatekeeper.Outcome {
	return f(req)
}

func TestMiddleware_AllowsAndAttachesIdentity(t *testing.T) {
	var seen *gatekeeper.Request
	gk := admitFunc(func(req *gatekeeper.Request) *gatekeeper.Outcome {
		seen = req
		return &gatekeeper.Outcome{
			Status:   http.StatusOK,
			Identity: gatekeeper.Identity{Role: gatekeeper.RoleAdmin, SubjectID: "1", Authenticated: true},
			Decision: gatekeeper.Decision{RateLimit: &gatekeeper.Result{Allowed: true, Limit: 20, Remaining: 19}},
		}
	})

	var role gatekeeper.Role = -1
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := gatekeeper.IdentityFromContext(r.Context()); ok {
			role = id.Role
		}
		w.WriteHeader(http.StatusNoContent)
	})

	h := Middleware(Options{Gatekeeper: gk, AddRateLimitHeaders: true, TrustXForwardedFor: true})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/users?page=1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if role != gatekeeper.RoleAdmin {
		t.Errorf("handler role = %v, want admin", role)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "19" {
		t.Errorf("X-RateLimit-Remaining = %q, want 19", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if seen.IP != "203.0.113.9" || seen.Token != "cookie-token" || seen.RawQuery != "page=1" || seen.ID == "" {
		t.Errorf("request = %+v", seen)
	}
}

func TestMiddleware_Denied(t *testing.T) {
	gk := admitFunc(func(req *gatekeeper.Request) *gatekeeper.Outcome {
		return &gatekeeper.Outcome{
			Status: http.StatusTooManyRequests,
			Body:   &gatekeeper.ErrorBody{Error: "Too Many Requests", Message: "wait"},
			Decision: gatekeeper.Decision{
				Denied:    true,
				Reason:    gatekeeper.ReasonRateLimited,
				RateLimit: &gatekeeper.Result{Allowed: false, Limit: 5, RetryAfter: 17},
			},
		}
	})

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := Middleware(Options{Gatekeeper: gk})(next)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Error("next should not run")
	}
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "17" {
		t.Errorf("Retry-After = %q, want 17", rr.Header().Get("Retry-After"))
	}
	var body gatekeeper.ErrorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "wait" {
		t.Errorf("body = %+v", body)
	}
}

func TestMiddleware_InternalWithoutBody(t *testing.T) {
	gk := admitFunc(func(*gatekeeper.Request) *gatekeeper.Outcome {
		return &gatekeeper.Outcome{Status: http.StatusInternalServerError, Err: context.Canceled}
	})
	h := Middleware(Options{Gatekeeper: gk})(http.NotFoundHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var body gatekeeper.ErrorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Message != gatekeeper.MessageInternal {
		t.Errorf("Message = %q", body.Message)
	}
}

func TestDefaultIPFunc(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		xff        string
		remoteAddr string
		want       string
	}{
		{"remote addr", false, "", "192.0.2.1:5555", "192.0.2.1"},
		{"xff ignored", false, "203.0.113.9", "192.0.2.1:5555", "192.0.2.1"},
		{"xff trusted", true, "203.0.113.9, 10.0.0.1", "192.0.2.1:5555", "203.0.113.9"},
		{"no port", false, "", "192.0.2.1", "192.0.2.1"},
		{"empty", false, "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := DefaultIPFunc(tt.trust)(r); got != tt.want {
				t.Errorf("DefaultIPFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}
