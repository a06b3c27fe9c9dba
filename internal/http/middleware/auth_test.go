// README: Tests for Firebase auth, role gating and recovery middleware.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"tripflow/internal/http/middleware"
	"tripflow/internal/infra"
)

// stubVerifier returns a fixed result and remembers the raw token it saw.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
	raw   string
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	s.raw = raw
	return s.token, s.err
}

type caller struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, caller{UID: middleware.CallerUID(c), Role: middleware.CallerRole(c)})
	})
	return r
}

func TestAuth(t *testing.T) {
	driver := &infra.FirebaseToken{UID: "d-42", Claims: map[string]interface{}{"role": "driver"}}
	noRole := &infra.FirebaseToken{UID: "p-7", Claims: map[string]interface{}{}}
	emptyRole := &infra.FirebaseToken{UID: "p-8", Claims: map[string]interface{}{"role": ""}}

	cases := []struct {
		name     string
		verifier *stubVerifier
		path     string
		header   string
		want     int
		wantRaw  string
		wantCall caller
	}{
		{name: "missing header", verifier: &stubVerifier{token: driver}, path: "/whoami", want: http.StatusUnauthorized},
		{name: "wrong scheme", verifier: &stubVerifier{token: driver}, path: "/whoami", header: "Token abc", want: http.StatusUnauthorized},
		{name: "empty bearer", verifier: &stubVerifier{token: driver}, path: "/whoami", header: "Bearer   ", want: http.StatusUnauthorized},
		{name: "verifier rejects", verifier: &stubVerifier{err: errors.New("expired")}, path: "/whoami", header: "Bearer stale", want: http.StatusUnauthorized, wantRaw: "stale"},
		{name: "driver claim", verifier: &stubVerifier{token: driver}, path: "/whoami", header: "Bearer  id-token ", want: http.StatusOK, wantRaw: "id-token", wantCall: caller{UID: "d-42", Role: "driver"}},
		{name: "no role claim", verifier: &stubVerifier{token: noRole}, path: "/whoami", header: "Bearer t", want: http.StatusOK, wantRaw: "t", wantCall: caller{UID: "p-7", Role: "passenger"}},
		{name: "empty role claim", verifier: &stubVerifier{token: emptyRole}, path: "/whoami", header: "Bearer t", want: http.StatusOK, wantRaw: "t", wantCall: caller{UID: "p-8", Role: "passenger"}},
		{name: "websocket query token", verifier: &stubVerifier{token: driver}, path: "/whoami?access_token=ws-token", want: http.StatusOK, wantRaw: "ws-token", wantCall: caller{UID: "d-42", Role: "driver"}},
		{name: "header wins over query", verifier: &stubVerifier{token: driver}, path: "/whoami?access_token=ws-token", header: "Bearer hdr", want: http.StatusOK, wantRaw: "hdr", wantCall: caller{UID: "d-42", Role: "driver"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			newTestRouter(tc.verifier).ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.verifier.raw != tc.wantRaw {
				t.Errorf("verifier saw %q, want %q", tc.verifier.raw, tc.wantRaw)
			}
			if tc.want != http.StatusOK {
				return
			}
			var got caller
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode %s: %v", w.Body.String(), err)
			}
			if got != tc.wantCall {
				t.Errorf("caller = %+v, want %+v", got, tc.wantCall)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name string
		role string
		want int
	}{
		{"driver allowed", "driver", http.StatusOK},
		{"passenger rejected", "", http.StatusForbidden},
		{"other role rejected", "admin", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := map[string]interface{}{}
			if tc.role != "" {
				claims["role"] = tc.role
			}
			gin.SetMode(gin.TestMode)
			r := gin.New()
			r.Use(middleware.Auth(&stubVerifier{token: &infra.FirebaseToken{UID: "u1", Claims: claims}}))
			r.GET("/driver", middleware.RequireRole(middleware.RoleDriver), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/driver", nil)
			req.Header.Set("Authorization", "Bearer t")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
