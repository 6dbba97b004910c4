package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/tourhub/internal/accounts"
	"github.com/geocoder89/tourhub/internal/auth"
	"github.com/geocoder89/tourhub/internal/config"
	apphttp "github.com/geocoder89/tourhub/internal/http"
	"github.com/geocoder89/tourhub/internal/notifications"
	"github.com/geocoder89/tourhub/internal/security"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type captureNotifier struct {
	mu   sync.Mutex
	urls []string
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, in notifications.PasswordResetInput) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, in.ResetURL)
	return nil
}

func (n *captureNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.urls) == 0 {
		t.Fatalf("no reset mail captured")
	}
	u := n.urls[len(n.urls)-1]
	return u[strings.LastIndex(u, "/")+1:]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	router   *gin.Engine
	notifier *captureNotifier
	clock    *testClock
	hasher   *security.Hasher
	cfg      config.Config
}

func testConfig() config.Config {
	return config.Config{
		Env:             "test",
		ServiceName:     "tourhub-test",
		JWTSecret:       "integration-secret-integration-secret",
		JWTTTL:          time.Hour,
		CookieName:      "jwt",
		BcryptCost:      bcrypt.MinCost,
		ResetTTL:        10 * time.Minute,
		ResetURLBase:    "http://localhost/api/v1/users/resetPassword",
		RateLimit:       10000,
		RateLimitWindow: time.Minute,
		MaxBodyBytes:    10 * 1024,
		AdminEmail:      "admin@example.com",
		AdminPassword:   "admin-pass-123",
		AdminName:       "Admin",
	}
}

func newTestServer(t *testing.T, store accounts.UserStore) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, store, testConfig())
}

func newTestServerWithConfig(t *testing.T, store accounts.UserStore, cfg config.Config) *testServer {
	t.Helper()

	ts := &testServer{
		notifier: &captureNotifier{},
		clock:    &testClock{t: time.Now().UTC().Truncate(time.Second)},
		hasher:   security.NewHasher(cfg.BcryptCost, 4),
		cfg:      cfg,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := accounts.NewService(
		store,
		ts.hasher,
		auth.NewManager(auth.NewHMACSigner(cfg.JWTSecret), cfg.JWTTTL),
		auth.NewResetTokens(cfg.ResetTTL),
		ts.notifier,
		accounts.Options{ResetURLBase: cfg.ResetURLBase, Logger: logger},
	).WithClock(ts.clock.now)

	ts.router = apphttp.NewRouter(apphttp.Deps{
		Config:   cfg,
		Logger:   logger,
		Accounts: svc,
	})
	return ts
}

type apiResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Data   struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type call struct {
	method string
	path   string
	body   string
	token  string
	cookie *http.Cookie
}

func (ts *testServer) do(t *testing.T, c call) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var body io.Reader
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode %q: %v", c.method, c.path, w.Body.String(), err)
		}
	}
	return w, resp
}

func (ts *testServer) expect(t *testing.T, c call, status int) apiResponse {
	t.Helper()

	w, resp := ts.do(t, c)
	if w.Code != status {
		t.Fatalf("%s %s = %d, want %d (%s)", c.method, c.path, w.Code, status, w.Body.String())
	}
	return resp
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "jwt" {
			return c
		}
	}
	return nil
}
