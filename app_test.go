package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/example/staykeeper/internal/security"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	app   *App
	db    *MemDB
	store *security.MemoryStore
	clock *testClock
	logs  *test.Hook
	h     http.Handler
}

func newTestEnv(t *testing.T, configure ...func(*App)) *testEnv {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	db := NewMemoryDB()
	store := security.NewMemoryStore()

	tokens, err := security.NewTokenManager("access-secret", "refresh-secret", store,
		security.WithTokenClock(clock.Now), security.WithTokenLogger(log))
	require.NoError(t, err)

	app := &App{
		DB:          db,
		Store:       store,
		Tokens:      tokens,
		Sessions:    security.NewSessionManager(store, security.WithSessionClock(clock.Now), security.WithSessionLogger(log)),
		CSRFTokens:  security.NewCSRFStore(store, security.WithCSRFClock(clock.Now), security.WithCSRFLogger(log)),
		Audit:       security.NewAuditLogger(log, security.WithEventSink(db), security.WithAuditClock(clock.Now)),
		AuthLimiter: security.NewAuthLimiter(store, security.WithLimiterClock(clock.Now)),
		APILimiter:  security.NewAPILimiter(store, security.WithLimiterClock(clock.Now)),
		Validate:    newValidator(),
		Log:         log,
	}
	for _, c := range configure {
		c(app)
	}
	return &testEnv{app: app, db: db, store: store, clock: clock, logs: hook, h: app.Routes()}
}

type reqOpt func(*http.Request)

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCSRF(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("X-CSRF-Token", tok) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) {
		if c != nil {
			r.AddCookie(c)
		}
	}
}

func fromIP(addr string) reqOpt {
	return func(r *http.Request) { r.RemoteAddr = addr + ":40000" }
}

func (e *testEnv) do(method, path string, body interface{}, opts ...reqOpt) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

// data decodes the "data" member of a success response.
func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	require.True(t, body.Success, rec.Body.String())
	return body.Data
}

func apiError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func sessionCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	return nil
}

type session struct {
	access  string
	refresh string
	cookie  *http.Cookie
}

func (e *testEnv) register(t *testing.T, email, password string, opts ...reqOpt) session {
	t.Helper()
	rec := e.do("POST", "/api/auth/register", map[string]string{"email": email, "password": password, "name": "Test Resident"}, opts...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := data(t, rec)
	return session{access: d["accessToken"].(string), refresh: d["refreshToken"].(string), cookie: sessionCookieFrom(rec)}
}

func (e *testEnv) login(t *testing.T, email, password string, opts ...reqOpt) session {
	t.Helper()
	rec := e.do("POST", "/api/auth/login", map[string]string{"email": email, "password": password}, opts...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := data(t, rec)
	return session{access: d["accessToken"].(string), refresh: d["refreshToken"].(string), cookie: sessionCookieFrom(rec)}
}

func (e *testEnv) csrfToken(t *testing.T) string {
	t.Helper()
	rec := e.do("GET", "/api/csrf-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return data(t, rec)["csrfToken"].(string)
}

func (e *testEnv) eventsFor(action string) []security.LogEntry {
	var out []security.LogEntry
	for _, ev := range e.db.Events() {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}
