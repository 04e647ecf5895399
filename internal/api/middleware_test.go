package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPAllowList(t *testing.T) {
	list, err := NewIPAllowList([]string{"185.71.76.0/27", "77.75.156.11", "2a02:5180::/32", " "})
	require.NoError(t, err)

	tests := []struct {
		ip   string
		want bool
	}{
		{ip: "185.71.76.1", want: true},
		{ip: "185.71.76.31", want: true},
		{ip: "185.71.76.32", want: false},
		{ip: "77.75.156.11", want: true},
		{ip: "77.75.156.12", want: false},
		{ip: "::ffff:77.75.156.11", want: true},
		{ip: "2a02:5180::1", want: true},
		{ip: "2a02:5181::1", want: false},
		{ip: "not-an-ip", want: false},
		{ip: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, list.Allowed(tt.ip))
		})
	}

	_, err = NewIPAllowList([]string{"300.1.1.1"})
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	handler := limiter.Middleware(okHandler())
	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/payments/statistics", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)

	rec := call("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Too many requests", body["error"])
	assert.Equal(t, float64(60), body["retry_after"])

	// другой адрес считается отдельно
	assert.Equal(t, http.StatusOK, call("10.0.0.2").Code)

	// окно не сдвигается от новых запросов
	now = now.Add(31 * time.Second)
	rec = call("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "29", rec.Header().Get("Retry-After"))

	now = now.Add(29 * time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
}

func TestRateLimiterFixedWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter := NewRateLimiter(20, time.Minute)
	limiter.now = func() time.Time { return now }

	countAllowed := func(from, to int) int {
		allowed := 0
		for sec := from; sec < to; sec++ {
			now = start.Add(time.Duration(sec) * time.Second)
			if ok, _ := limiter.Allow("10.0.0.1"); ok {
				allowed++
			}
		}
		return allowed
	}

	// один запрос в секунду на протяжении окна
	assert.Equal(t, 20, countAllowed(0, 60))
	// следующее окно снова пропускает ровно limit
	assert.Equal(t, 20, countAllowed(60, 120))

	now = start.Add(125 * time.Second)
	for range 20 {
		ok, _ := limiter.Allow("10.0.0.2")
		require.True(t, ok)
	}
	ok, wait := limiter.Allow("10.0.0.2")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func TestBearerAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{name: "valid", token: "s3cret", header: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong token", token: "s3cret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "no scheme", token: "s3cret", header: "s3cret", want: http.StatusUnauthorized},
		{name: "missing", token: "s3cret", header: "", want: http.StatusUnauthorized},
		{name: "unconfigured", token: "", header: "Bearer ", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			bearerAuth(tt.token, logger)(okHandler()).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())
			}
		})
	}
}
