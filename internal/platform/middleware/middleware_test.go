package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCtx(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.New().NewContext(httptest.NewRequest(method, target, nil), rec), rec
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	return line
}

func TestRequestID(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"minted when absent", "", false},
		{"propagated", "adm-desk-42", true},
		{"replaced when oversized", strings.Repeat("x", 200), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newCtx(http.MethodGet, "/api/v1/wards")
			if tc.incoming != "" {
				c.Request().Header.Set(RequestIDHeader, tc.incoming)
			}
			require.NoError(t, RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c))

			got := rec.Header().Get(RequestIDHeader)
			assert.Equal(t, got, c.Get("request_id"))
			if tc.keep {
				assert.Equal(t, tc.incoming, got)
			} else {
				assert.Len(t, got, 36)
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	cases := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, "info", 200},
		{"not found", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "bed not found") }, "warn", 404},
		{"http 500", func(echo.Context) error {
			return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(errors.New("boom"))
		}, "error", 500},
		{"plain error", func(echo.Context) error { return errors.New("db down") }, "error", 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			c, _ := newCtx(http.MethodPost, "/api/v1/admissions")
			_ = Logger(zerolog.New(&buf))(tc.handler)(c)

			line := logLine(t, &buf)
			assert.Equal(t, tc.level, line["level"])
			assert.Equal(t, tc.status, line["status"])
		})
	}
}

func TestLogger_RequestFields(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newCtx(http.MethodGet, "/api/v1/wards")
	c.Set("request_id", "req-1")
	c.Set("tenant_id", "acme")

	require.NoError(t, Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c))

	line := logLine(t, &buf)
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "acme", line["tenant"])
	assert.Equal(t, "/api/v1/wards", line["path"])
	assert.EqualValues(t, 2, line["bytes_out"])
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newCtx(http.MethodGet, "/api/v1/beds/ICU-01")

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error { panic("nil ward") })(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, "INTERNAL", he.Message.(map[string]string)["error"])

	line := logLine(t, &buf)
	assert.Equal(t, "nil ward", line["error"])
	assert.NotEmpty(t, line["stack"])
}

func TestRecovery_NoPanic(t *testing.T) {
	var buf bytes.Buffer
	c, rec := newCtx(http.MethodGet, "/ok")
	require.NoError(t, Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, buf.Len())
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/api/v1/billing/ledgers")
	require.NoError(t, SecurityHeaders()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	c, rec = newCtx(http.MethodGet, "/api/v1/billing/ledgers")
	c.Request().Header.Set(echo.HeaderXForwardedProto, "https")
	require.NoError(t, SecurityHeaders()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
}
