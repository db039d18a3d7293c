package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordActivation(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordActivation("success")
		RecordActivation("")
		RecordActivation("HARDWARE_LIMIT")
	})
}

func TestRecordValidation(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordValidation("ok")
		RecordValidation("expired")
	})
}

func TestRecordRateLimitRejection(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRateLimitRejection("activate")
	})
}

func TestRecordSyncPush(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordSyncPush("sale", 10)
		RecordSyncPush("sale", 0)
		RecordSyncPush("sale", -1)
	})
}

func TestRecordSyncLag(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordSyncLag("hw-123", 1.5)
		RecordSyncLag("", 0)
	})
}

func TestSetActiveTerminals(t *testing.T) {
	assert.NotPanics(t, func() {
		SetActiveTerminals(42)
	})
}

func TestRecordExpirySweep(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordExpirySweep(5, nil)
		RecordExpirySweep(0, assert.AnError)
	})
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"static", "/api/v1/auth/login", "/api/v1/auth/login"},
		{"license key", "/api/v1/licenses/GIRO-ABCD-EFGH-IJKL", "/api/v1/licenses/:id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalPath(tt.in))
		})
	}
}

func TestInstrument(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "giro_http_requests_total")
}
