package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/config"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(url string) *Worker {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	cfg := &config.Config{
		WebhookURL:        url,
		WebhookSecret:     "s3cret",
		WebhookTimeout:    time.Second,
		WebhookMaxRetries: 3,
		WebhookBaseDelay:  time.Millisecond,
	}
	return NewWorker(nil, logger, cfg)
}

func testPayload(t *testing.T) (DecisionEvent, string) {
	id := uuid.New()
	event := DecisionEvent{
		Action:      models.ActionAutoVerified,
		IncidentID:  &id,
		Status:      models.StatusVerified,
		Score:       2,
		PerformedBy: models.SystemActor,
		Timestamp:   time.Now().UTC(),
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return event, string(raw)
}

func TestDeliver_SignsPayload(t *testing.T) {
	event, raw := testPayload(t)
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ok := newTestWorker(srv.URL).deliver(context.Background(), event, raw)
	require.True(t, ok)
	assert.Equal(t, raw, gotBody)
	assert.Equal(t, generateHMACSHA256(raw, "s3cret"), gotSig)
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	event, raw := testPayload(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, newTestWorker(srv.URL).deliver(context.Background(), event, raw))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDeliver_GivesUp(t *testing.T) {
	event, raw := testPayload(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.False(t, newTestWorker(srv.URL).deliver(context.Background(), event, raw))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDeliver_NoURL(t *testing.T) {
	event, raw := testPayload(t)
	assert.False(t, newTestWorker("").deliver(context.Background(), event, raw))
}
