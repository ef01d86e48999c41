package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, 100)
	err := n.Notify(context.Background(), Notification{
		CompanyID: "co1",
		LeadID:    "l1",
		RuleName:  "breach escalation",
		UserIDs:   []string{"u1", "u2"},
		Message:   "SLA breached",
	})

	require.NoError(t, err)
	assert.Equal(t, "l1", got.LeadID)
	assert.Equal(t, []string{"u1", "u2"}, got.UserIDs)
	assert.False(t, got.SentAt.IsZero())
}

func TestWebhookNotifier_RetriesOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, 1000)
	err := n.Notify(context.Background(), Notification{LeadID: "l1", Message: "hi"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, 1000)
	err := n.Notify(context.Background(), Notification{LeadID: "l1", Message: "hi"})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNop(t *testing.T) {
	require.NoError(t, Nop{}.Notify(context.Background(), Notification{}))
}
