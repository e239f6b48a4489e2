package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/internal/config"
	"slotbook/internal/models"
)

// fakeCluster answers the handful of endpoints the history client calls.
type fakeCluster struct {
	mu      sync.Mutex
	created bool
	docs    []json.RawMessage
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/booking-history":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/booking-history":
		f.created = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodPost && r.URL.Path == "/booking-history/_doc":
		var doc json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&doc)
		f.docs = append(f.docs, doc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		hits := make([]map[string]json.RawMessage, len(f.docs))
		for i, d := range f.docs {
			hits[i] = map[string]json.RawMessage{"_source": d}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	case r.URL.Path == "/_cluster/health":
		_, _ = w.Write([]byte(`{"status":"green"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	cluster := &fakeCluster{}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	client, err := NewElasticsearchClient(config.ElasticsearchConfig{
		URL:     srv.URL,
		Index:   "booking-history",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, cluster.created)

	ctx := context.Background()
	bookingID := int64(9)
	require.NoError(t, client.Record(ctx, models.Transition{
		BookingID:  &bookingID,
		SessionID:  1,
		OwnerID:    5,
		Action:     models.ActionPromoted,
		ToStatus:   string(models.BookingPendingPayment),
		GuestCount: 0,
	}))

	history, err := client.History(ctx, bookingID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionPromoted, history[0].Action)
	assert.False(t, history[0].Timestamp.IsZero(), "timestamp is filled in")

	assert.NoError(t, client.HealthCheck(ctx))
}
