package payout

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsWithdrawalBatch(t *testing.T) {
	var gotBody map[string]any
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payout", r.URL.Path)
		gotKey = r.Header.Get("x-api-key")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{"id":9912}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key-1")
	res, err := c.Send(context.Background(), "addr-1", "sol", decimal.RequireFromString("1.5"), "W1")
	require.NoError(t, err)
	assert.Equal(t, "9912", res.ProviderRef)
	assert.Equal(t, "key-1", gotKey)

	items, ok := gotBody["withdrawals"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "addr-1", item["address"])
	assert.Equal(t, "1.5", item["amount"])
	assert.Equal(t, "sol", item["currency"])
	assert.Equal(t, "W1", item["unique_external_id"])
}

func TestSendAcceptsPayoutIDField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payout_id":"abc-123"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k").Send(context.Background(), "a", "sol", decimal.NewFromInt(1), "W1")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.ProviderRef)
}

func TestSendFailsOnProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Send(context.Background(), "a", "sol", decimal.NewFromInt(1), "W1")
	assert.Error(t, err)
}

func TestSendFailsWithoutReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Send(context.Background(), "a", "sol", decimal.NewFromInt(1), "W1")
	assert.Error(t, err)
}
