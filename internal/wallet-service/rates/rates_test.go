package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// cache em memória com os dois níveis (fresh expira, last não)
type fakeCache struct {
	fresh map[string]decimal.Decimal
	last  map[string]decimal.Decimal
	sets  int
}

func (c *fakeCache) GetFresh(context.Context) (map[string]decimal.Decimal, bool) {
	return c.fresh, c.fresh != nil
}

func (c *fakeCache) GetLast(context.Context) (map[string]decimal.Decimal, bool) {
	return c.last, c.last != nil
}

func (c *fakeCache) Set(_ context.Context, rates map[string]decimal.Decimal) error {
	c.fresh = rates
	c.last = rates
	c.sets++
	return nil
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "sol", Normalize(""))
	assert.Equal(t, "sol", Normalize("  "))
	assert.Equal(t, "btc", Normalize("BTC"))
	assert.Equal(t, "usdt", Normalize(" Usdt "))
}

func TestUsdRatesPrefersFreshCache(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provedor não deve ser consultado com cache fresco")
	}))
	defer provider.Close()

	cache := &fakeCache{fresh: map[string]decimal.Decimal{"sol": decimal.RequireFromString("150.25")}}
	svc := NewService(provider.URL, cache, zap.NewNop())

	rs, err := svc.UsdRates(context.Background(), []string{"SOL"})
	require.NoError(t, err)
	assert.False(t, rs.Degraded)
	assert.True(t, rs.Rates["sol"].Equal(decimal.RequireFromString("150.25")))
}

func TestUsdRatesFetchesAndCaches(t *testing.T) {
	var gotPath string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Contains(t, r.URL.RawQuery, "vs_currencies=usd")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"solana":{"usd":151.5},"bitcoin":{"usd":64321.07}}`))
	}))
	defer provider.Close()

	cache := &fakeCache{}
	svc := NewService(provider.URL, cache, zap.NewNop())

	rs, err := svc.UsdRates(context.Background(), []string{"sol", "btc"})
	require.NoError(t, err)
	assert.Equal(t, "/simple/price", gotPath)
	assert.False(t, rs.Degraded)
	assert.True(t, rs.Rates["sol"].Equal(decimal.RequireFromString("151.5")))
	assert.True(t, rs.Rates["btc"].Equal(decimal.RequireFromString("64321.07")))
	assert.Equal(t, 1, cache.sets)
}

func TestUsdRatesFetchesCurrencyMissingFromFreshCache(t *testing.T) {
	hits := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000},"solana":{"usd":151}}`))
	}))
	defer provider.Close()

	// cache fresco só conhece sol; btc acabou de aparecer na carteira
	cache := &fakeCache{fresh: map[string]decimal.Decimal{"sol": decimal.RequireFromString("150")}}
	svc := NewService(provider.URL, cache, zap.NewNop())

	rs, err := svc.UsdRates(context.Background(), []string{"sol", "btc"})
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "moeda fora do cache fresco consulta o provedor")
	assert.False(t, rs.Degraded)
	assert.True(t, rs.Rates["btc"].Equal(decimal.NewFromInt(64000)))

	// o cache atualizado cobre as duas moedas
	assert.Contains(t, cache.fresh, "sol")
	assert.Contains(t, cache.fresh, "btc")
}

func TestUsdRatesFallsBackToLastCacheDegraded(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer provider.Close()

	cache := &fakeCache{last: map[string]decimal.Decimal{"sol": decimal.RequireFromString("149")}}
	svc := NewService(provider.URL, cache, zap.NewNop())

	rs, err := svc.UsdRates(context.Background(), []string{"sol"})
	require.NoError(t, err)
	assert.True(t, rs.Degraded, "cache antigo é sempre sinalizado como degradado")
	assert.True(t, rs.Rates["sol"].Equal(decimal.RequireFromString("149")))
}

func TestUsdRatesNeutralRateWhenEverythingFails(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer provider.Close()

	svc := NewService(provider.URL, &fakeCache{}, zap.NewNop())

	rs, err := svc.UsdRates(context.Background(), []string{"sol", "eth"})
	require.NoError(t, err)
	assert.True(t, rs.Degraded)
	assert.True(t, rs.Rates["sol"].Equal(decimal.NewFromInt(1)))
	assert.True(t, rs.Rates["eth"].Equal(decimal.NewFromInt(1)))
}

func TestUsdRatesUnmappedSymbolGetsNeutralRate(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"solana":{"usd":150}}`))
	}))
	defer provider.Close()

	svc := NewService(provider.URL, &fakeCache{}, zap.NewNop())

	rs, err := svc.UsdRates(context.Background(), []string{"sol", "weirdcoin"})
	require.NoError(t, err)
	assert.True(t, rs.Degraded, "símbolo sem cotação marca o conjunto como degradado")
	assert.True(t, rs.Rates["sol"].Equal(decimal.NewFromInt(150)))
	assert.True(t, rs.Rates["weirdcoin"].Equal(decimal.NewFromInt(1)))
}
