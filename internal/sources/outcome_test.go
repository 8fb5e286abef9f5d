package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementLookup_Kalshi(t *testing.T) {
	responses := map[string]string{
		"/markets/KXBTC-Y":  `{"market": {"status": "settled", "result": "yes"}}`,
		"/markets/KXRAIN-N": `{"market": {"status": "finalized", "result": "no"}}`,
		"/markets/KXOPEN":   `{"market": {"status": "active", "result": ""}}`,
		"/markets/KXWAIT":   `{"market": {"status": "settled", "result": ""}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		require.True(t, ok, "unexpected path %s", r.URL.Path)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	catalog := DefaultCatalog()
	catalog.Kalshi.BaseURL = srv.URL
	lookup := SettlementLookup(testClient(), catalog)

	settled, outcome, err := lookup(context.Background(), "kalshi", "KXBTC-Y")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.True(t, outcome)

	settled, outcome, err = lookup(context.Background(), "kalshi", "KXRAIN-N")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.False(t, outcome)

	settled, _, err = lookup(context.Background(), "kalshi", "KXOPEN")
	require.NoError(t, err)
	assert.False(t, settled)

	settled, _, err = lookup(context.Background(), "kalshi", "KXWAIT")
	require.NoError(t, err)
	assert.False(t, settled, "settled status without a posted result stays pending")
}

func TestSettlementLookup_Polymarket(t *testing.T) {
	responses := map[string]string{
		"/markets/0xwon":  `{"id": "0xwon", "closed": true, "outcomePrices": "[\"0.999\", \"0.001\"]"}`,
		"/markets/0xlost": `{"id": "0xlost", "closed": true, "outcomePrices": "[\"0.002\", \"0.998\"]"}`,
		"/markets/0xopen": `{"id": "0xopen", "closed": false, "outcomePrices": "[\"0.40\", \"0.60\"]"}`,
		"/markets/0xbad":  `{"id": "0xbad", "closed": true, "outcomePrices": ""}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		require.True(t, ok, "unexpected path %s", r.URL.Path)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	catalog := DefaultCatalog()
	catalog.Polymarket.BaseURL = srv.URL
	lookup := SettlementLookup(testClient(), catalog)

	settled, outcome, err := lookup(context.Background(), "polymarket", "0xwon")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.True(t, outcome)

	settled, outcome, err = lookup(context.Background(), "polymarket", "0xlost")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.False(t, outcome)

	settled, _, err = lookup(context.Background(), "polymarket", "0xopen")
	require.NoError(t, err)
	assert.False(t, settled)

	_, _, err = lookup(context.Background(), "polymarket", "0xbad")
	assert.ErrorContains(t, err, "no readable outcome price")
}

func TestSettlementLookup_UnknownPlatform(t *testing.T) {
	lookup := SettlementLookup(testClient(), DefaultCatalog())
	_, _, err := lookup(context.Background(), "predictit", "m1")
	assert.ErrorContains(t, err, "no settlement probe")
}
