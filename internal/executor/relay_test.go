package executor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

const relayKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func relayUnit() domain.Unit {
	opp := domain.Opportunity{Pair: solUSDC, BuyExchange: "DEX1", SellExchange: "DEX2", BuyPrice: 22.50, SellPrice: 22.75}
	return BuildUnit("u-relay", opp, 100, nil, UnitParams{SlippageTolerance: 0.5, Deadline: time.Unix(1700000030, 0)})
}

func TestRelaySubmitterSignsAndConfirms(t *testing.T) {
	signer, err := crypto.NewSigner(relayKey, 1)
	require.NoError(t, err)
	auth := crypto.RelayAuth{Key: "k", Secret: "s"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, bundlesPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.True(t, auth.Verify(r.Method, r.URL.Path, body,
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)))

		var req bundleRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		digest, err := hex.DecodeString(strings.TrimPrefix(req.Digest, "0x"))
		assert.NoError(t, err)
		addr, err := crypto.RecoverAddress(digest, req.Signature)
		assert.NoError(t, err)
		assert.Equal(t, req.Signer, addr.Hex())

		_ = json.NewEncoder(w).Encode(bundleResponse{Status: "confirmed", TxID: "0xabc", Profit: 0.42})
	}))
	defer srv.Close()

	r, err := NewRelaySubmitter(srv.URL, signer, auth).Submit(context.Background(), relayUnit())
	require.NoError(t, err)
	assert.True(t, r.Confirmed)
	assert.Equal(t, "0xabc", r.TxID)
	assert.InDelta(t, 0.42, r.Profit, 1e-9)
}

func TestRelaySubmitterClassifiesStatus(t *testing.T) {
	signer, err := crypto.NewSigner(relayKey, 1)
	require.NoError(t, err)

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, domain.ErrStateChanged},
		{http.StatusServiceUnavailable, domain.ErrTransientSubmit},
		{http.StatusTooManyRequests, domain.ErrTransientSubmit},
		{http.StatusGatewayTimeout, domain.ErrConfirmationTimeout},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewRelaySubmitter(srv.URL, signer, crypto.RelayAuth{}).Submit(context.Background(), relayUnit())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRelaySubmitterRejectedUnit(t *testing.T) {
	signer, err := crypto.NewSigner(relayKey, 1)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(bundleResponse{Status: "rejected", Reason: "slippage"})
	}))
	defer srv.Close()

	r, err := NewRelaySubmitter(srv.URL, signer, crypto.RelayAuth{}).Submit(context.Background(), relayUnit())
	require.NoError(t, err)
	assert.False(t, r.Confirmed)
	assert.Equal(t, "slippage", r.Reason)
}
