package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testUnit() domain.Unit {
	return domain.Unit{
		ID:   "u-1",
		Pair: domain.NewTokenPair("SOL", "USDC"),
		Steps: []domain.Step{
			{Kind: domain.StepBorrow, Exchange: "solend", TokenIn: "USDC", AmountIn: 100},
			{Kind: domain.StepSwap, Exchange: "raydium", TokenIn: "USDC", TokenOut: "SOL", AmountIn: 100, MinAmountOut: 4.42},
			{Kind: domain.StepSwap, Exchange: "orca", TokenIn: "SOL", TokenOut: "USDC", AmountIn: 4.44, MinAmountOut: 100.5},
			{Kind: domain.StepRepay, Exchange: "solend", TokenIn: "USDC", AmountIn: 100.3},
		},
		Deadline: time.Unix(1700000030, 0),
	}
}

func TestSignUnitRecoversSigner(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 1)
	require.NoError(t, err)

	digest, sig, err := s.SignUnit(testUnit())
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	d := UnitDigest(s.DomainSeparator(), testUnit())
	assert.Equal(t, digest, "0x"+hex.EncodeToString(d))

	addr, err := RecoverAddress(d, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestUnitDigestCoversSteps(t *testing.T) {
	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)

	u := testUnit()
	before := UnitDigest(s.DomainSeparator(), u)
	u.Steps[1].MinAmountOut = 4.0
	assert.NotEqual(t, before, UnitDigest(s.DomainSeparator(), u))

	other, err := NewSigner(testKey, 5)
	require.NoError(t, err)
	assert.NotEqual(t, before, UnitDigest(other.DomainSeparator(), testUnit()))
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key", 1)
	assert.Error(t, err)
}

func TestKeyFileRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := KeySource{EncryptedKeyPath: path, KeyPassword: "hunter2"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = KeySource{EncryptedKeyPath: path, KeyPassword: "wrong"}.Resolve()
	assert.Error(t, err)
}

func TestKeySourcePrefersRaw(t *testing.T) {
	got, err := KeySource{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/nonexistent"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = KeySource{}.Resolve()
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestRelayAuth(t *testing.T) {
	auth := RelayAuth{Key: "key-123", Secret: "s3cret"}
	body := []byte(`{"id":"u-1"}`)
	h := auth.HeadersAt("POST", "/v1/bundles", body, 1700000000)

	assert.Equal(t, "key-123", h[HeaderAPIKey])
	assert.Equal(t, "1700000000", h[HeaderTimestamp])
	assert.True(t, auth.Verify("POST", "/v1/bundles", body, "1700000000", h[HeaderSignature]))
	assert.False(t, auth.Verify("POST", "/v1/bundles", []byte(`{}`), "1700000000", h[HeaderSignature]))
	assert.NotContains(t, auth.String(), "s3cret")
}
