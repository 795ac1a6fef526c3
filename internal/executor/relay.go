package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

const bundlesPath = "/v1/bundles"

// bundleRequest is the body POSTed to the relay.
type bundleRequest struct {
	Unit      domain.Unit `json:"unit"`
	Digest    string      `json:"digest"`
	Signature string      `json:"signature"`
	Signer    string      `json:"signer"`
}

// bundleResponse is the relay's verdict on a bundle.
type bundleResponse struct {
	Status   string             `json:"status"` // confirmed | rejected
	TxID     string             `json:"tx_id"`
	Profit   float64            `json:"profit"`
	Realized map[string]float64 `json:"realized"`
	Reason   string             `json:"reason"`
}

// RelaySubmitter signs units and hands them to a bundle relay that lands
// them atomically on chain.
type RelaySubmitter struct {
	baseURL    string
	signer     *crypto.Signer
	auth       crypto.RelayAuth
	httpClient *http.Client
}

// NewRelaySubmitter creates a relay submitter. auth may be zero when the
// relay is unauthenticated.
func NewRelaySubmitter(baseURL string, signer *crypto.Signer, auth crypto.RelayAuth) *RelaySubmitter {
	return &RelaySubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Submit implements domain.Submitter. The caller's context bounds the wait
// for confirmation.
func (r *RelaySubmitter) Submit(ctx context.Context, unit domain.Unit) (domain.Receipt, error) {
	digest, sig, err := r.signer.SignUnit(unit)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("relay: sign unit %s: %w", unit.ID, err)
	}
	body, err := json.Marshal(bundleRequest{
		Unit:      unit,
		Digest:    digest,
		Signature: sig,
		Signer:    r.signer.Address().Hex(),
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("relay: marshal bundle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+bundlesPath, bytes.NewReader(body))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("relay: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.auth.Enabled() {
		for k, v := range r.auth.Headers(http.MethodPost, bundlesPath, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Receipt{}, fmt.Errorf("relay: %w: %v", domain.ErrConfirmationTimeout, err)
		}
		// Connection-level failures never reached the relay.
		return domain.Receipt{}, fmt.Errorf("relay: %w: %v", domain.ErrTransientSubmit, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("relay: read response: %w", err)
	}
	if err := checkRelayStatus(resp.StatusCode, respBody); err != nil {
		return domain.Receipt{}, fmt.Errorf("relay: unit %s: %w", unit.ID, err)
	}

	var br bundleResponse
	if err := json.Unmarshal(respBody, &br); err != nil {
		return domain.Receipt{}, fmt.Errorf("relay: decode response: %w", err)
	}
	return domain.Receipt{
		Confirmed: br.Status == "confirmed",
		TxID:      br.TxID,
		Realized:  br.Realized,
		Profit:    br.Profit,
		Reason:    br.Reason,
	}, nil
}

// checkRelayStatus maps non-2xx status codes to submission error classes.
func checkRelayStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch {
	case statusCode == http.StatusConflict, statusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", domain.ErrStateChanged, msg)
	case statusCode == http.StatusGatewayTimeout, statusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", domain.ErrConfirmationTimeout, msg)
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrTransientSubmit, statusCode, msg)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", statusCode, msg)
	}
}
