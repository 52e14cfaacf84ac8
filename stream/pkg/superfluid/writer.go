package superfluid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/flowdroplabs/flowdrop/utils/pkg/retry"
)

// UnitWriter submits a member's new unit count for on-chain settlement and
// reports the resulting transaction identifier.
type UnitWriter interface {
	UpdateMemberUnits(ctx context.Context, member string, units *big.Int) (txHash string, err error)
}

// DistributorClient is an HTTP client for the distributor service that
// signs and submits pool unit updates. Implements UnitWriter.
type DistributorClient struct {
	baseURL    string
	poolID     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewDistributorClient creates a distributor client for one pool.
func NewDistributorClient(baseURL, poolID string, log *slog.Logger) *DistributorClient {
	return &DistributorClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		poolID:  poolID,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log,
	}
}

type updateUnitsRequest struct {
	Units string `json:"units"`
}

type updateUnitsResponse struct {
	TxHash string `json:"tx_hash"`
}

// UpdateMemberUnits submits the new unit count and returns the transaction
// hash. Retried on transient failures; the caller decides what a hard
// failure means (scoring and persistence have already happened).
func (c *DistributorClient) UpdateMemberUnits(ctx context.Context, member string, units *big.Int) (string, error) {
	if units == nil || units.Sign() < 0 {
		return "", fmt.Errorf("units must be a non-negative integer")
	}

	reqBody, err := json.Marshal(updateUnitsRequest{Units: units.String()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal unit update: %w", err)
	}

	url := fmt.Sprintf("%s/v1/pools/%s/members/%s/units", c.baseURL, c.poolID, member)

	var parsed updateUnitsResponse
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if reqErr != nil {
			return fmt.Errorf("failed to create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			c.log.Warn("distributor request failed, will retry if retryable", "error", doErr, "url", url)
			return fmt.Errorf("failed to send request: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			msg, _ := io.ReadAll(resp.Body)
			return &apiError{statusCode: resp.StatusCode, message: string(msg)}
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("distributor error: %s (status %d)", string(msg), resp.StatusCode)
		}

		if doErr := json.NewDecoder(resp.Body).Decode(&parsed); doErr != nil {
			return fmt.Errorf("failed to parse distributor response: %w", doErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if parsed.TxHash == "" {
		return "", fmt.Errorf("distributor returned no transaction hash")
	}

	c.log.Info("submitted member unit update",
		"pool", c.poolID, "member", member, "units", units.String(), "tx", parsed.TxHash)
	return parsed.TxHash, nil
}
