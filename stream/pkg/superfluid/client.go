// Package superfluid holds the thin clients for the streaming-pool
// collaborators: the subgraph that serves settled pool snapshots and the
// distributor service that submits unit updates on-chain.
package superfluid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowdroplabs/flowdrop/stream/pkg/accrual"
	"github.com/flowdroplabs/flowdrop/stream/pkg/view"
	"github.com/flowdroplabs/flowdrop/utils/pkg/retry"
)

const poolMemberQuery = `query PoolMember($pool: String!, $member: String!) {
  poolMembers(first: 1, where: {pool: $pool, account: $member}) {
    units
    totalAmountReceivedUntilUpdatedAt
    updatedAtTimestamp
    pool {
      flowRate
      totalUnits
    }
  }
}`

// SubgraphClient fetches pool member snapshots from a Superfluid-style
// subgraph. Implements view.SnapshotFetcher.
type SubgraphClient struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// NewSubgraphClient creates a subgraph client for the given GraphQL endpoint.
func NewSubgraphClient(url string, log *slog.Logger) *SubgraphClient {
	// Custom transport with dial timeout for fast failure on connection issues
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}

	return &SubgraphClient{
		url: strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		log: log,
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type poolMemberResponse struct {
	Data struct {
		PoolMembers []struct {
			Units                             string `json:"units"`
			TotalAmountReceivedUntilUpdatedAt string `json:"totalAmountReceivedUntilUpdatedAt"`
			UpdatedAtTimestamp                string `json:"updatedAtTimestamp"`
			Pool                              struct {
				FlowRate   string `json:"flowRate"`
				TotalUnits string `json:"totalUnits"`
			} `json:"pool"`
		} `json:"poolMembers"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchSnapshot queries the subgraph for the member's settled snapshot.
// Returns view.ErrNoMember when the pool holds no record for the member.
func (c *SubgraphClient) FetchSnapshot(ctx context.Context, poolID, member string) (accrual.PoolSnapshot, error) {
	reqBody, err := json.Marshal(graphqlRequest{
		Query: poolMemberQuery,
		Variables: map[string]any{
			"pool":   strings.ToLower(poolID),
			"member": strings.ToLower(member),
		},
	})
	if err != nil {
		return accrual.PoolSnapshot{}, fmt.Errorf("failed to marshal subgraph query: %w", err)
	}

	var body []byte
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
		if reqErr != nil {
			return fmt.Errorf("failed to create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			c.log.Warn("subgraph request failed, will retry if retryable", "error", doErr, "url", c.url)
			return fmt.Errorf("failed to send request: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			msg, _ := io.ReadAll(resp.Body)
			return &apiError{statusCode: resp.StatusCode, message: string(msg)}
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("subgraph error: %s (status %d)", string(msg), resp.StatusCode)
		}

		body, doErr = io.ReadAll(resp.Body)
		if doErr != nil {
			return fmt.Errorf("failed to read response: %w", doErr)
		}
		return nil
	})
	if err != nil {
		return accrual.PoolSnapshot{}, err
	}

	var parsed poolMemberResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return accrual.PoolSnapshot{}, fmt.Errorf("failed to parse subgraph response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return accrual.PoolSnapshot{}, fmt.Errorf("subgraph query error: %s", parsed.Errors[0].Message)
	}
	if len(parsed.Data.PoolMembers) == 0 {
		return accrual.PoolSnapshot{}, view.ErrNoMember
	}

	pm := parsed.Data.PoolMembers[0]

	memberUnits, err := parseBigInt("units", pm.Units)
	if err != nil {
		return accrual.PoolSnapshot{}, err
	}
	settled, err := parseBigInt("totalAmountReceivedUntilUpdatedAt", pm.TotalAmountReceivedUntilUpdatedAt)
	if err != nil {
		return accrual.PoolSnapshot{}, err
	}
	flowRate, err := parseBigInt("pool.flowRate", pm.Pool.FlowRate)
	if err != nil {
		return accrual.PoolSnapshot{}, err
	}
	totalUnits, err := parseBigInt("pool.totalUnits", pm.Pool.TotalUnits)
	if err != nil {
		return accrual.PoolSnapshot{}, err
	}
	updatedAtUnix, err := strconv.ParseInt(pm.UpdatedAtTimestamp, 10, 64)
	if err != nil {
		return accrual.PoolSnapshot{}, fmt.Errorf("invalid updatedAtTimestamp %q: %w", pm.UpdatedAtTimestamp, err)
	}

	return accrual.PoolSnapshot{
		PoolFlowRate:  flowRate,
		TotalUnits:    totalUnits,
		MemberUnits:   memberUnits,
		SettledAmount: settled,
		UpdatedAt:     time.Unix(updatedAtUnix, 0).UTC(),
	}, nil
}

func parseBigInt(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer for %s: %q", field, s)
	}
	return v, nil
}

// apiError carries an HTTP status code so retry.IsRetryable can classify it.
type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error: %s (status %d)", e.message, e.statusCode)
}

func (e *apiError) StatusCode() int {
	return e.statusCode
}
