package superfluid

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowdroplabs/flowdrop/stream/pkg/view"
	flowtesting "github.com/flowdroplabs/flowdrop/utils/pkg/testing"
)

func TestFlowDrop_Superfluid_SubgraphClient_FetchSnapshot(t *testing.T) {
	t.Parallel()

	t.Run("parses a full pool member snapshot", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)

			var req graphqlRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Contains(t, req.Query, "poolMembers")
			require.Equal(t, "0xpool", req.Variables["pool"])
			require.Equal(t, "0xmember", req.Variables["member"])

			_, _ = w.Write([]byte(`{"data":{"poolMembers":[{
				"units":"25",
				"totalAmountReceivedUntilUpdatedAt":"123450000000000000000",
				"updatedAtTimestamp":"1769904000",
				"pool":{"flowRate":"1000","totalUnits":"100"}
			}]}}`))
		}))
		defer srv.Close()

		c := NewSubgraphClient(srv.URL, flowtesting.NewLogger())
		s, err := c.FetchSnapshot(context.Background(), "0xPool", "0xMember")
		require.NoError(t, err)

		require.Equal(t, int64(25), s.MemberUnits.Int64())
		require.Equal(t, int64(100), s.TotalUnits.Int64())
		require.Equal(t, int64(1000), s.PoolFlowRate.Int64())
		want, ok := new(big.Int).SetString("123450000000000000000", 10)
		require.True(t, ok)
		require.Equal(t, want, s.SettledAmount)
		require.Equal(t, time.Unix(1769904000, 0).UTC(), s.UpdatedAt)
	})

	t.Run("empty result maps to ErrNoMember", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"poolMembers":[]}}`))
		}))
		defer srv.Close()

		c := NewSubgraphClient(srv.URL, flowtesting.NewLogger())
		_, err := c.FetchSnapshot(context.Background(), "0xpool", "0xmember")
		require.ErrorIs(t, err, view.ErrNoMember)
	})

	t.Run("retries 5xx responses", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"poolMembers":[{
				"units":"1","totalAmountReceivedUntilUpdatedAt":"0","updatedAtTimestamp":"0",
				"pool":{"flowRate":"0","totalUnits":"1"}
			}]}}`))
		}))
		defer srv.Close()

		c := NewSubgraphClient(srv.URL, flowtesting.NewLogger())
		s, err := c.FetchSnapshot(context.Background(), "0xpool", "0xmember")
		require.NoError(t, err)
		require.Equal(t, int64(3), calls.Load())
		require.Equal(t, int64(1), s.MemberUnits.Int64())
	})

	t.Run("graphql errors surface as errors", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"errors":[{"message":"pool not indexed"}]}`))
		}))
		defer srv.Close()

		c := NewSubgraphClient(srv.URL, flowtesting.NewLogger())
		_, err := c.FetchSnapshot(context.Background(), "0xpool", "0xmember")
		require.Error(t, err)
		require.Contains(t, err.Error(), "pool not indexed")
	})

	t.Run("malformed big integers are rejected", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"poolMembers":[{
				"units":"not-a-number","totalAmountReceivedUntilUpdatedAt":"0","updatedAtTimestamp":"0",
				"pool":{"flowRate":"0","totalUnits":"1"}
			}]}}`))
		}))
		defer srv.Close()

		c := NewSubgraphClient(srv.URL, flowtesting.NewLogger())
		_, err := c.FetchSnapshot(context.Background(), "0xpool", "0xmember")
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid big integer")
	})
}

func TestFlowDrop_Superfluid_DistributorClient_UpdateMemberUnits(t *testing.T) {
	t.Parallel()

	t.Run("submits units and returns tx hash", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/pools/0xpool/members/0xmember/units", r.URL.Path)

			var req updateUnitsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "42", req.Units)

			_, _ = w.Write([]byte(`{"tx_hash":"0xabc123"}`))
		}))
		defer srv.Close()

		c := NewDistributorClient(srv.URL, "0xpool", flowtesting.NewLogger())
		tx, err := c.UpdateMemberUnits(context.Background(), "0xmember", big.NewInt(42))
		require.NoError(t, err)
		require.Equal(t, "0xabc123", tx)
	})

	t.Run("retries transient server errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"tx_hash":"0xdef456"}`))
		}))
		defer srv.Close()

		c := NewDistributorClient(srv.URL, "0xpool", flowtesting.NewLogger())
		tx, err := c.UpdateMemberUnits(context.Background(), "0xmember", big.NewInt(7))
		require.NoError(t, err)
		require.Equal(t, "0xdef456", tx)
		require.Equal(t, int64(2), calls.Load())
	})

	t.Run("rejects negative or missing units", func(t *testing.T) {
		t.Parallel()

		c := NewDistributorClient("http://localhost:0", "0xpool", flowtesting.NewLogger())
		_, err := c.UpdateMemberUnits(context.Background(), "0xmember", big.NewInt(-1))
		require.Error(t, err)
		_, err = c.UpdateMemberUnits(context.Background(), "0xmember", nil)
		require.Error(t, err)
	})

	t.Run("missing tx hash is an error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c := NewDistributorClient(srv.URL, "0xpool", flowtesting.NewLogger())
		_, err := c.UpdateMemberUnits(context.Background(), "0xmember", big.NewInt(1))
		require.Error(t, err)
		require.Contains(t, err.Error(), "no transaction hash")
	})
}
