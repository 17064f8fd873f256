package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInvokeLocalSuccess(t *testing.T) {
	inv := New(nil)
	inv.RegisterLocal("lookup_order", func(ctx context.Context, args map[string]any) (Result, error) {
		return Result{Success: true, Output: args["orderId"]}, nil
	})

	res := inv.Invoke(context.Background(), "lookup_order", map[string]any{"orderId": "o-1"}, 1000, "exec-1", "s1")
	require.True(t, res.Success)
	require.Equal(t, "o-1", res.Output)
	require.GreaterOrEqual(t, res.LatencyMs, int64(0))
}

func TestInvokeLocalRemapsAliases(t *testing.T) {
	inv := New(AliasMap{"party_size": "guests"})
	var seen map[string]any
	inv.RegisterLocal("reserve_table", func(ctx context.Context, args map[string]any) (Result, error) {
		seen = args
		return Result{Success: true}, nil
	})

	inv.Invoke(context.Background(), "reserve_table", map[string]any{"party_size": 4}, 1000, "e", "s")
	require.Equal(t, 4, seen["guests"])
	_, hasOld := seen["party_size"]
	require.False(t, hasOld)
}

func TestInvokeLocalTimeout(t *testing.T) {
	inv := New(nil)
	inv.RegisterLocal("slow", func(ctx context.Context, args map[string]any) (Result, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return Result{Success: true}, nil
	})

	res := inv.Invoke(context.Background(), "slow", nil, 10, "e", "s")
	require.False(t, res.Success)
	require.Equal(t, "timeout", res.Error)
}

func TestInvokeUnknownTool(t *testing.T) {
	inv := New(nil)
	res := inv.Invoke(context.Background(), "ghost", nil, 1000, "e", "s")
	require.False(t, res.Success)
	require.Contains(t, res.Error, "unknown tool")
}

func TestInvokeRemoteDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))
		json.NewEncoder(w).Encode(Result{Success: true, Output: "ok"})
	}))
	defer srv.Close()

	inv := New(nil)
	inv.RegisterRemote("charge_card", Remote{URL: srv.URL})

	res := inv.Invoke(context.Background(), "charge_card", map[string]any{"amount": 10}, 5000, "exec-1", "step-2")
	require.True(t, res.Success)
	require.Equal(t, "ok", res.Output)
}

func TestInvokeRemoteNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	inv := New(nil)
	inv.RegisterRemote("flaky", Remote{URL: srv.URL})

	res := inv.Invoke(context.Background(), "flaky", nil, 5000, "e", "s")
	require.False(t, res.Success)
	require.Contains(t, res.Error, "500")
}
