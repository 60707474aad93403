package rpc

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientRoundTrip(t *testing.T) {
	alice, bob := testAccount(1), testAccount(2)
	srv := newTestServer(t, newTestNode(t, fund(alice, 25)), ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	client := NewClient(ts.URL, testAuthToken)
	require.Equal(t, ts.URL, client.Endpoint())

	var ok OKResult
	require.NoError(t, client.Call(ctx, "token_transfer", TransferParams{
		From: formatAddress(alice), To: formatAddress(bob), Amount: "5",
	}, &ok))
	require.True(t, ok.OK)

	var balance BalanceResult
	require.NoError(t, client.Call(ctx, "token_balance", BalanceParams{Address: formatAddress(bob)}, &balance))
	require.Equal(t, "5", balance.Balance)

	var missing [32]byte
	err := client.Call(ctx, "htlc_getOrder", OrderIDParams{ID: formatHex(missing[:])}, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	require.Equal(t, codeHTLCNotFound, rpcErr.Code)
}

func TestClientRequiresTokenForPrivilegedMethods(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "")
	err := client.Call(context.Background(), "htlc_create", CreateParams{}, nil)
	require.ErrorIs(t, err, ErrAuthTokenRequired)
}
