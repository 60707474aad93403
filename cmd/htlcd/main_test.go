package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"htlcchain/config"
	"htlcchain/observability/logging"
	"htlcchain/rpc"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.RPC.AuthToken = "from-file"
	env := map[string]string{
		rpcTokenEnv:  "  from-env ",
		jwtSecretEnv: "",
		envNameEnv:   "staging",
	}
	applyEnvOverrides(cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.Equal(t, "from-env", cfg.RPC.AuthToken)
	require.Empty(t, cfg.RPC.JWTSecret, "blank values must not override")
	require.Equal(t, "staging", cfg.Logging.Env)
}

func TestDaemonServesAndStops(t *testing.T) {
	const funded = "0x5a00000000000000000000000000000000000001"
	cfg := config.Default()
	cfg.StorageBackend = "memory"
	cfg.BlockInterval = "20ms"
	cfg.RPC.Address = freeAddr(t)
	cfg.RPC.AuthToken = "daemon-test"
	cfg.Genesis = []config.GenesisAlloc{{Address: funded, Amount: "500"}}
	require.NoError(t, config.ValidateConfig(cfg))

	d, err := newDaemon(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(d.close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	base := fmt.Sprintf("http://%s", cfg.RPC.Address)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	client := rpc.NewClient(base, "")
	var balance rpc.BalanceResult
	require.NoError(t, client.Call(ctx, "token_balance", rpc.BalanceParams{Address: funded}, &balance))
	require.Equal(t, "500", balance.Balance)

	require.Eventually(t, func() bool { return d.node.CurrentHeight() > 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
