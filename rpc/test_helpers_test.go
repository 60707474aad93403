package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"htlcchain/core"
	"htlcchain/core/types"
	"htlcchain/observability/logging"
	"htlcchain/storage"
)

const testAuthToken = "rpc-test-token"

func testAccount(b byte) [20]byte {
	var out [20]byte
	out[0] = 0x5a
	out[19] = b
	return out
}

func newTestNode(t testing.TB, allocs ...types.Allocation) *core.Node {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.NodeOptions{
		ChainID: 4242,
		Genesis: allocs,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)
	return node
}

func newTestServer(t testing.TB, node *core.Node, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.AuthToken == "" && cfg.JWTSecret == "" {
		cfg.AuthToken = testAuthToken
	}
	cfg.EnableDevMethods = true
	cfg.Logger = logging.Discard()
	return NewServer(node, cfg)
}

func fund(addr [20]byte, amount int64) types.Allocation {
	return types.Allocation{Address: addr, Amount: big.NewInt(amount)}
}

// call issues one JSON-RPC request and decodes the response. token may be
// empty for unauthenticated calls.
func call(t testing.TB, srv *Server, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.RemoteAddr = "192.0.2.10:5555"
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httpReq)

	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

// decodeResult re-encodes the generic result into out.
func decodeResult(t testing.TB, resp RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}
