package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"htlcchain/cmd/internal/passphrase"
	"htlcchain/rpc"
)

const (
	rpcURLEnv       = "HTLC_RPC_URL"
	rpcTokenEnv     = "HTLC_RPC_TOKEN"
	keystorePassEnv = "HTLC_KEYSTORE_PASS"
	callTimeout     = 30 * time.Second
)

type rpcCaller interface {
	Call(ctx context.Context, method string, params interface{}, out interface{}) error
}

type cli struct {
	client     rpcCaller
	stdout     io.Writer
	stderr     io.Writer
	passphrase func() (string, error)
}

func main() {
	args, endpoint, err := applyGlobalFlags(os.Args[1:], defaultRPCEndpoint())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	c := &cli{
		client:     rpc.NewClient(endpoint, os.Getenv(rpcTokenEnv)),
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		passphrase: passphrase.NewSource(keystorePassEnv).Get,
	}
	os.Exit(c.run(args))
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string, endpoint string) ([]string, string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("missing value for --rpc")
			}
			endpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			endpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, endpoint, nil
}

func (c *cli) run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	cmds := map[string]func([]string) int{
		"keygen":           c.runKeygen,
		"secret":           c.runSecret,
		"sign-initiate":    c.runSignInitiate,
		"create":           c.runCreate,
		"create-on-behalf": c.runCreateOnBehalf,
		"redeem":           c.runRedeem,
		"refund":           c.runRefund,
		"get":              c.runGet,
		"balance":          c.runBalance,
		"approve":          c.runApprove,
		"height":           c.runHeight,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	return cmd(args[1:])
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// call runs one RPC and prints its result as indented JSON.
func (c *cli) call(method string, params interface{}, out interface{}) int {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := c.client.Call(ctx, method, params, out); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	return c.print(out)
}

func (c *cli) print(v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: encode output: %v\n", err)
		return 1
	}
	fmt.Fprintln(c.stdout, string(data))
	return 0
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func usage() string {
	return strings.TrimSpace(`
Usage: htlc-cli [--rpc URL] <command> [flags]

Commands:
  keygen            -out FILE [-light]                     create an encrypted keystore
  secret                                                   generate a secret and its hash
  sign-initiate     -keystore FILE -redeemer ADDR -timelock N -amount N -secret-hash HEX [-chain-id N]
  create            -caller ADDR -redeemer ADDR -timelock N -amount N -secret-hash HEX
  create-on-behalf  -caller ADDR -initiator ADDR -signature HEX -redeemer ADDR -timelock N -amount N -secret-hash HEX
  redeem            -id HEX -secret HEX
  refund            -id HEX
  get               -id HEX
  balance           -address ADDR
  approve           -owner ADDR -amount N [-spender ADDR]  approve the escrow (default) to pull funds
  height

Environment:
  HTLC_RPC_URL        node endpoint (default http://localhost:8080)
  HTLC_RPC_TOKEN      bearer token for create, approve and transfer calls
  HTLC_KEYSTORE_PASS  keystore passphrase; prompted when unset`)
}
