package main

import (
	"flag"
	"fmt"
	"sort"
	"strings"

	"htlcchain/crypto"
	"htlcchain/native/htlc"
	"htlcchain/rpc"
)

// orderFlags are the fields shared by create, create-on-behalf and
// sign-initiate.
type orderFlags struct {
	redeemer   string
	timelock   uint64
	amount     string
	secretHash string
}

func (o *orderFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&o.redeemer, "redeemer", "", "account allowed to redeem with the secret")
	fs.Uint64Var(&o.timelock, "timelock", 0, "blocks after creation before a refund is possible")
	fs.StringVar(&o.amount, "amount", "", "amount in base units")
	fs.StringVar(&o.secretHash, "secret-hash", "", "0x-prefixed sha256 of the secret")
}

func (o *orderFlags) params(caller string) rpc.CreateParams {
	return rpc.CreateParams{
		Caller:     strings.TrimSpace(caller),
		Redeemer:   strings.TrimSpace(o.redeemer),
		Timelock:   o.timelock,
		Amount:     strings.TrimSpace(o.amount),
		SecretHash: strings.TrimSpace(o.secretHash),
	}
}

func requireFlags(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *cli) runCreate(args []string) int {
	fs := c.flagSet("create")
	var caller string
	var order orderFlags
	fs.StringVar(&caller, "caller", "", "funding and initiating account")
	order.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{
		"caller": caller, "redeemer": order.redeemer, "amount": order.amount, "secret-hash": order.secretHash,
	}); err != nil {
		return c.fail(err)
	}
	var out rpc.OrderIDResult
	return c.call("htlc_create", order.params(caller), &out)
}

func (c *cli) runCreateOnBehalf(args []string) int {
	fs := c.flagSet("create-on-behalf")
	var caller, initiator, signature string
	var order orderFlags
	fs.StringVar(&caller, "caller", "", "relayer account funding the order")
	fs.StringVar(&initiator, "initiator", "", "account that signed the order")
	fs.StringVar(&signature, "signature", "", "0x-prefixed 65 byte signature from sign-initiate")
	order.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{
		"caller": caller, "initiator": initiator, "signature": signature,
		"redeemer": order.redeemer, "amount": order.amount, "secret-hash": order.secretHash,
	}); err != nil {
		return c.fail(err)
	}
	var out rpc.OrderIDResult
	return c.call("htlc_createOnBehalf", rpc.CreateOnBehalfParams{
		CreateParams: order.params(caller),
		Initiator:    strings.TrimSpace(initiator),
		Signature:    strings.TrimSpace(signature),
	}, &out)
}

func (c *cli) runRedeem(args []string) int {
	fs := c.flagSet("redeem")
	var id, secret string
	fs.StringVar(&id, "id", "", "order id")
	fs.StringVar(&secret, "secret", "", "0x-prefixed 32 byte secret")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"id": id, "secret": secret}); err != nil {
		return c.fail(err)
	}
	var out rpc.SettleResult
	return c.call("htlc_redeem", rpc.RedeemParams{ID: strings.TrimSpace(id), Secret: strings.TrimSpace(secret)}, &out)
}

func (c *cli) runRefund(args []string) int {
	id, ok := c.parseOrderID("refund", args)
	if !ok {
		return 1
	}
	var out rpc.SettleResult
	return c.call("htlc_refund", rpc.OrderIDParams{ID: id}, &out)
}

func (c *cli) runGet(args []string) int {
	id, ok := c.parseOrderID("get", args)
	if !ok {
		return 1
	}
	var out rpc.OrderResult
	return c.call("htlc_getOrder", rpc.OrderIDParams{ID: id}, &out)
}

func (c *cli) parseOrderID(name string, args []string) (string, bool) {
	fs := c.flagSet(name)
	var id string
	fs.StringVar(&id, "id", "", "order id")
	if err := fs.Parse(args); err != nil {
		return "", false
	}
	if err := requireFlags(map[string]string{"id": id}); err != nil {
		c.fail(err)
		return "", false
	}
	return strings.TrimSpace(id), true
}

func (c *cli) runBalance(args []string) int {
	fs := c.flagSet("balance")
	var address string
	fs.StringVar(&address, "address", "", "account to query")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"address": address}); err != nil {
		return c.fail(err)
	}
	var out rpc.BalanceResult
	return c.call("token_balance", rpc.BalanceParams{Address: strings.TrimSpace(address)}, &out)
}

func (c *cli) runApprove(args []string) int {
	fs := c.flagSet("approve")
	var owner, spender, amount string
	fs.StringVar(&owner, "owner", "", "token owner")
	fs.StringVar(&spender, "spender", crypto.AddressFromArray(htlc.EscrowAccount).String(), "spender; defaults to the escrow account")
	fs.StringVar(&amount, "amount", "", "allowance in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"owner": owner, "spender": spender, "amount": amount}); err != nil {
		return c.fail(err)
	}
	var out rpc.OKResult
	return c.call("token_approve", rpc.ApproveParams{
		Owner:   strings.TrimSpace(owner),
		Spender: strings.TrimSpace(spender),
		Amount:  strings.TrimSpace(amount),
	}, &out)
}

func (c *cli) runHeight(args []string) int {
	fs := c.flagSet("height")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var out rpc.HeightResult
	return c.call("chain_height", nil, &out)
}
