package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"htlcchain/crypto"
	"htlcchain/native/htlc"
	"htlcchain/rpc"
)

type keygenResult struct {
	Address  string `json:"address"`
	Hex      string `json:"hex"`
	Keystore string `json:"keystore"`
}

type secretResult struct {
	Secret     string `json:"secret"`
	SecretHash string `json:"secretHash"`
}

type signResult struct {
	Initiator string `json:"initiator"`
	ChainID   uint64 `json:"chainId"`
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
}

func (c *cli) runKeygen(args []string) int {
	fs := c.flagSet("keygen")
	var out string
	var light bool
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters (development keys only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"out": out}); err != nil {
		return c.fail(err)
	}
	pass, err := c.passphrase()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(fmt.Errorf("generate key: %w", err))
	}
	strength := crypto.KeystoreStandard
	if light {
		strength = crypto.KeystoreLight
	}
	if err := crypto.SaveToKeystore(out, key, pass, strength); err != nil {
		return c.fail(err)
	}
	addr := key.PubKey().Address()
	return c.print(keygenResult{
		Address:  addr.String(),
		Hex:      common.BytesToAddress(addr.Bytes()).Hex(),
		Keystore: out,
	})
}

func (c *cli) runSecret(args []string) int {
	fs := c.flagSet("secret")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	secret, hash, err := htlc.NewSecret()
	if err != nil {
		return c.fail(err)
	}
	return c.print(secretResult{
		Secret:     "0x" + hex.EncodeToString(secret),
		SecretHash: "0x" + hex.EncodeToString(hash[:]),
	})
}

func (c *cli) runSignInitiate(args []string) int {
	fs := c.flagSet("sign-initiate")
	var keystorePath string
	var chainID uint64
	var order orderFlags
	fs.StringVar(&keystorePath, "keystore", "", "keystore of the initiating account")
	fs.Uint64Var(&chainID, "chain-id", 0, "chain id of the target node; fetched from the node when zero")
	order.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{
		"keystore": keystorePath, "redeemer": order.redeemer, "amount": order.amount, "secret-hash": order.secretHash,
	}); err != nil {
		return c.fail(err)
	}
	params, err := order.engineParams()
	if err != nil {
		return c.fail(err)
	}
	domain, err := c.resolveDomain(chainID)
	if err != nil {
		return c.fail(err)
	}
	pass, err := c.passphrase()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		return c.fail(err)
	}
	digest, err := htlc.TypedDigest(domain, params)
	if err != nil {
		return c.fail(err)
	}
	sig, err := htlc.SignInitiate(key, domain, params)
	if err != nil {
		return c.fail(err)
	}
	return c.print(signResult{
		Initiator: key.PubKey().Address().String(),
		ChainID:   domain.ChainID,
		Digest:    "0x" + hex.EncodeToString(digest[:]),
		Signature: "0x" + hex.EncodeToString(sig),
	})
}

// resolveDomain uses chainID when set and otherwise asks the node.
func (c *cli) resolveDomain(chainID uint64) (htlc.Domain, error) {
	if chainID != 0 {
		return htlc.NewDomain(chainID, htlc.EscrowAccount), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	var res rpc.DomainResult
	if err := c.client.Call(ctx, "htlc_domain", nil, &res); err != nil {
		return htlc.Domain{}, fmt.Errorf("fetch signing domain: %w", err)
	}
	if !common.IsHexAddress(res.VerifyingContract) {
		return htlc.Domain{}, fmt.Errorf("node returned invalid verifying contract %q", res.VerifyingContract)
	}
	domain := htlc.NewDomain(res.ChainID, common.HexToAddress(res.VerifyingContract))
	if domain.Name != res.Name || domain.Version != res.Version {
		return htlc.Domain{}, fmt.Errorf("node signs %s/%s, cli supports %s/%s", res.Name, res.Version, domain.Name, domain.Version)
	}
	return domain, nil
}

func (o *orderFlags) engineParams() (htlc.CreateParams, error) {
	redeemer, err := crypto.ParseAccount(o.redeemer)
	if err != nil {
		return htlc.CreateParams{}, fmt.Errorf("redeemer: %w", err)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(o.amount), 10)
	if !ok || amount.Sign() <= 0 {
		return htlc.CreateParams{}, errors.New("amount must be a positive integer")
	}
	if o.timelock == 0 {
		return htlc.CreateParams{}, errors.New("timelock must be positive")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(o.secretHash), "0x"))
	if err != nil || len(raw) != 32 {
		return htlc.CreateParams{}, errors.New("secret-hash must be 32 hex-encoded bytes")
	}
	var hash [32]byte
	copy(hash[:], raw)
	return htlc.CreateParams{Redeemer: redeemer, Timelock: o.timelock, Amount: amount, SecretHash: hash}, nil
}
