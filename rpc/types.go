package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"htlcchain/crypto"
	"htlcchain/native/htlc"
)

// CreateParams is the parameter object of htlc_create.
type CreateParams struct {
	Caller     string `json:"caller"`
	Redeemer   string `json:"redeemer"`
	Timelock   uint64 `json:"timelock"`
	Amount     string `json:"amount"`
	SecretHash string `json:"secretHash"`
}

// CreateOnBehalfParams is the parameter object of htlc_createOnBehalf. Caller
// is the relayer funding the order; Initiator signed it.
type CreateOnBehalfParams struct {
	CreateParams
	Initiator string `json:"initiator"`
	Signature string `json:"signature"`
}

type RedeemParams struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type OrderIDParams struct {
	ID string `json:"id"`
}

type BalanceParams struct {
	Address string `json:"address"`
}

type ApproveParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type AllowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type TransferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type AdvanceParams struct {
	Blocks uint64 `json:"blocks"`
}

// EventsParams filters htlc_events. Empty fields match every event; Limit
// keeps the most recent matches.
type EventsParams struct {
	Type  string `json:"type,omitempty"`
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type OrderIDResult struct {
	ID string `json:"id"`
}

type SettleResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OrderResult is the JSON rendering of an order receipt.
type OrderResult struct {
	ID         string `json:"id"`
	Initiator  string `json:"initiator"`
	Redeemer   string `json:"redeemer"`
	Funder     string `json:"funder"`
	Amount     string `json:"amount"`
	SecretHash string `json:"secretHash"`
	CreatedAt  uint64 `json:"createdAt"`
	Timelock   uint64 `json:"timelock"`
	ExpiresAt  uint64 `json:"expiresAt"`
	Fulfilled  bool   `json:"fulfilled"`
	Status     string `json:"status"`
	Secret     string `json:"secret,omitempty"`
	ResolvedAt uint64 `json:"resolvedAt,omitempty"`
}

type EscrowedResult struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type AllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type HeightResult struct {
	Height uint64 `json:"height"`
}

// DomainResult describes the typed-data domain on-behalf signatures target.
type DomainResult struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

func parseAddress(field, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("%s required", field)
	}
	addr, err := crypto.ParseAccount(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromArray(addr).String()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	return amount, nil
}

func parsePositiveAmount(value string) (*big.Int, error) {
	amount, err := parseAmount(value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func decodeHex(field, value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return raw, nil
}

func parseHash(field, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := decodeHex(field, value)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("%s must be 32 bytes", field)
	}
	copy(out[:], raw)
	return out, nil
}

func formatHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func formatOrder(o *htlc.Order) OrderResult {
	amount := "0"
	if o.Amount != nil {
		amount = o.Amount.String()
	}
	res := OrderResult{
		ID:         formatHex(o.ID[:]),
		Initiator:  formatAddress(o.Initiator),
		Redeemer:   formatAddress(o.Redeemer),
		Funder:     formatAddress(o.Funder),
		Amount:     amount,
		SecretHash: formatHex(o.SecretHash[:]),
		CreatedAt:  o.CreatedAt,
		Timelock:   o.Timelock,
		ExpiresAt:  o.ExpiresAt(),
		Fulfilled:  o.Fulfilled,
		Status:     o.Status.String(),
		ResolvedAt: o.ResolvedAt,
	}
	if len(o.Secret) > 0 {
		res.Secret = formatHex(o.Secret)
	}
	return res
}

// toCreateParams converts wire parameters into engine parameters.
func (p CreateParams) toCreateParams() (htlc.CreateParams, error) {
	redeemer, err := parseAddress("redeemer", p.Redeemer)
	if err != nil {
		return htlc.CreateParams{}, err
	}
	amount, err := parsePositiveAmount(p.Amount)
	if err != nil {
		return htlc.CreateParams{}, err
	}
	hash, err := parseHash("secretHash", p.SecretHash)
	if err != nil {
		return htlc.CreateParams{}, err
	}
	if p.Timelock == 0 {
		return htlc.CreateParams{}, fmt.Errorf("timelock must be positive")
	}
	return htlc.CreateParams{Redeemer: redeemer, Timelock: p.Timelock, Amount: amount, SecretHash: hash}, nil
}
