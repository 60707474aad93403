package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"htlcchain/crypto"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromArray(addr).String()
}

func formatHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
