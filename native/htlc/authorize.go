package htlc

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"htlcchain/crypto"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = 65

const (
	domainName    = "HTLC"
	domainVersion = "1"
)

var (
	domainTypeHash = ethcrypto.Keccak256Hash(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	initiateTypeHash = ethcrypto.Keccak256Hash(
		[]byte("Initiate(address redeemer,uint256 timelock,uint256 amount,bytes32 secretHash)"),
	)

	errAmountOverflow = errors.New("htlc: amount exceeds 256 bits")
)

// Domain scopes on-behalf signatures to one chain and one escrow account.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract [20]byte
}

// NewDomain returns the signing domain of the escrow account on chainID.
func NewDomain(chainID uint64, escrow [20]byte) Domain {
	return Domain{Name: domainName, Version: domainVersion, ChainID: chainID, VerifyingContract: escrow}
}

// Separator returns keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func (d Domain) Separator() [32]byte {
	chainID := uint256.NewInt(d.ChainID).Bytes32()
	return ethcrypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		chainID[:],
		common.LeftPadBytes(d.VerifyingContract[:], 32),
	)
}

func uint256Word(v *big.Int) ([32]byte, error) {
	if v == nil || v.Sign() < 0 {
		return [32]byte{}, ErrInvalidAmount
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, errAmountOverflow
	}
	return word.Bytes32(), nil
}

// InitiateHash returns the struct hash of the order parameters.
func InitiateHash(p CreateParams) ([32]byte, error) {
	amount, err := uint256Word(p.Amount)
	if err != nil {
		return [32]byte{}, err
	}
	timelock := uint256.NewInt(p.Timelock).Bytes32()
	return ethcrypto.Keccak256Hash(
		initiateTypeHash.Bytes(),
		common.LeftPadBytes(p.Redeemer[:], 32),
		timelock[:],
		amount[:],
		p.SecretHash[:],
	), nil
}

// TypedDigest returns keccak256(0x19 0x01 || domainSeparator || structHash),
// the message an initiator signs to authorise an on-behalf order.
func TypedDigest(d Domain, p CreateParams) ([32]byte, error) {
	structHash, err := InitiateHash(p)
	if err != nil {
		return [32]byte{}, err
	}
	separator := d.Separator()
	return ethcrypto.Keccak256Hash([]byte{0x19, 0x01}, separator[:], structHash[:]), nil
}

// Authorizer decides whether sig over digest was produced by claimed.
type Authorizer interface {
	Authorize(claimed [20]byte, digest [32]byte, sig []byte) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(claimed [20]byte, digest [32]byte, sig []byte) bool

func (f AuthorizerFunc) Authorize(claimed [20]byte, digest [32]byte, sig []byte) bool {
	return f(claimed, digest, sig)
}

// SecpAuthorizer verifies secp256k1 signatures by public key recovery.
type SecpAuthorizer struct{}

func (SecpAuthorizer) Authorize(claimed [20]byte, digest [32]byte, sig []byte) bool {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return bytes.Equal(signer[:], claimed[:])
}

// RecoverSigner returns the address that produced sig over digest. The
// recovery byte may be encoded as 0/1 or 27/28; high-s signatures are
// rejected.
func RecoverSigner(digest [32]byte, sig []byte) ([20]byte, error) {
	if len(sig) != SignatureLength {
		return [20]byte{}, fmt.Errorf("%w: signature must be %d bytes", ErrSignatureInvalid, SignatureLength)
	}
	normalized := append([]byte(nil), sig...)
	switch v := normalized[64]; v {
	case 0, 1:
	case 27, 28:
		normalized[64] = v - 27
	default:
		return [20]byte{}, fmt.Errorf("%w: invalid recovery id %d", ErrSignatureInvalid, v)
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !ethcrypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return [20]byte{}, fmt.Errorf("%w: malformed signature values", ErrSignatureInvalid)
	}
	pub, err := ethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	var out [20]byte
	copy(out[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}

// SignInitiate signs the typed digest of p with key. The returned signature
// uses the 27/28 recovery byte convention.
func SignInitiate(key *crypto.PrivateKey, d Domain, p CreateParams) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, crypto.ErrNilKey
	}
	digest, err := TypedDigest(d, p)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest[:], key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("htlc: sign initiate: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
