package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Typed-data hashes of the relay bundle format.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Unit(bytes32 id,bytes32 pair,bytes32 steps,uint256 deadline)
	unitTypeHash = ethcrypto.Keccak256(
		[]byte("Unit(bytes32 id,bytes32 pair,bytes32 steps,uint256 deadline)"),
	)

	// Step(bytes32 kind,bytes32 venue,bytes32 tokenIn,bytes32 tokenOut,uint256 amountIn,uint256 minAmountOut)
	stepTypeHash = ethcrypto.Keccak256(
		[]byte("Step(bytes32 kind,bytes32 venue,bytes32 tokenIn,bytes32 tokenOut,uint256 amountIn,uint256 minAmountOut)"),
	)
)

// amountScale converts float amounts into fixed-point integers before
// hashing (1e9, lamport precision).
const amountScale = 1e9

// Signer signs atomic units for the bundle relay.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator("flasharb-relay", "1", chainID),
	}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignUnit returns the typed-data digest of unit and its 65-byte signature
// (r || s || v, v in {27, 28}), both hex-encoded with a 0x prefix.
func (s *Signer) SignUnit(unit domain.Unit) (digest, signature string, err error) {
	d := UnitDigest(s.domainSep, unit)
	sig, err := s.signDigest(d)
	if err != nil {
		return "", "", err
	}
	return "0x" + hex.EncodeToString(d), sig, nil
}

// DomainSeparator exposes the cached separator for verification.
func (s *Signer) DomainSeparator() []byte {
	return s.domainSep
}

// UnitDigest computes keccak256("\x19\x01" || domainSep || hashStruct(unit)).
func UnitDigest(domainSep []byte, unit domain.Unit) []byte {
	stepHashes := make([][]byte, 0, len(unit.Steps))
	for _, st := range unit.Steps {
		stepHashes = append(stepHashes, ethcrypto.Keccak256(concatBytes(
			stepTypeHash,
			ethcrypto.Keccak256([]byte(st.Kind)),
			ethcrypto.Keccak256([]byte(st.Exchange)),
			ethcrypto.Keccak256([]byte(st.TokenIn)),
			ethcrypto.Keccak256([]byte(st.TokenOut)),
			fixedPoint(st.AmountIn),
			fixedPoint(st.MinAmountOut),
		)))
	}

	structHash := ethcrypto.Keccak256(concatBytes(
		unitTypeHash,
		ethcrypto.Keccak256([]byte(unit.ID)),
		ethcrypto.Keccak256([]byte(unit.Pair.String())),
		ethcrypto.Keccak256(concatBytes(stepHashes...)),
		bigIntTo32Bytes(big.NewInt(unit.Deadline.Unix())),
	))

	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// RecoverAddress returns the address that produced signature over digest.
func RecoverAddress(digest []byte, signatureHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want 65", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(concatBytes(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		bigIntTo32Bytes(big.NewInt(int64(chainID))),
	))
}

// signDigest signs a 32-byte digest and returns the hex signature with v
// shifted into {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func fixedPoint(v float64) []byte {
	if v <= 0 {
		return make([]byte, 32)
	}
	n, _ := new(big.Float).SetFloat64(math.Round(v * amountScale)).Int(nil)
	return bigIntTo32Bytes(n)
}

func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
