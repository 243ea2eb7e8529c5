// Package attest builds and checks the signed attestations that authorize a
// puzzle completion. An attestation binds (user, puzzle, duration, contract)
// so it cannot be replayed for another user, puzzle, time or deployment.
package attest

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

// Digest packs the attestation fields the way abi.encodePacked does and hashes them:
// user[20] || puzzleID[32] || uint256(durationMs)[32] || contract[20].
func Digest(user common.Address, puzzleID common.Hash, durationMs uint64, contract common.Address) common.Hash {
	duration := common.LeftPadBytes(new(big.Int).SetUint64(durationMs).Bytes(), 32)
	return crypto.Keccak256Hash(user.Bytes(), puzzleID.Bytes(), duration, contract.Bytes())
}

// PrefixedDigest applies the EIP-191 personal-message prefix to Digest.
func PrefixedDigest(user common.Address, puzzleID common.Hash, durationMs uint64, contract common.Address) common.Hash {
	d := Digest(user, puzzleID, durationMs, contract)
	return common.BytesToHash(accounts.TextHash(d.Bytes()))
}

// Recover returns the address that produced sig over hash. V may be 0/1 or 27/28.
// High-S signatures are rejected.
func Recover(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), SignatureLength)
	}
	s := make([]byte, SignatureLength)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	r, sv := new(big.Int).SetBytes(s[:32]), new(big.Int).SetBytes(s[32:64])
	if !crypto.ValidateSignatureValues(s[64], r, sv, true) {
		return common.Address{}, fmt.Errorf("invalid signature values")
	}
	pub, err := crypto.SigToPub(hash.Bytes(), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonal recovers the signer of an EIP-191 personal message over data.
func RecoverPersonal(data []byte, sig []byte) (common.Address, error) {
	return Recover(common.BytesToHash(accounts.TextHash(data)), sig)
}

// Verifier accepts attestations produced by one trusted signer.
type Verifier struct {
	signer common.Address
}

// NewVerifier creates a Verifier trusting signer.
func NewVerifier(signer common.Address) *Verifier {
	return &Verifier{signer: signer}
}

// Signer returns the trusted signer address.
func (v *Verifier) Signer() common.Address { return v.signer }

// Verify reports whether sig is the trusted signer's attestation for the tuple.
// Malformed input yields false.
func (v *Verifier) Verify(user common.Address, puzzleID common.Hash, durationMs uint64, contract common.Address, sig []byte) bool {
	if v.signer == (common.Address{}) {
		return false
	}
	got, err := Recover(PrefixedDigest(user, puzzleID, durationMs, contract), sig)
	if err != nil {
		return false
	}
	return got == v.signer
}

// Signer issues attestations; it is the off-chain half of Verifier.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSigner parses a hex private key (with or without 0x).
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("attest: parse key: %w", err)
	}
	return NewSignerFromKey(key), nil
}

// NewSignerFromKey wraps an existing key.
func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address is the signer's address.
func (s *Signer) Address() common.Address { return s.addr }

// Sign returns a 65-byte attestation with V in {27, 28}.
func (s *Signer) Sign(user common.Address, puzzleID common.Hash, durationMs uint64, contract common.Address) ([]byte, error) {
	return s.SignHash(PrefixedDigest(user, puzzleID, durationMs, contract))
}

// SignPersonal signs data as an EIP-191 personal message.
func (s *Signer) SignPersonal(data []byte) ([]byte, error) {
	return s.SignHash(common.BytesToHash(accounts.TextHash(data)))
}

// SignHash signs a prepared 32-byte hash.
func (s *Signer) SignHash(hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
