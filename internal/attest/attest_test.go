package attest

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	userA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	userB    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	puzzleX  = common.HexToHash("0x01")
	puzzleY  = common.HexToHash("0x02")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return NewSignerFromKey(key)
}

func TestVerifyAcceptsMatchingTuple(t *testing.T) {
	s := newTestSigner(t)
	v := NewVerifier(s.Address())

	sig, err := s.Sign(userA, puzzleX, 1000, contract)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("expected %d-byte signature, got %d", SignatureLength, len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected V in {27,28}, got %d", sig[64])
	}
	if !v.Verify(userA, puzzleX, 1000, contract, sig) {
		t.Fatal("expected valid attestation")
	}

	// V in {0,1} is accepted as well.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if !v.Verify(userA, puzzleX, 1000, contract, raw) {
		t.Fatal("expected valid attestation with V in {0,1}")
	}
}

func TestVerifyRejectsAnyFieldMismatch(t *testing.T) {
	s := newTestSigner(t)
	v := NewVerifier(s.Address())
	sig, err := s.Sign(userA, puzzleX, 1000, contract)
	if err != nil {
		t.Fatal(err)
	}

	otherContract := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	tests := []struct {
		name     string
		user     common.Address
		puzzle   common.Hash
		duration uint64
		contract common.Address
	}{
		{"other user", userB, puzzleX, 1000, contract},
		{"other puzzle", userA, puzzleY, 1000, contract},
		{"other duration", userA, puzzleX, 999, contract},
		{"other contract", userA, puzzleX, 1000, otherContract},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v.Verify(tt.user, tt.puzzle, tt.duration, tt.contract, sig) {
				t.Fatal("expected replayed attestation to be rejected")
			}
		})
	}
}

func TestVerifyRejectsUntrustedSigner(t *testing.T) {
	trusted := newTestSigner(t)
	rogue := newTestSigner(t)
	v := NewVerifier(trusted.Address())

	sig, err := rogue.Sign(userA, puzzleX, 1000, contract)
	if err != nil {
		t.Fatal(err)
	}
	if v.Verify(userA, puzzleX, 1000, contract, sig) {
		t.Fatal("expected signature from rogue key to be rejected")
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	s := newTestSigner(t)
	v := NewVerifier(s.Address())
	for _, sig := range [][]byte{nil, {}, make([]byte, 64), make([]byte, 66), make([]byte, 65)} {
		if v.Verify(userA, puzzleX, 1000, contract, sig) {
			t.Fatalf("expected malformed signature (len %d) to be rejected", len(sig))
		}
	}
	sig, _ := s.Sign(userA, puzzleX, 1000, contract)
	sig[64] = 9
	if v.Verify(userA, puzzleX, 1000, contract, sig) {
		t.Fatal("expected bad recovery id to be rejected")
	}
}

func TestVerifierWithoutSignerRejects(t *testing.T) {
	s := newTestSigner(t)
	sig, _ := s.Sign(userA, puzzleX, 1000, contract)
	if NewVerifier(common.Address{}).Verify(userA, puzzleX, 1000, contract, sig) {
		t.Fatal("expected zero signer to reject everything")
	}
}

func TestDigestLayout(t *testing.T) {
	// keccak256 over 20 + 32 + 32 + 20 bytes.
	packed := make([]byte, 0, 104)
	packed = append(packed, userA.Bytes()...)
	packed = append(packed, puzzleX.Bytes()...)
	packed = append(packed, common.LeftPadBytes([]byte{0x03, 0xe8}, 32)...)
	packed = append(packed, contract.Bytes()...)
	want := crypto.Keccak256Hash(packed)
	if got := Digest(userA, puzzleX, 1000, contract); got != want {
		t.Fatalf("digest mismatch: got %s want %s", got.Hex(), want.Hex())
	}
}

func TestRecoverPersonal(t *testing.T) {
	s := newTestSigner(t)
	msg := []byte("POST\n/api/escrows\n1700000000\n0xabc")
	sig, err := s.SignPersonal(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := RecoverPersonal(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got != s.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), s.Address().Hex())
	}
}

func TestNewSignerParsesHex(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	s, err := NewSigner(hexKey)
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("address mismatch")
	}
	if _, err := NewSigner("not-a-key"); err == nil {
		t.Fatal("expected parse error")
	}
}
