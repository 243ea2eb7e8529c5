package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/puzzle-prizes/internal/attest"
)

const (
	HeaderCaller    = "X-Caller"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	maxBodyBytes = 1 << 20
)

// RequestHash is the message a caller personal-signs to authenticate a call:
// keccak256(method ‖ "\n" ‖ path ‖ "\n" ‖ timestamp ‖ "\n" ‖ keccak256(body)).
func RequestHash(method, path string, timestamp int64, body []byte) common.Hash {
	var b bytes.Buffer
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.Write(crypto.Keccak256(body))
	return crypto.Keccak256Hash(b.Bytes())
}

// SignRequest returns the authentication headers for a call signed by s.
func SignRequest(s *attest.Signer, method, path string, timestamp int64, body []byte) (http.Header, error) {
	h := RequestHash(method, path, timestamp, body)
	sig, err := s.SignPersonal(h.Bytes())
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set(HeaderCaller, s.Address().Hex())
	headers.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	headers.Set(HeaderSignature, hexutil.Encode(sig))
	return headers, nil
}

type authenticator struct {
	maxSkew time.Duration
	now     func() time.Time
	seen    *seenRequests
}

// seenRequests remembers authenticated request hashes until their timestamp
// leaves the skew window. A signed request is accepted once.
type seenRequests struct {
	mu      sync.Mutex
	expires map[common.Hash]time.Time
}

func newSeenRequests() *seenRequests {
	return &seenRequests{expires: make(map[common.Hash]time.Time)}
}

// first records h and reports whether it had not been seen before.
func (s *seenRequests) first(h common.Hash, now, expires time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, k)
		}
	}
	if _, ok := s.expires[h]; ok {
		return false
	}
	s.expires[h] = expires
	return true
}

// caller verifies the authentication headers and returns the signing
// address together with the request body it covered.
func (a authenticator) caller(r *http.Request) (common.Address, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return common.Address{}, nil, ErrBadRequest.Wrapf("read body: %v", err)
	}

	claimed := strings.TrimSpace(r.Header.Get(HeaderCaller))
	if !common.IsHexAddress(claimed) {
		return common.Address{}, nil, ErrUnauthenticated.Wrapf("missing or malformed %s", HeaderCaller)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
	if err != nil {
		return common.Address{}, nil, ErrUnauthenticated.Wrapf("malformed %s", HeaderTimestamp)
	}
	now := a.now()
	if skew := now.Sub(time.Unix(ts, 0)); skew > a.maxSkew || skew < -a.maxSkew {
		return common.Address{}, nil, ErrUnauthenticated.Wrapf("timestamp outside ±%s", a.maxSkew)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if err != nil {
		return common.Address{}, nil, ErrUnauthenticated.Wrapf("malformed %s", HeaderSignature)
	}

	h := RequestHash(r.Method, r.URL.Path, ts, body)
	signer, err := attest.RecoverPersonal(h.Bytes(), sig)
	if err != nil {
		return common.Address{}, nil, ErrUnauthenticated.Wrap(err.Error())
	}
	if signer != common.HexToAddress(claimed) {
		return common.Address{}, nil, ErrUnauthenticated.Wrap("signature does not match caller")
	}
	if a.seen != nil && !a.seen.first(h, now, time.Unix(ts, 0).Add(a.maxSkew)) {
		return common.Address{}, nil, ErrUnauthenticated.Wrap("request already used")
	}
	return signer, body, nil
}
