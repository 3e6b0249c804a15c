package gatewayhandler

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gocache "github.com/patrickmn/go-cache"
	"github.com/ruteri/template-gateway/api"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/interfaces"
)

// DefaultMaxClockSkew bounds how far a request timestamp may be from the server clock.
const DefaultMaxClockSkew = 5 * time.Minute

const maxNonceLength = 128

var (
	errMissingCaller    = errors.New("missing caller signature")
	errStaleRequest     = errors.New("request timestamp outside the accepted window")
	errReplayedRequest  = errors.New("request nonce already used")
	errInvalidTimestamp = errors.New("invalid request timestamp")
	errInvalidValue     = errors.New("invalid value header")
)

// newNonceCache remembers accepted nonces for as long as their timestamps
// could still pass the skew check.
func newNonceCache(maxSkew time.Duration) *gocache.Cache {
	return gocache.New(2*maxSkew, maxSkew)
}

// authenticate derives the action message of a mutating request: the caller is
// the signer of the request, the value comes from the value header.
func (h *Handler) authenticate(r *http.Request, body []byte) (interfaces.Msg, error) {
	value, err := parseValue(r.Header.Get(api.ValueHeader))
	if err != nil {
		return interfaces.Msg{}, err
	}

	if h.trustCallerHeader {
		if caller := r.Header.Get(api.CallerHeader); caller != "" {
			if !common.IsHexAddress(caller) {
				return interfaces.Msg{}, badRequest("invalid caller header %q", caller)
			}
			return interfaces.Msg{From: common.HexToAddress(caller), Value: value}, nil
		}
	}

	sigHex := r.Header.Get(api.SignatureHeader)
	tsHeader := r.Header.Get(api.TimestampHeader)
	nonce := r.Header.Get(api.NonceHeader)
	if sigHex == "" || tsHeader == "" || nonce == "" {
		return interfaces.Msg{}, errMissingCaller
	}
	if len(nonce) > maxNonceLength {
		return interfaces.Msg{}, badRequest("nonce longer than %d bytes", maxNonceLength)
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return interfaces.Msg{}, errInvalidTimestamp
	}
	skew := h.now().Sub(time.Unix(ts, 0))
	if skew > h.maxSkew || skew < -h.maxSkew {
		return interfaces.Msg{}, errStaleRequest
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return interfaces.Msg{}, interfaces.ErrInvalidSignature
	}
	caller, err := cryptoutils.RecoverSigner(cryptoutils.RequestPayload(r.Method, r.URL.Path, ts, nonce, value, body), sig)
	if err != nil {
		return interfaces.Msg{}, err
	}

	if err := h.nonces.Add(caller.Hex()+"/"+nonce, ts, gocache.DefaultExpiration); err != nil {
		return interfaces.Msg{}, errReplayedRequest
	}
	return interfaces.Msg{From: caller, Value: value}, nil
}

func parseValue(header string) (*big.Int, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(header, 0)
	if !ok {
		return nil, errInvalidValue
	}
	return value, nil
}
