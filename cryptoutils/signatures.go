package cryptoutils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	gocache "github.com/patrickmn/go-cache"
	"github.com/ruteri/template-gateway/interfaces"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = crypto.SignatureLength

// DeployPayload is the signed message authorizing caller to deploy the latest
// version of name with initData.
func DeployPayload(caller common.Address, name interfaces.TemplateName, initData []byte) []byte {
	payload := make([]byte, 0, common.AddressLength+len(name)+len(initData))
	payload = append(payload, caller.Bytes()...)
	payload = append(payload, name...)
	return append(payload, initData...)
}

// DeployVersionPayload is DeployPayload with the version packed as a 32-byte
// big-endian uint256 between name and initData.
func DeployVersionPayload(caller common.Address, name interfaces.TemplateName, version interfaces.TemplateVersion, initData []byte) []byte {
	payload := make([]byte, 0, common.AddressLength+len(name)+32+len(initData))
	payload = append(payload, caller.Bytes()...)
	payload = append(payload, name...)
	payload = append(payload, math.U256Bytes(new(big.Int).SetUint64(uint64(version)))...)
	return append(payload, initData...)
}

// CallPayload is the signed message authorizing caller to forward data to instance.
func CallPayload(caller, instance common.Address, data []byte) []byte {
	payload := make([]byte, 0, 2*common.AddressLength+len(data))
	payload = append(payload, caller.Bytes()...)
	payload = append(payload, instance.Bytes()...)
	return append(payload, data...)
}

// RequestPayload is the message an HTTP client signs to identify itself. The
// method, path, unix timestamp, nonce and attached value (decimal, nil is 0)
// are newline separated and followed by the raw body.
func RequestPayload(method, path string, timestamp int64, nonce string, value *big.Int, body []byte) []byte {
	if value == nil {
		value = new(big.Int)
	}
	payload := make([]byte, 0, len(method)+len(path)+len(nonce)+64+len(body))
	payload = append(payload, method...)
	payload = append(payload, '\n')
	payload = append(payload, path...)
	payload = append(payload, '\n')
	payload = strconv.AppendInt(payload, timestamp, 10)
	payload = append(payload, '\n')
	payload = append(payload, nonce...)
	payload = append(payload, '\n')
	payload = value.Append(payload, 10)
	payload = append(payload, '\n')
	return append(payload, body...)
}

// Digest is the EIP-191 personal message hash of keccak256(payload), the same
// value personal_sign produces for the 32-byte payload hash.
func Digest(payload []byte) []byte {
	return accounts.TextHash(crypto.Keccak256(payload))
}

// Sign signs payload with key, returning a signature with v in {27, 28}.
func Sign(payload []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(Digest(payload), key)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that signed payload. v may be 0, 1, 27 or 28;
// malleable (high-s) signatures are rejected.
func RecoverSigner(payload, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, &interfaces.AuthorizationError{Kind: interfaces.InvalidSignature}
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if v := normalized[crypto.RecoveryIDOffset]; v >= 27 {
		normalized[crypto.RecoveryIDOffset] = v - 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, &interfaces.AuthorizationError{Kind: interfaces.InvalidSignature}
	}

	pubkey, err := crypto.SigToPub(Digest(payload), normalized)
	if err != nil {
		return common.Address{}, &interfaces.AuthorizationError{Kind: interfaces.InvalidSignature}
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}

// Verifier memoizes signer recovery per (payload, signature) pair.
type Verifier struct {
	cache *gocache.Cache
}

const (
	DefaultRecoveryTTL     = 10 * time.Minute
	defaultCleanupInterval = 30 * time.Minute
)

// NewVerifier creates a verifier whose cached recoveries expire after ttl.
func NewVerifier(ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = DefaultRecoveryTTL
	}
	return &Verifier{cache: gocache.New(ttl, defaultCleanupInterval)}
}

// Recover returns the signer of payload. Recovery alone authorizes nothing.
func (v *Verifier) Recover(payload, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, &interfaces.AuthorizationError{Kind: interfaces.InvalidSignature}
	}

	key := hex.EncodeToString(crypto.Keccak256(payload, sig))
	if cached, found := v.cache.Get(key); found {
		if addr, ok := cached.(common.Address); ok {
			return addr, nil
		}
	}

	addr, err := RecoverSigner(payload, sig)
	if err != nil {
		return common.Address{}, err
	}
	v.cache.SetDefault(key, addr)
	return addr, nil
}
