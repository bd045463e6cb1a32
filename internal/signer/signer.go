// Package signer signs completion requests for upstreams that authenticate
// callers by secp256k1 key instead of bearer token.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Header names set by Apply.
const (
	HeaderAuthorization = "Authorization"
	HeaderAddress       = "X-Requester-Address"
	HeaderTimestamp     = "X-Timestamp"
)

// Signer produces deterministic ECDSA signatures over secp256k1.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
	now     func() time.Time
}

// New creates a Signer from a hex-encoded private key (0x prefix optional).
// address is sent as the requester address; when empty the key's own
// checksummed address is used.
func New(hexKey, address string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid hex key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signer: key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	if address == "" {
		address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	return &Signer{key: key, address: address, now: time.Now}, nil
}

// Address returns the requester address.
func (s *Signer) Address() string { return s.address }

// PublicKey returns the uncompressed public key bytes.
func (s *Signer) PublicKey() []byte { return crypto.FromECDSAPub(&s.key.PublicKey) }

// Sign returns the base64-encoded signature and its timestamp in nanoseconds.
//
// Signing scheme:
//  1. payload_hash = hex(SHA256(payload))
//  2. input = payload_hash + decimal(timestamp_ns) + target
//  3. sign SHA256(input) with deterministic ECDSA (RFC 6979), low-S
//  4. encode r(32) || s(32) as base64
func (s *Signer) Sign(payload []byte, target string) (string, int64, error) {
	ts := s.now().UnixNano()
	sig, err := s.SignAt(payload, target, ts)
	if err != nil {
		return "", 0, err
	}
	return sig, ts, nil
}

// SignAt signs payload for the given timestamp.
func (s *Signer) SignAt(payload []byte, target string, tsNano int64) (string, error) {
	digest := Digest(payload, target, tsNano)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("signer: %w", err)
	}
	// Drop the recovery id.
	return base64.StdEncoding.EncodeToString(sig[:64]), nil
}

// Digest is the 32-byte message hash that Sign signs.
func Digest(payload []byte, target string, tsNano int64) []byte {
	payloadHash := sha256.Sum256(payload)
	input := hex.EncodeToString(payloadHash[:]) + strconv.FormatInt(tsNano, 10) + target
	msg := sha256.Sum256([]byte(input))
	return msg[:]
}

// Headers returns the authentication headers for payload.
func (s *Signer) Headers(payload []byte, target string) (map[string]string, error) {
	sig, ts, err := s.Sign(payload, target)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAuthorization: sig,
		HeaderAddress:       s.address,
		HeaderTimestamp:     strconv.FormatInt(ts, 10),
	}, nil
}
