package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
	"sovereign-journalist/internal/model"
)

// DefaultTTL is how long a session token stays valid. There is no renewal.
const DefaultTTL = 2 * time.Hour

const (
	delimiter = "."
	keyInfo   = "sovereign-journalist session token v1"
)

// Verifier checks a bearer token and returns the credential it wraps.
type Verifier interface {
	Verify(token string) (model.VerifiedCredential, bool)
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
}

type sessionPayload struct {
	Credential *model.VerifiedCredential `json:"credential"`
	Exp        int64                     `json:"exp"`
}

// Signer issues and checks self-contained session tokens of the form
// base64url(payload) "." base64url(HMAC-SHA256(payload)). The base64url
// alphabet has no '.', so the split is unambiguous.
type Signer struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
}

func NewSigner(cfg TokenConfig) (*Signer, error) {
	return NewSignerWithNow(cfg, time.Now)
}

func NewSignerWithNow(cfg TokenConfig, now func() time.Time) (*Signer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}
	if cfg.Expiry <= 0 {
		return nil, errors.New("invalid expiry")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(cfg.Secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}

	return &Signer{key: key, expiry: cfg.Expiry, now: now}, nil
}

func (s *Signer) Sign(credential model.VerifiedCredential) (string, error) {
	payload := sessionPayload{
		Credential: &credential,
		Exp:        s.now().Add(s.expiry).UnixMilli(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	data := base64.RawURLEncoding.EncodeToString(raw)
	sig, err := jwt.SigningMethodHS256.Sign(data, s.key)
	if err != nil {
		return "", err
	}
	return data + delimiter + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify fails closed: any structural, signature, decoding or expiry problem
// yields ok == false and no detail.
func (s *Signer) Verify(token string) (model.VerifiedCredential, bool) {
	parts := strings.Split(token, delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return model.VerifiedCredential{}, false
	}

	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[1])
	if err != nil {
		return model.VerifiedCredential{}, false
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0], sig, s.key); err != nil {
		return model.VerifiedCredential{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return model.VerifiedCredential{}, false
	}
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Credential == nil {
		return model.VerifiedCredential{}, false
	}
	if payload.Exp < s.now().UnixMilli() {
		return model.VerifiedCredential{}, false
	}

	return *payload.Credential, true
}
