package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body, hex encoded.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrSignatureMissing indicates the delivery carried no signature header.
	ErrSignatureMissing = errors.New("whatsapp signature missing")
	// ErrSignatureInvalid indicates the signature does not match the body.
	ErrSignatureInvalid = errors.New("whatsapp signature invalid")
)

// Verifier checks webhook deliveries against the app secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a verifier for the given app secret.
func NewVerifier(appSecret string) (*Verifier, error) {
	if appSecret == "" {
		return nil, errors.New("whatsapp app secret is empty")
	}
	return &Verifier{secret: []byte(appSecret)}, nil
}

// Verify validates the X-Hub-Signature-256 header against body.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	signature := strings.TrimSpace(header.Get(SignatureHeader))
	if signature == "" {
		return ErrSignatureMissing
	}
	if len(signature) < len(signaturePrefix) || !strings.EqualFold(signature[:len(signaturePrefix)], signaturePrefix) {
		return ErrSignatureInvalid
	}
	got, err := hex.DecodeString(signature[len(signaturePrefix):])
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(got, v.Sign(body)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func (v *Verifier) Sign(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureValue formats body's signature the way the provider sends it.
func (v *Verifier) SignatureValue(body []byte) string {
	return signaturePrefix + hex.EncodeToString(v.Sign(body))
}
