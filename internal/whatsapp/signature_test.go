package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	v, err := NewVerifier("app-secret")
	if err != nil {
		t.Fatal(err)
	}
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := http.Header{}
	header.Set(SignatureHeader, signBody("app-secret", body))

	if err := v.Verify(header, body); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifierAcceptsUppercaseHex(t *testing.T) {
	v, _ := NewVerifier("app-secret")
	body := []byte("payload")
	sig := signBody("app-secret", body)
	header := http.Header{}
	header.Set(SignatureHeader, "sha256="+strings.ToUpper(strings.TrimPrefix(sig, "sha256=")))

	if err := v.Verify(header, body); err != nil {
		t.Fatalf("uppercase hex rejected: %v", err)
	}
}

func TestVerifierRejections(t *testing.T) {
	v, _ := NewVerifier("app-secret")
	body := []byte("payload")

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"missing", "", ErrSignatureMissing},
		{"no prefix", strings.TrimPrefix(signBody("app-secret", body), "sha256="), ErrSignatureInvalid},
		{"bad hex", "sha256=zz", ErrSignatureInvalid},
		{"wrong secret", signBody("other", body), ErrSignatureInvalid},
		{"prefix only", "sha256=", ErrSignatureInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set(SignatureHeader, tc.header)
			}
			if err := v.Verify(header, body); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifierRejectsTamperedBody(t *testing.T) {
	v, _ := NewVerifier("app-secret")
	header := http.Header{}
	header.Set(SignatureHeader, signBody("app-secret", []byte("original")))

	if err := v.Verify(header, []byte("tampered")); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestSignatureValueMatchesVerify(t *testing.T) {
	v, _ := NewVerifier("s3cr3t")
	body := []byte(`{"a":1}`)
	header := http.Header{}
	header.Set(SignatureHeader, v.SignatureValue(body))
	if err := v.Verify(header, body); err != nil {
		t.Fatalf("SignatureValue output rejected: %v", err)
	}
}
