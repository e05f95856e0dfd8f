package servicetoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newPair(t *testing.T, issuers ...string) (*Signer, *Verifier) {
	t.Helper()
	key := newKey(t)
	signer, err := NewSigner(SignerOptions{PrivateKey: key, Issuer: IssuerGateway})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if len(issuers) == 0 {
		issuers = []string{IssuerGateway}
	}
	verifier, err := NewVerifier(VerifierOptions{
		PublicKeys:     map[string]*rsa.PublicKey{DefaultKeyID: &key.PublicKey},
		Audience:       AudienceInbound,
		AllowedIssuers: issuers,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return signer, verifier
}

func TestSignVerifyCarriesSender(t *testing.T) {
	signer, verifier := newPair(t)
	token, err := signer.Sign(AudienceInbound, "+15550001")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Issuer != IssuerGateway || claims.Sender != "+15550001" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejections(t *testing.T) {
	signer, verifier := newPair(t)

	wrongAud, _ := signer.Sign("other-service", "")
	if _, err := verifier.Verify(wrongAud); err == nil {
		t.Fatalf("expected audience rejection")
	}
	if _, err := verifier.Verify("  "); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}

	_, cliOnly := newPair(t, IssuerCLI)
	other, _ := signer.Sign(AudienceInbound, "")
	if _, err := cliOnly.Verify(other); err == nil {
		t.Fatalf("expected rejection from verifier with a different key")
	}

	shared := newKey(t)
	gw, _ := NewSigner(SignerOptions{PrivateKey: shared, Issuer: IssuerGateway})
	cli, _ := NewVerifier(VerifierOptions{
		PublicKeys:     map[string]*rsa.PublicKey{DefaultKeyID: &shared.PublicKey},
		Audience:       AudienceInbound,
		AllowedIssuers: []string{IssuerCLI},
	})
	token, _ := gw.Sign(AudienceInbound, "")
	if _, err := cli.Verify(token); !errors.Is(err, ErrIssuerNotAllowed) {
		t.Fatalf("expected ErrIssuerNotAllowed, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	key := newKey(t)
	signer, _ := NewSigner(SignerOptions{PrivateKey: key, Issuer: IssuerCLI, TTL: time.Millisecond})
	verifier, _ := NewVerifier(VerifierOptions{
		PublicKeys:     map[string]*rsa.PublicKey{DefaultKeyID: &key.PublicKey},
		Audience:       AudienceInbound,
		AllowedIssuers: []string{IssuerCLI},
		Leeway:         time.Millisecond,
	})
	token, _ := signer.Sign(AudienceInbound, "")
	time.Sleep(1100 * time.Millisecond)
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestMiddleware(t *testing.T) {
	signer, verifier := newPair(t)
	var seen Claims
	h := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/inbound", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", rec.Code)
	}

	token, _ := signer.Sign(AudienceInbound, "+1")
	req = httptest.NewRequest(http.MethodPost, "/internal/inbound", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen.Sender != "+1" {
		t.Fatalf("valid token: status %d claims %+v", rec.Code, seen)
	}
}

func TestKeysFromPEMFiles(t *testing.T) {
	key := newKey(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write private: %v", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatalf("write public: %v", err)
	}

	signer, err := NewSigner(SignerOptions{PrivateKeyPath: privPath, KeyID: "k2", Issuer: IssuerCLI})
	if err != nil {
		t.Fatalf("signer from file: %v", err)
	}
	paths, err := ParseKeyPaths("k2=" + pubPath)
	if err != nil {
		t.Fatalf("parse key paths: %v", err)
	}
	verifier, err := NewVerifier(VerifierOptions{KeyPaths: paths, Audience: AudienceInbound, AllowedIssuers: []string{IssuerCLI}})
	if err != nil {
		t.Fatalf("verifier from file: %v", err)
	}
	token, _ := signer.Sign(AudienceInbound, "")
	if _, err := verifier.Verify(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestParseKeyPaths(t *testing.T) {
	got, err := ParseKeyPaths(" a=/x.pem , b=/y.pem ")
	if err != nil || len(got) != 2 || got["b"] != "/y.pem" {
		t.Fatalf("unexpected parse %v / %v", got, err)
	}
	if _, err := ParseKeyPaths("broken"); err == nil {
		t.Fatalf("expected error for entry without '='")
	}
	if got, err := ParseKeyPaths(""); err != nil || got != nil {
		t.Fatalf("empty input: %v / %v", got, err)
	}
}
