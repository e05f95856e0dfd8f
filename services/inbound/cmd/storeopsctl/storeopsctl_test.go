package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"storeops/internal/servicetoken"
	"storeops/pkg/domain"
)

func TestInjectSignsAndPosts(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{PrivateKey: key, Issuer: servicetoken.IssuerCLI})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeys:     map[string]*rsa.PublicKey{servicetoken.DefaultKeyID: &key.PublicKey},
		Audience:       servicetoken.AudienceInbound,
		AllowedIssuers: []string{servicetoken.IssuerCLI},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	var got domain.InboundMessage
	var claims servicetoken.Claims
	srv := httptest.NewServer(verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/inbound" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		claims, _ = servicetoken.ClaimsFromContext(r.Context())
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	})))
	defer srv.Close()

	status, body, err := inject(context.Background(), srv.Client(), signer, injectOptions{
		URL:        srv.URL + "/",
		From:       "+15550001",
		Text:       "Sales today: Cash $2100",
		BindSender: true,
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if status != http.StatusAccepted || string(body) != `{"status":"queued"}` {
		t.Fatalf("unexpected response %d %s", status, body)
	}
	if got.SenderID != "+15550001" || got.MessageID == "" || got.ReceivedAt.IsZero() {
		t.Fatalf("unexpected payload %+v", got)
	}
	if claims.Sender != "+15550001" || claims.Issuer != servicetoken.IssuerCLI {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestInjectRequiresContent(t *testing.T) {
	if _, _, err := inject(context.Background(), http.DefaultClient, nil, injectOptions{From: "+1"}); err == nil {
		t.Fatalf("expected error for empty message")
	}
}

func TestBuildStore(t *testing.T) {
	st, err := buildStore(" s001 ", "Main St", "sheet-1", []string{"HLA=+15559999", " Coremark = +15558888 "}, true)
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	if st.ID != "S001" || st.Name != "Main St" || !st.Active {
		t.Fatalf("unexpected store %+v", st)
	}
	if phone, ok := st.VendorContact("coremark"); !ok || phone != "+15558888" {
		t.Fatalf("vendor contact = %q %v", phone, ok)
	}

	bad := []struct {
		code, sheet string
		vendors     []string
	}{
		{"", "sheet", nil},
		{"MAIN", "sheet", nil},
		{"S001", "", nil},
		{"S001", "sheet", []string{"HLA"}},
	}
	for _, tc := range bad {
		if _, err := buildStore(tc.code, "", tc.sheet, tc.vendors, true); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"jobs", "failed"}, {"jobs", "requeue"}, {"jobs", "show"}, {"stores", "add"}, {"stores", "link"}, {"inject"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}
