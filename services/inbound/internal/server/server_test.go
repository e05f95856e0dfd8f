package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storeops/internal/ratelimit"
	"storeops/internal/servicetoken"
	"storeops/pkg/domain"
	"storeops/pkg/queue"
)

type fakeIngress struct {
	jobs     map[string]queue.JobStatus
	enqueued []domain.InboundMessage
	err      error
}

func (f *fakeIngress) Enqueue(_ context.Context, msg domain.InboundMessage) (queue.JobStatus, bool, error) {
	if f.err != nil {
		return queue.JobStatus{}, false, f.err
	}
	if job, ok := f.jobs[msg.MessageID]; ok {
		return job, false, nil
	}
	job := queue.JobStatus{ID: msg.MessageID, SenderID: msg.SenderID, Status: queue.StatusQueued}
	f.jobs[msg.MessageID] = job
	f.enqueued = append(f.enqueued, msg)
	return job, true, nil
}

func (f *fakeIngress) GetJob(_ context.Context, id string) (queue.JobStatus, bool, error) {
	job, ok := f.jobs[id]
	return job, ok, nil
}

type testServer struct {
	url    string
	signer *servicetoken.Signer
	app    *fakeIngress
}

func newTestServer(t *testing.T, limiter SenderLimiter) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{PrivateKey: key, Issuer: servicetoken.IssuerGateway})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeys:     map[string]*rsa.PublicKey{servicetoken.DefaultKeyID: &key.PublicKey},
		Audience:       servicetoken.AudienceInbound,
		AllowedIssuers: []string{servicetoken.IssuerGateway},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ingress := &fakeIngress{jobs: map[string]queue.JobStatus{}}
	srv, err := New(Config{App: ingress, Verifier: verifier, Limiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{url: ts.URL, signer: signer, app: ingress}
}

func (ts *testServer) post(t *testing.T, sender string, body string) *http.Response {
	t.Helper()
	token, err := ts.signer.Sign(servicetoken.AudienceInbound, sender)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.url+"/internal/inbound", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestInboundAcceptsAndDeduplicates(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"messageId":"wamid.1","senderId":"+15550001","text":"Sales today: Cash $2100"}`

	resp := ts.post(t, "", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first post: %d", resp.StatusCode)
	}
	var job queue.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil || job.ID != "wamid.1" {
		t.Fatalf("unexpected job %+v (%v)", job, err)
	}
	if resp.Header.Get("X-Request-Id") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("middleware headers missing: %v", resp.Header)
	}

	if resp := ts.post(t, "", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate post: %d", resp.StatusCode)
	}
	if len(ts.app.enqueued) != 1 {
		t.Fatalf("enqueued %d messages", len(ts.app.enqueued))
	}
}

func TestInboundRejections(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		name   string
		sender string
		body   string
		want   int
	}{
		{"malformed", "", `{"messageId":`, http.StatusBadRequest},
		{"unknown field", "", `{"messageId":"m","senderId":"s","text":"x","extra":1}`, http.StatusBadRequest},
		{"missing sender", "", `{"messageId":"m","text":"x"}`, http.StatusBadRequest},
		{"empty message", "", `{"messageId":"m","senderId":"s"}`, http.StatusBadRequest},
		{"wrong sender", "+1999", `{"messageId":"m","senderId":"+1555","text":"x"}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		if resp := ts.post(t, tc.sender, tc.body); resp.StatusCode != tc.want {
			t.Fatalf("%s: status %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}

	resp, err := http.Post(ts.url+"/internal/inbound", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", resp.StatusCode)
	}
}

func TestInboundSenderRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewSenderLimiter(client, "test:inbound", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	ts := newTestServer(t, limiter)

	if resp := ts.post(t, "", `{"messageId":"m1","senderId":"+1555","text":"OK"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first message: %d", resp.StatusCode)
	}
	if resp := ts.post(t, "", `{"messageId":"m2","senderId":"+1555","text":"OK"}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second message: %d", resp.StatusCode)
	}
	if resp := ts.post(t, "", `{"messageId":"m3","senderId":"+1666","text":"OK"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("other sender: %d", resp.StatusCode)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestInboundFailsOpenWhenLimiterBroken(t *testing.T) {
	ts := newTestServer(t, brokenLimiter{})
	if resp := ts.post(t, "", `{"messageId":"m1","senderId":"+1555","text":"OK"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestInboundQueueFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.app.err = errors.New("redis down")
	if resp := ts.post(t, "", `{"messageId":"m1","senderId":"+1555","text":"OK"}`); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestJobLookupAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.post(t, "", `{"messageId":"wamid.9","senderId":"+1555","text":"OK"}`)
	token, _ := ts.signer.Sign(servicetoken.AudienceInbound, "")

	get := func(path string) int {
		req, _ := http.NewRequest(http.MethodGet, ts.url+path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := get("/internal/jobs/wamid.9"); code != http.StatusOK {
		t.Fatalf("known job: %d", code)
	}
	if code := get("/internal/jobs/missing"); code != http.StatusNotFound {
		t.Fatalf("missing job: %d", code)
	}
	if code := get("/healthz"); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
}
