package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storeops/pkg/ai"
	"storeops/pkg/classify"
	"storeops/pkg/domain"
	"storeops/pkg/extract"
	"storeops/pkg/media"
	"storeops/pkg/queue"
	"storeops/pkg/sheets"
	"storeops/pkg/store"
)

const (
	testSender = "+15550001"
	vendorHLA  = "+15559999"
)

type sentMessage struct {
	to   string
	text string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, text: text})
	return nil
}

func (s *recordingSender) last(t *testing.T) sentMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatalf("nothing was sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type scriptedGenerator struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (g *scriptedGenerator) GenerateText(context.Context, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.answer, g.err
}

type appendCall struct {
	sheetID string
	tab     string
	rows    [][]any
}

type fakeAppender struct {
	calls []appendCall
	err   error
}

func (f *fakeAppender) AppendRows(_ context.Context, sheetID, tab string, rows [][]any) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, appendCall{sheetID: sheetID, tab: tab, rows: rows})
	return nil
}

type fakeMedia struct {
	result media.Result
	err    error
}

func (f fakeMedia) Process(context.Context, string, string, string, string) (media.Result, error) {
	return f.result, f.err
}

type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) ExtractText(context.Context, ai.Image) (string, error) {
	return f.text, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	app      *App
	store    *store.MemoryStore
	sender   *recordingSender
	gen      *scriptedGenerator
	appender *fakeAppender
	clock    *clock
}

func newHarness(t *testing.T, answer string, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		sender:   &recordingSender{},
		gen:      &scriptedGenerator{answer: answer},
		appender: &fakeAppender{},
		clock:    &clock{t: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)},
	}
	ctx := context.Background()
	if err := h.store.SaveStore(ctx, domain.Store{
		ID:             "S001",
		Name:           "Main St",
		SheetID:        "sheet-s001",
		VendorContacts: map[string]string{"HLA": vendorHLA},
		Active:         true,
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	cfg := Config{
		Store:      h.store,
		Classifier: classify.New(nil),
		Extractor:  extract.New(h.gen),
		Sink:       sheets.NewRouter(h.appender),
		Notifier:   h.sender,
		Now:        h.clock.now,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	app, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	h.app = app
	return h
}

func (h *harness) link(t *testing.T) {
	t.Helper()
	if err := h.store.SaveBinding(context.Background(), domain.StoreBinding{SenderID: testSender, StoreID: "S001"}); err != nil {
		t.Fatalf("bind sender: %v", err)
	}
}

func (h *harness) process(t *testing.T, id, text string) Outcome {
	t.Helper()
	out, err := h.app.Process(context.Background(), domain.InboundMessage{MessageID: id, SenderID: testSender, Text: text})
	if err != nil {
		t.Fatalf("process %s: %v", id, err)
	}
	return out
}

func (h *harness) command(t *testing.T, text string) string {
	t.Helper()
	cmd, ok := ParseCommand(text)
	if !ok {
		t.Fatalf("%q is not a command", text)
	}
	reply, err := h.app.HandleCommand(context.Background(), testSender, cmd)
	if err != nil {
		t.Fatalf("command %q: %v", text, err)
	}
	return reply
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store or database url")
	}
	if _, err := New(Config{Store: store.NewMemoryStore()}); err == nil || !strings.Contains(err.Error(), "classifier") {
		t.Fatalf("expected classifier error, got %v", err)
	}
}

type fakeQueue struct {
	jobs map[string]queue.JobStatus
}

func (q *fakeQueue) Enqueue(_ context.Context, msg domain.InboundMessage) (queue.JobStatus, error) {
	if job, ok := q.jobs[msg.MessageID]; ok {
		return job, queue.ErrDuplicateJob
	}
	job := queue.JobStatus{ID: msg.MessageID, SenderID: msg.SenderID, Status: queue.StatusQueued}
	q.jobs[msg.MessageID] = job
	return job, nil
}

func (q *fakeQueue) GetJob(_ context.Context, id string) (queue.JobStatus, bool, error) {
	job, ok := q.jobs[id]
	return job, ok, nil
}

func TestEnqueueTreatsDuplicatesAsAccepted(t *testing.T) {
	q := &fakeQueue{jobs: map[string]queue.JobStatus{}}
	h := newHarness(t, "", func(c *Config) { c.Queue = q })
	ctx := context.Background()
	msg := domain.InboundMessage{MessageID: "wamid.1", SenderID: testSender, Text: "OK"}

	job, created, err := h.app.Enqueue(ctx, msg)
	if err != nil || !created || job.ID != "wamid.1" {
		t.Fatalf("first enqueue: %+v %v %v", job, created, err)
	}
	job, created, err = h.app.Enqueue(ctx, msg)
	if err != nil || created || job.ID != "wamid.1" {
		t.Fatalf("duplicate enqueue: %+v %v %v", job, created, err)
	}
	if _, _, err := h.app.Enqueue(ctx, domain.InboundMessage{SenderID: testSender}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, found, err := h.app.GetJob(ctx, "wamid.1"); !found || err != nil {
		t.Fatalf("get job: %v %v", found, err)
	}
}

func TestEnqueueWithoutQueue(t *testing.T) {
	h := newHarness(t, "")
	if _, _, err := h.app.Enqueue(context.Background(), domain.InboundMessage{MessageID: "m", SenderID: "s"}); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
}
