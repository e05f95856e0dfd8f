package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storeops/internal/util"
	"storeops/pkg/ai"
	"storeops/pkg/domain"
	"storeops/pkg/extract"
	"storeops/pkg/media"
	"storeops/pkg/notify"
	"storeops/pkg/ocr"
	"storeops/pkg/queue"
	"storeops/pkg/sheets"
	"storeops/pkg/store"
	"storeops/pkg/tenant"
)

// Classifier labels message text with a category.
type Classifier interface {
	Classify(ctx context.Context, text string, useFallback bool) domain.Classification
}

// MediaHandler fetches a transport attachment and persists it.
type MediaHandler interface {
	Process(ctx context.Context, ref, storeID, messageID, mimeHint string) (media.Result, error)
}

// FieldExtractor turns a classified message into typed fields.
type FieldExtractor interface {
	Extract(ctx context.Context, req extract.Request) domain.ExtractionResult
}

// Sink receives confirmed records.
type Sink interface {
	Write(ctx context.Context, rec sheets.Record) (string, error)
}

// JobQueue hands inbound messages to the workers.
type JobQueue interface {
	Enqueue(ctx context.Context, msg domain.InboundMessage) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config holds runtime configuration for the inbound pipeline.
type Config struct {
	DatabaseURL        string
	Store              store.Store
	Classifier         Classifier
	ClassifierFallback bool
	// Media is optional; without it attachments degrade to text-only processing.
	Media     MediaHandler
	OCR       ocr.Extractor
	Extractor FieldExtractor
	Sink      Sink
	Notifier  notify.Sender
	// Insights is optional and adds a one-line remark to period summaries.
	Insights ai.TextGenerator
	Queue    JobQueue
	Location *time.Location
	Now      func() time.Time
}

// App runs the inbound pipeline and the chat command surface.
type App struct {
	store       store.Store
	resolver    *tenant.Resolver
	classifier  Classifier
	useFallback bool
	media       MediaHandler
	ocr         ocr.Extractor
	extractor   FieldExtractor
	sink        Sink
	notifier    notify.Sender
	insights    ai.TextGenerator
	queue       JobQueue
	location    *time.Location
	now         func() time.Time
}

// New wires the pipeline. The store is opened from DatabaseURL when not supplied.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("field extractor required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	ocrExtractor := cfg.OCR
	if ocrExtractor == nil {
		ocrExtractor = ocr.Nop{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		store:       dataStore,
		resolver:    tenant.NewResolver(dataStore, dataStore),
		classifier:  cfg.Classifier,
		useFallback: cfg.ClassifierFallback,
		media:       cfg.Media,
		ocr:         ocrExtractor,
		extractor:   cfg.Extractor,
		sink:        cfg.Sink,
		notifier:    cfg.Notifier,
		insights:    cfg.Insights,
		queue:       cfg.Queue,
		location:    loc,
		now:         now,
	}, nil
}

// Enqueue schedules msg for processing. A message id that is already known
// returns its existing job with created=false.
func (a *App) Enqueue(ctx context.Context, msg domain.InboundMessage) (queue.JobStatus, bool, error) {
	if a.queue == nil {
		return queue.JobStatus{}, false, ErrQueueUnavailable
	}
	if strings.TrimSpace(msg.MessageID) == "" || strings.TrimSpace(msg.SenderID) == "" {
		return queue.JobStatus{}, false, ErrInvalidMessage
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = a.now().UTC()
	}
	job, err := a.queue.Enqueue(ctx, msg)
	if errors.Is(err, queue.ErrDuplicateJob) {
		util.LoggerFromContext(ctx).Info("duplicate inbound message", "message_id", msg.MessageID, "status", job.Status)
		return job, false, nil
	}
	if err != nil {
		return queue.JobStatus{}, false, fmt.Errorf("enqueue %s: %w", msg.MessageID, err)
	}
	return job, true, nil
}

// GetJob returns the job status for a message id.
func (a *App) GetJob(ctx context.Context, messageID string) (queue.JobStatus, bool, error) {
	if a.queue == nil {
		return queue.JobStatus{}, false, ErrQueueUnavailable
	}
	return a.queue.GetJob(ctx, messageID)
}

// ExpirePending materializes EXPIRED for overdue pending actions.
func (a *App) ExpirePending(ctx context.Context) (int, error) {
	return a.store.ExpirePendingActions(ctx, a.now())
}

func (a *App) reply(ctx context.Context, to, text string) {
	if err := a.notifier.Send(ctx, to, text); err != nil {
		util.LoggerFromContext(ctx).Warn("reply not delivered", "to", to, "err", err)
	}
}
