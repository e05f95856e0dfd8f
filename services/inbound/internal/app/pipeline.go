package app

import (
	"context"
	"fmt"
	"strings"

	"storeops/internal/util"
	"storeops/pkg/ai"
	"storeops/pkg/domain"
	"storeops/pkg/extract"
	"storeops/pkg/notify"
	"storeops/pkg/queue"
)

// Outcome summarizes what the pipeline did with one message.
type Outcome struct {
	ActionID string
	Category domain.Category
	// Confidence is the classifier's confidence in Category.
	Confidence   float64
	Degradations []domain.Degradation
	// Skipped is set when the message had already been processed.
	Skipped  bool
	Unlinked bool
	// Command names the chat command handled instead of the pipeline.
	Command string
}

// HandleJob is the queue handler. Returned errors schedule a retry.
func (a *App) HandleJob(ctx context.Context, job queue.Job) error {
	logger := util.LoggerFromContext(ctx).With(
		"message_id", job.Message.MessageID,
		"job_id", job.Status.ID,
		"attempt", job.Status.Attempts,
	)
	ctx = util.ContextWithLogger(ctx, logger)
	out, err := a.Process(ctx, job.Message)
	if err != nil {
		logger.Error("inbound job failed", "err", err)
		return err
	}
	logger.Info("inbound job done",
		"skipped", out.Skipped,
		"command", out.Command,
		"category", out.Category,
		"action_id", out.ActionID,
		"degraded", len(out.Degradations),
	)
	return nil
}

// Process runs one inbound message through resolution, media, OCR,
// classification, extraction and the confirmation prompt. Processing a
// message id that is already marked processed is a no-op.
func (a *App) Process(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	logger := util.LoggerFromContext(ctx)
	entry, found, err := a.store.GetMessage(ctx, msg.MessageID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup message: %w", err)
	}
	if found && entry.Processed {
		logger.Info("message already processed")
		return Outcome{Skipped: true}, nil
	}
	if _, err := a.store.LogMessage(ctx, domain.MessageLogEntry{
		MessageID:   msg.MessageID,
		SenderID:    msg.SenderID,
		MessageType: msg.Type(),
		RawText:     msg.Text,
		MediaRef:    msg.MediaRef,
	}); err != nil {
		return Outcome{}, fmt.Errorf("log message: %w", err)
	}

	text := strings.TrimSpace(msg.Text)
	if !msg.HasMedia() {
		if cmd, ok := ParseCommand(text); ok {
			reply, err := a.HandleCommand(ctx, msg.SenderID, cmd)
			if err != nil {
				return Outcome{Command: cmd.Name}, fmt.Errorf("command %s: %w", cmd.Name, err)
			}
			a.reply(ctx, msg.SenderID, reply)
			return Outcome{Command: cmd.Name}, a.markProcessed(ctx, msg.MessageID)
		}
	}

	res, err := a.resolver.Resolve(ctx, msg.SenderID, text)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve store: %w", err)
	}
	if res.IsUnlinked {
		logger.Info("sender not linked to a store")
		a.reply(ctx, msg.SenderID, notify.UnlinkedMessage)
		return Outcome{Unlinked: true}, a.markProcessed(ctx, msg.MessageID)
	}
	storeID := res.StoreID
	if err := a.store.UpdateMessage(ctx, msg.MessageID, domain.MessageLogPatch{StoreID: storeID}); err != nil {
		return Outcome{}, fmt.Errorf("record store: %w", err)
	}

	var out Outcome
	var image *ai.Image
	var mediaURL string
	if msg.HasMedia() {
		image, mediaURL = a.fetchMedia(ctx, msg, storeID, &out)
		if mediaURL != "" {
			if err := a.store.UpdateMessage(ctx, msg.MessageID, domain.MessageLogPatch{MediaURL: mediaURL}); err != nil {
				return out, fmt.Errorf("record media url: %w", err)
			}
		}
	}

	var ocrText string
	if image != nil {
		ocrText, err = a.ocr.ExtractText(ctx, *image)
		if err != nil {
			logger.Warn("ocr degraded", "err", err)
			out.Degradations = append(out.Degradations, domain.Degradation{Stage: "ocr", Reason: err.Error()})
			ocrText = ""
		}
	}

	cls := a.classifier.Classify(ctx, joinText(text, ocrText), a.useFallback)
	if cls.Degraded != nil {
		out.Degradations = append(out.Degradations, *cls.Degraded)
	}
	out.Category = cls.Category
	out.Confidence = cls.Confidence
	if err := a.store.UpdateMessage(ctx, msg.MessageID, domain.MessageLogPatch{Classification: cls.Category}); err != nil {
		return out, fmt.Errorf("record classification: %w", err)
	}
	if cls.Category == domain.CategoryUnknown {
		logger.Info("message not classified", "source", cls.Source)
		a.reply(ctx, msg.SenderID, notify.UnclassifiedMessage)
		return out, a.markProcessed(ctx, msg.MessageID)
	}
	logger.Info("message classified", "category", cls.Category, "confidence", cls.Confidence, "source", cls.Source)

	result := a.extractor.Extract(ctx, extract.Request{
		Category: cls.Category,
		Text:     text,
		OCRText:  ocrText,
		Image:    image,
		MediaURL: mediaURL,
	})
	if result.Degraded != nil {
		out.Degradations = append(out.Degradations, *result.Degraded)
	}
	if err := a.store.UpdateMessage(ctx, msg.MessageID, domain.MessageLogPatch{ExtractedFields: result.Fields}); err != nil {
		return out, fmt.Errorf("record extraction: %w", err)
	}

	action, created, err := a.store.CreatePendingAction(ctx, domain.PendingAction{
		SenderID:        msg.SenderID,
		StoreID:         storeID,
		Category:        cls.Category,
		Fields:          withOrderBatch(domain.NormalizeFields(cls.Category, result.Fields)),
		Confidence:      result.Confidence,
		SourceMessageID: msg.MessageID,
		MediaURL:        mediaURL,
		CreatedAt:       a.now(),
	})
	if err != nil {
		return out, fmt.Errorf("create pending action: %w", err)
	}
	out.ActionID = action.ID
	if !created {
		logger.Info("pending action already exists", "action_id", action.ID)
	}

	prompt := notify.ConfirmationPrompt(notify.DetectedSummary(action.Fields))
	if err := a.notifier.Send(ctx, msg.SenderID, prompt); err != nil {
		return out, fmt.Errorf("send confirmation: %w", err)
	}
	return out, a.markProcessed(ctx, msg.MessageID)
}

func (a *App) fetchMedia(ctx context.Context, msg domain.InboundMessage, storeID string, out *Outcome) (*ai.Image, string) {
	if a.media == nil {
		out.Degradations = append(out.Degradations, domain.Degradation{Stage: "media", Reason: "media handler not configured"})
		return nil, ""
	}
	res, err := a.media.Process(ctx, msg.MediaRef, storeID, msg.MessageID, msg.MediaKind)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("media degraded", "media_ref", msg.MediaRef, "err", err)
		out.Degradations = append(out.Degradations, domain.Degradation{Stage: "media", Reason: err.Error()})
		return nil, ""
	}
	return &ai.Image{URL: res.URL, Data: res.Buffer, MimeType: res.MimeType}, res.URL
}

func (a *App) markProcessed(ctx context.Context, messageID string) error {
	if err := a.store.UpdateMessage(ctx, messageID, domain.MessageLogPatch{Processed: true}); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// withOrderBatch gives an order without a batch id a fresh one.
func withOrderBatch(fields domain.Fields) domain.Fields {
	if order, ok := fields.(*domain.OrderRequestFields); ok && strings.TrimSpace(order.OrderBatchID) == "" {
		order.OrderBatchID = util.NewID()
	}
	return fields
}

func joinText(text, ocrText string) string {
	ocrText = strings.TrimSpace(ocrText)
	switch {
	case ocrText == "":
		return text
	case text == "":
		return ocrText
	default:
		return text + "\n\n" + ocrText
	}
}
