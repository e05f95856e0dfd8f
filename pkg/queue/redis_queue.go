package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"storeops/internal/util"
	"storeops/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// ErrDuplicateJob is returned by Enqueue when a job for the message id already exists.
var ErrDuplicateJob = errors.New("job already enqueued")

type JobStatus struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"senderId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Job is what a handler receives: the current status plus the message to process.
type Job struct {
	Status  JobStatus
	Message domain.InboundMessage
}

// FailedJob is an entry of the failed stream.
type FailedJob struct {
	EntryID  string                `json:"entryId"`
	Message  domain.InboundMessage `json:"message"`
	Error    string                `json:"error"`
	FailedAt time.Time             `json:"failedAt"`
}

// Handler processes one job. A non-nil error schedules a retry.
type Handler func(context.Context, Job) error

type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	failedStream string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	Consumer string
	JobTTL   time.Duration
	// MaxRetries is the total number of attempts per job.
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	// RetryDelay is the first backoff step; it doubles on every further attempt.
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 60 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 1
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 1
	}

	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		failedStream: stream + ":failed",
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Close releases the redis connection.
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisJobQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue schedules msg for processing under its message id. A message id that
// already has a job returns that job together with ErrDuplicateJob.
func (q *RedisJobQueue) Enqueue(ctx context.Context, msg domain.InboundMessage) (JobStatus, error) {
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	if msg.MessageID == "" {
		return JobStatus{}, errors.New("messageId required")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return JobStatus{}, fmt.Errorf("encode message: %w", err)
	}
	claimed, err := q.client.HSetNX(ctx, q.jobKey(msg.MessageID), "id", msg.MessageID).Result()
	if err != nil {
		return JobStatus{}, err
	}
	if !claimed {
		existing, _, err := q.GetJob(ctx, msg.MessageID)
		if err != nil {
			return JobStatus{}, err
		}
		return existing, ErrDuplicateJob
	}
	now := time.Now().UTC()
	job := JobStatus{
		ID:        msg.MessageID,
		SenderID:  msg.SenderID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		q.releaseClaim(ctx, job.ID)
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  job.ID,
			"payload": string(payload),
		},
	}).Err(); err != nil {
		q.releaseClaim(ctx, job.ID)
		return JobStatus{}, err
	}
	return job, nil
}

// releaseClaim drops a job hash whose stream entry was never written, so the
// sender's retry of the same message id can enqueue it again.
func (q *RedisJobQueue) releaseClaim(ctx context.Context, jobID string) {
	if err := q.client.Del(context.WithoutCancel(ctx), q.jobKey(jobID)).Err(); err != nil {
		util.LoggerFromContext(ctx).Error("queue release claim failed", "job_id", jobID, "err", err)
	}
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return JobStatus{}, false, err
	}
	if len(data) == 0 {
		return JobStatus{}, false, nil
	}
	return decodeJobStatus(jobID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is cancelled.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("queue group create failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	logger := util.LoggerFromContext(ctx).With("consumer", consumer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, consumer, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Warn("queue read failed", "err", err)
				sleepCtx(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, consumer, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, consumer string, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	payload, _ := msg.Values["payload"].(string)
	logger := util.LoggerFromContext(ctx).With("job_id", jobID, "consumer", consumer)
	var inbound domain.InboundMessage
	if jobID == "" || json.Unmarshal([]byte(payload), &inbound) != nil {
		logger.Error("dropping malformed queue entry", "entry_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	status, err := q.markProcessing(ctx, jobID, inbound.SenderID)
	if err != nil {
		logger.Error("mark processing failed", "err", err)
		return
	}

	jobCtx := util.ContextWithLogger(ctx, logger.With("message_id", inbound.MessageID, "attempt", status.Attempts))
	herr := handler(jobCtx, Job{Status: status, Message: inbound})
	if herr == nil {
		_ = q.markDone(ctx, jobID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if status.Attempts >= q.maxRetries {
		logger.Error("job failed permanently", "attempts", status.Attempts, "err", herr)
		_ = q.markFailed(ctx, jobID, herr.Error())
		if err := q.moveToFailed(ctx, msg.ID, jobID, payload, herr.Error()); err != nil {
			logger.Error("move to failed stream", "err", err)
		}
		return
	}
	delay := q.backoff(status.Attempts)
	logger.Warn("job attempt failed, retrying", "attempts", status.Attempts, "retry_in", delay.String(), "err", herr)
	_ = q.markQueued(ctx, jobID, herr.Error())
	if !sleepCtx(ctx, delay) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, jobID, payload); err != nil {
		logger.Error("requeue failed", "err", err)
	}
}

// backoff returns the wait before the attempt following attempt n.
func (q *RedisJobQueue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return q.retryDelay * time.Duration(1<<(attempt-1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, payload string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  jobID,
			"payload": payload,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) moveToFailed(ctx context.Context, msgID, jobID, payload, errMsg string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.failedStream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":    jobID,
			"payload":   payload,
			"error":     errMsg,
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

// ListFailed returns up to count failed jobs, newest first.
func (q *RedisJobQueue) ListFailed(ctx context.Context, count int64) ([]FailedJob, error) {
	if count <= 0 {
		count = 50
	}
	entries, err := q.client.XRevRangeN(ctx, q.failedStream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	res := make([]FailedJob, 0, len(entries))
	for _, e := range entries {
		res = append(res, decodeFailed(e))
	}
	return res, nil
}

// Requeue moves a failed job back onto the work stream with a fresh attempt budget.
func (q *RedisJobQueue) Requeue(ctx context.Context, jobID string) (JobStatus, error) {
	entries, err := q.client.XRange(ctx, q.failedStream, "-", "+").Result()
	if err != nil {
		return JobStatus{}, err
	}
	for _, e := range entries {
		if id, _ := e.Values["job_id"].(string); id != jobID {
			continue
		}
		payload, _ := e.Values["payload"].(string)
		failed := decodeFailed(e)
		now := time.Now().UTC()
		job := JobStatus{
			ID:        jobID,
			SenderID:  failed.Message.SenderID,
			Status:    StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.writeStatus(ctx, job); err != nil {
			return JobStatus{}, err
		}
		pipe := q.client.TxPipeline()
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			MaxLen: q.maxLen,
			Approx: true,
			Values: map[string]any{
				"job_id":  jobID,
				"payload": payload,
			},
		})
		pipe.XDel(ctx, q.failedStream, e.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return JobStatus{}, err
		}
		return job, nil
	}
	return JobStatus{}, fmt.Errorf("failed job %s not found", jobID)
}

func decodeFailed(e redis.XMessage) FailedJob {
	f := FailedJob{EntryID: e.ID}
	if payload, _ := e.Values["payload"].(string); payload != "" {
		_ = json.Unmarshal([]byte(payload), &f.Message)
	}
	f.Error, _ = e.Values["error"].(string)
	if v, _ := e.Values["failed_at"].(string); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			f.FailedAt = t
		}
	}
	return f
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID, senderID string) (JobStatus, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}
	if job.ID == "" {
		job = JobStatus{ID: jobID}
	}
	if senderID != "" {
		job.SenderID = senderID
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) markQueued(ctx context.Context, jobID, errMsg string) error {
	return q.updateStatus(ctx, jobID, StatusQueued, errMsg)
}

func (q *RedisJobQueue) markDone(ctx context.Context, jobID string) error {
	return q.updateStatus(ctx, jobID, StatusDone, "")
}

func (q *RedisJobQueue) markFailed(ctx context.Context, jobID, errMsg string) error {
	return q.updateStatus(ctx, jobID, StatusFailed, errMsg)
}

func (q *RedisJobQueue) updateStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ID = jobID
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job JobStatus) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":        job.ID,
		"senderId":  job.SenderID,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJobStatus(jobID string, data map[string]string) JobStatus {
	job := JobStatus{
		ID:           jobID,
		SenderID:     data["senderId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
