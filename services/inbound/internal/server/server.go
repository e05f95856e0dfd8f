package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"storeops/internal/servicetoken"
	"storeops/internal/util"
	"storeops/pkg/domain"
	"storeops/pkg/queue"
	"storeops/services/inbound/internal/app"
)

const serviceName = "inbound"

// Ingress is the part of the app the HTTP layer needs.
type Ingress interface {
	Enqueue(ctx context.Context, msg domain.InboundMessage) (queue.JobStatus, bool, error)
	GetJob(ctx context.Context, messageID string) (queue.JobStatus, bool, error)
}

// SenderLimiter throttles inbound messages per sender.
type SenderLimiter interface {
	Allow(ctx context.Context, sender string) (bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      Ingress
	Verifier *servicetoken.Verifier
	// Limiter is optional; nil disables per-sender throttling.
	Limiter SenderLimiter
	// Ready reports dependency health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server exposes the inbound endpoints used by the chat gateway and operators.
type Server struct {
	app      Ingress
	verifier *servicetoken.Verifier
	limiter  SenderLimiter
	ready    func(ctx context.Context) error
	validate *validator.Validate
	mux      *http.ServeMux
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("ingress token verifier required")
	}
	s := &Server{
		app:      cfg.App,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		ready:    cfg.Ready,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(serviceName, util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /internal/inbound", s.verifier.Middleware(http.HandlerFunc(s.handleInbound)))
	s.mux.Handle("GET /internal/jobs/{id}", s.verifier.Middleware(http.HandlerFunc(s.handleJob)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := util.LoggerFromContext(ctx)

	var msg domain.InboundMessage
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	if err := s.validate.Struct(msg); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.MediaRef) == "" {
		writeError(w, http.StatusBadRequest, "text or mediaRef required")
		return
	}
	if claims, ok := servicetoken.ClaimsFromContext(ctx); ok && claims.Sender != "" && claims.Sender != msg.SenderID {
		writeError(w, http.StatusForbidden, "token not valid for sender")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, msg.SenderID)
		if err != nil {
			logger.Warn("sender rate limit unavailable, allowing", "sender_id", msg.SenderID, "err", err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "too many messages from sender")
			return
		}
	}

	job, created, err := s.app.Enqueue(ctx, msg)
	if err != nil {
		if errors.Is(err, app.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("enqueue inbound message failed", "message_id", msg.MessageID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.NotFound(w, r)
		return
	}
	job, found, err := s.app.GetJob(r.Context(), id)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("get job failed", "job_id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid message"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " required"
	case "max":
		return field + " too long"
	default:
		return field + " invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
