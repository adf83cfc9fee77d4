package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbirochan/portfolio-site/internal/config"
	"github.com/mbirochan/portfolio-site/internal/contact"
	applog "github.com/mbirochan/portfolio-site/internal/log"
	"github.com/mbirochan/portfolio-site/internal/middleware"
	"github.com/mbirochan/portfolio-site/internal/router"
)

const tracerName = "github.com/mbirochan/portfolio-site/internal/server"

// maxBodyBytes bounds the size of a submission payload.
const maxBodyBytes = 64 << 10

// Response messages returned to the browser.
const (
	msgInvalid       = "Invalid form data"
	msgNotConfigured = "Email service not configured. Please add GMAIL_USER and GMAIL_APP_PASSWORD to your environment variables."
	msgSendFailed    = "Failed to send email"
	msgUnexpected    = "Failed to process form submission"
	msgThanks        = "Thank you for your message! I will get back to you soon."
	msgThanksConfirm = "Thank you for your message! Check your email for confirmation."
	msgNotFound      = "Not found"
	msgNotAllowed    = "Method not allowed"
)

var errTrailingData = errors.New("unexpected data after JSON object")

// Paths the submission endpoint is served on.
var contactPaths = []string{"/contact", "/api/contact"}

// Server represents the HTTP server runtime.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer

	router  *router.Router
	handler http.Handler

	contact contact.Sender
}

// response is the JSON envelope for every endpoint reply.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

type health struct {
	Status         string `json:"status"`
	MailConfigured bool   `json:"mail_configured"`
}

// New constructs a server instance. sender may be nil, in which case every
// submission is answered as not configured.
func New(cfg *config.Config, sender contact.Sender, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = applog.Discard()
	}

	srv := &Server{
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		router:  router.New(),
		contact: sender,
	}

	srv.registerRoutes()

	srv.handler = middleware.Chain(
		http.HandlerFunc(srv.router.ServeHTTP),
		middleware.WithRequestID("X-Request-Id"),
		middleware.CORS(middleware.CORSPolicy{
			AllowOrigin:  cfg.Server.AllowOrigin,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Content-Type", "Authorization"},
		}),
		middleware.Logging(logger, "/healthz"),
		middleware.Recover(logger, srv.recoverHandler),
	)

	return srv, nil
}

func (s *Server) registerRoutes() {
	for _, path := range contactPaths {
		s.router.HandleFunc(http.MethodOptions, path, s.handlePreflight)
		s.router.HandleFunc(http.MethodPost, path, s.handleContactSubmit)
	}
	s.router.HandleFunc(http.MethodGet, "/healthz", s.serveHealth)

	s.router.NotFound(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusNotFound, response{Error: msgNotFound})
	}))
	s.router.MethodNotAllowed(func(allow string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Allow", allow)
			s.writeJSON(w, http.StatusMethodNotAllowed, response{Error: msgNotAllowed})
		})
	})
}

// Handler exposes the server handler stack.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handlePreflight answers CORS preflight requests. It never consults the
// dispatcher or its configuration.
func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleContactSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := s.tracer.Start(ctx, "contact.submit", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	reqID := middleware.RequestIDFromContext(ctx)
	logger := s.logger.With("request_id", reqID)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := decodeSubmission(r.Body)
	if err != nil {
		span.SetAttributes(attribute.String("contact.outcome", "unexpected"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode payload")
		logger.Warn("contact payload rejected", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, response{Error: msgUnexpected, Details: err.Error()})
		return
	}

	sub, err := contact.Validate(raw)
	if err != nil {
		var verr *contact.ValidationError
		if errors.As(err, &verr) {
			span.SetAttributes(attribute.String("contact.outcome", "invalid"))
			logger.Info("contact submission invalid", "fields", verr.Fields.Fields())
			s.writeJSON(w, http.StatusBadRequest, response{Error: msgInvalid, Details: verr.Fields})
			return
		}
		s.failUnexpected(w, span, logger, err)
		return
	}

	if s.contact == nil || !s.contact.Configured() {
		span.SetAttributes(attribute.String("contact.outcome", "not_configured"))
		span.SetStatus(codes.Error, "not configured")
		logger.Error("contact submission dropped", "error", contact.ErrNotConfigured)
		s.writeJSON(w, http.StatusInternalServerError, response{Error: msgNotConfigured})
		return
	}

	ack, err := s.contact.Send(ctx, sub)
	if err != nil {
		var derr *contact.DispatchError
		switch {
		case errors.Is(err, contact.ErrNotConfigured):
			span.SetAttributes(attribute.String("contact.outcome", "not_configured"))
			logger.Error("contact submission dropped", "error", err)
			s.writeJSON(w, http.StatusInternalServerError, response{Error: msgNotConfigured})
		case errors.As(err, &derr):
			span.SetAttributes(
				attribute.String("contact.outcome", "send_failed"),
				attribute.String("contact.failed_step", string(derr.Step)),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "send failed")
			logger.Error("contact send failed", "step", derr.Step, "partial", derr.IsPartial(), "error", err)
			s.writeJSON(w, http.StatusInternalServerError, response{Error: msgSendFailed, Details: err.Error()})
		default:
			s.failUnexpected(w, span, logger, err)
		}
		return
	}

	span.SetAttributes(
		attribute.String("contact.outcome", "sent"),
		attribute.Bool("contact.confirmed", ack.Confirmed),
	)
	logger.Info("contact submission sent",
		"notification_id", ack.NotificationID,
		"confirmation_id", ack.ConfirmationID,
		"confirmed", ack.Confirmed,
	)

	message := msgThanks
	if sub.HasEmail() {
		message = msgThanksConfirm
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Message: message})
}

// decodeSubmission reads exactly one JSON value from body. Anything other than
// whitespace after it makes the payload undecodable.
func decodeSubmission(body io.Reader) (contact.Submission, error) {
	var raw contact.Submission
	dec := json.NewDecoder(body)
	if err := dec.Decode(&raw); err != nil {
		return contact.Submission{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errTrailingData
		}
		return contact.Submission{}, fmt.Errorf("decode payload: %w", err)
	}
	return raw, nil
}

func (s *Server) failUnexpected(w http.ResponseWriter, span trace.Span, logger *slog.Logger, err error) {
	span.SetAttributes(attribute.String("contact.outcome", "unexpected"))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("contact submission failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, response{Error: msgUnexpected, Details: err.Error()})
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	configured := s.contact != nil && s.contact.Configured()
	s.writeJSON(w, http.StatusOK, health{Status: "ok", MailConfigured: configured})
}

func (s *Server) recoverHandler(w http.ResponseWriter, _ *http.Request, rec any) {
	s.writeJSON(w, http.StatusInternalServerError, response{Error: msgUnexpected, Details: fmt.Sprint(rec)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"success":false,"error":"internal error"}`)
	}

	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Cache-Control", "no-store, max-age=0")

	w.WriteHeader(status)
	_, _ = w.Write(data)
}
