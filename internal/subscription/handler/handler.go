package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"newsletter/internal/subscription/service"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/httputil"
	request "newsletter/pkg/platform/middleware/request"
)

// maxFormBytes caps the subscribe form body.
const maxFormBytes = 64 << 10

// Service defines the subscription workflows the handler drives.
type Service interface {
	Register(ctx context.Context, rawEmail, rawName string) (service.RegistrationOutcome, error)
	Confirm(ctx context.Context, rawToken string) error
}

// Handler serves the public subscribe and confirm endpoints.
type Handler struct {
	logger        *slog.Logger
	subscriptions Service
}

func New(subscriptions Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:        logger,
		subscriptions: subscriptions,
	}
}

// Register registers the subscription routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/subscriptions", h.handleSubscribe)
	r.Get("/subscriptions/confirm", h.handleConfirm)
}

// handleSubscribe accepts an urlencoded form with name and email. Every
// successful outcome, including an address that is already confirmed,
// answers 200 with an empty body.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.WarnContext(ctx, "invalid subscribe form",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form body"))
		return
	}

	outcome, err := h.subscriptions.Register(ctx, r.PostForm.Get("email"), r.PostForm.Get("name"))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to register subscriber", err)
		return
	}

	h.logger.InfoContext(ctx, "subscription request handled",
		"request_id", requestID,
		"outcome", string(outcome),
	)
	w.WriteHeader(http.StatusOK)
}

// handleConfirm consumes the token from the confirmation link.
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	if !query.Has("subscription_token") {
		h.logger.WarnContext(ctx, "confirmation without token",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "subscription_token is required"))
		return
	}

	if err := h.subscriptions.Confirm(ctx, query.Get("subscription_token")); err != nil {
		h.writeServiceError(ctx, w, "failed to confirm subscriber", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := request.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeBadRequest, dErrors.CodeUnauthorized:
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err.Error(),
		)
	default:
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
