package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"newsletter/internal/newsletter/models"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/httputil"
	"newsletter/pkg/platform/middleware/auth"
	request "newsletter/pkg/platform/middleware/request"
	"newsletter/pkg/requestcontext"
)

// Realm is the Basic auth realm advertised on 401 responses.
const Realm = "publish"

const maxBodyBytes = 1 << 20

// Service publishes an issue to confirmed subscribers.
type Service interface {
	Publish(ctx context.Context, issue models.Issue) (*models.Report, error)
}

// Handler serves the authenticated publish endpoint.
type Handler struct {
	logger     *slog.Logger
	newsletter Service
	auth       auth.Authenticator
}

func New(newsletter Service, authenticator auth.Authenticator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:     logger,
		newsletter: newsletter,
		auth:       authenticator,
	}
}

// Register registers the newsletter routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(auth.BasicAuth(Realm, h.auth, h.logger)).Post("/newsletters", h.handlePublish)
}

type publishRequest struct {
	Title   *string         `json:"title"`
	Content *publishContent `json:"content"`
}

type publishContent struct {
	HTML *string `json:"html"`
	Text *string `json:"text"`
}

func (req publishRequest) toIssue() (models.Issue, error) {
	switch {
	case req.Title == nil:
		return models.Issue{}, dErrors.New(dErrors.CodeBadRequest, "title is required")
	case req.Content == nil:
		return models.Issue{}, dErrors.New(dErrors.CodeBadRequest, "content is required")
	case req.Content.HTML == nil:
		return models.Issue{}, dErrors.New(dErrors.CodeBadRequest, "content.html is required")
	case req.Content.Text == nil:
		return models.Issue{}, dErrors.New(dErrors.CodeBadRequest, "content.text is required")
	}
	return models.Issue{Title: *req.Title, HTML: *req.Content.HTML, Text: *req.Content.Text}, nil
}

// handlePublish fans the issue out and returns the delivery report.
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var body publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.logger.WarnContext(ctx, "invalid publish request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	issue, err := body.toIssue()
	if err != nil {
		h.logger.WarnContext(ctx, "incomplete publish request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	report, err := h.newsletter.Publish(ctx, issue)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			h.logger.WarnContext(ctx, "invalid newsletter issue",
				"request_id", requestID,
				"error", err.Error(),
			)
		} else {
			h.logger.ErrorContext(ctx, "failed to publish newsletter",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "newsletter published",
		"request_id", requestID,
		"publisher", requestcontext.Publisher(ctx),
		"delivered", report.Delivered,
		"failed", len(report.Failed),
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}
