package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	dErrors "newsletter/pkg/domain-errors"
	request "newsletter/pkg/platform/middleware/request"
	"newsletter/pkg/requestcontext"
)

// Authenticator verifies a username/password pair. Wrong credentials are
// reported with dErrors.CodeUnauthorized; any other error is a server fault.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

func challenge(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", "Basic realm="+strconv.Quote(realm))
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid credentials")
}

// BasicAuth requires HTTP Basic credentials accepted by auth. Rejected
// requests get 401 with a WWW-Authenticate challenge for realm. On success the
// username is stored with requestcontext.WithPublisher.
func BasicAuth(realm string, auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			username, password, ok := r.BasicAuth()
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing credentials",
					"request_id", requestID,
				)
				challenge(w, realm)
				return
			}

			if err := auth.Authenticate(ctx, username, password); err != nil {
				if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					logger.WarnContext(ctx, "unauthorized access - invalid credentials",
						"username", username,
						"request_id", requestID,
					)
					challenge(w, realm)
					return
				}
				logger.ErrorContext(ctx, "failed to authenticate publisher",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to validate credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPublisher(ctx, username)))
		})
	}
}
