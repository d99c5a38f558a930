package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"newsletter/pkg/requestcontext"
)

func TestMiddleware_TimeIsStableWithinRequest(t *testing.T) {
	Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		first := requestcontext.Now(r.Context())
		time.Sleep(2 * time.Millisecond)
		assert.Equal(t, first, requestcontext.Now(r.Context()))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
