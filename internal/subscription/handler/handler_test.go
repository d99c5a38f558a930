package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"newsletter/internal/subscription/handler/mocks"
	"newsletter/internal/subscription/service"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/testutil"
)

type SubscriptionHandlerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockService *mocks.MockService
	router      chi.Router
}

func TestSubscriptionHandlerSuite(t *testing.T) {
	suite.Run(t, new(SubscriptionHandlerSuite))
}

func (s *SubscriptionHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	New(s.mockService, logger).Register(s.router)
}

func (s *SubscriptionHandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SubscriptionHandlerSuite) TestSubscribe() {
	s.Run("valid form returns 200", func() {
		s.mockService.EXPECT().Register(gomock.Any(), "ursula_le_guin@gmail.com", "le guin").
			Return(service.OutcomeConfirmationSent, nil)

		req := testutil.NewRawFormRequest(s.T(), "/subscriptions", "name=le%20guin&email=ursula_le_guin%40gmail.com")
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusOK, rr.Code)
		s.Empty(rr.Body.String())
	})

	s.Run("already confirmed looks the same as a new subscription", func() {
		s.mockService.EXPECT().Register(gomock.Any(), "ursula_le_guin@gmail.com", "le guin").
			Return(service.OutcomeAlreadyConfirmed, nil)

		req := testutil.NewFormRequest(s.T(), "/subscriptions", url.Values{"name": {"le guin"}, "email": {"ursula_le_guin@gmail.com"}})
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusOK, rr.Code)
		s.Empty(rr.Body.String())
	})

	s.Run("missing fields reach the service as empty strings", func() {
		s.mockService.EXPECT().Register(gomock.Any(), "", "le guin").
			Return(service.RegistrationOutcome(""), dErrors.New(dErrors.CodeValidation, "email is not a valid address"))

		req := testutil.NewRawFormRequest(s.T(), "/subscriptions", "name=le%20guin")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("malformed form body is a bad request", func() {
		req := testutil.NewRawFormRequest(s.T(), "/subscriptions", "name=%zz")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("oversized body is a bad request", func() {
		req := testutil.NewRawFormRequest(s.T(), "/subscriptions", "name="+strings.Repeat("a", maxFormBytes+1))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("internal failure hides the cause", func() {
		s.mockService.EXPECT().Register(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(service.RegistrationOutcome(""), dErrors.Wrap(errors.New("pq: connection reset"), dErrors.CodeInternal, "failed to store subscriber"))

		req := testutil.NewRawFormRequest(s.T(), "/subscriptions", "name=le%20guin&email=ursula_le_guin%40gmail.com")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
		s.NotContains(rr.Body.String(), "pq:")
	})
}

func (s *SubscriptionHandlerSuite) TestConfirm() {
	const token = "abcdefghijklmnopqrstuvwxy"

	s.Run("missing token is a bad request", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/subscriptions/confirm"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("valid token returns 200", func() {
		s.mockService.EXPECT().Confirm(gomock.Any(), token).Return(nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/subscriptions/confirm?subscription_token="+token))
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("malformed token is a bad request", func() {
		s.mockService.EXPECT().Confirm(gomock.Any(), "").
			Return(dErrors.New(dErrors.CodeValidation, "subscription token is required"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/subscriptions/confirm?subscription_token="))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("unknown token is unauthorized", func() {
		s.mockService.EXPECT().Confirm(gomock.Any(), token).
			Return(dErrors.New(dErrors.CodeUnauthorized, "unknown subscription token"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/subscriptions/confirm?subscription_token="+token))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("internal failure is 500", func() {
		s.mockService.EXPECT().Confirm(gomock.Any(), token).
			Return(dErrors.New(dErrors.CodeInternal, "failed to confirm subscriber"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/subscriptions/confirm?subscription_token="+token))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})
}
