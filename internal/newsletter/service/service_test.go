package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks SubscriberLister,EmailSender,Auditor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"newsletter/internal/email"
	"newsletter/internal/newsletter/models"
	"newsletter/internal/newsletter/service/mocks"
	subscriptionmodels "newsletter/internal/subscription/models"
	substore "newsletter/internal/subscription/store"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/audit"
	auditpublisher "newsletter/pkg/platform/audit/publisher"
	auditmemory "newsletter/pkg/platform/audit/store/memory"
	"newsletter/pkg/platform/sentinel"
	"newsletter/pkg/requestcontext"
)

var testIssue = models.Issue{Title: "Issue #1", HTML: "<p>Hello</p>", Text: "Hello"}

type PublishSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	mockLister *mocks.MockSubscriberLister
	mockSender *mocks.MockEmailSender
	service    *Service
}

func TestPublishSuite(t *testing.T) {
	suite.Run(t, new(PublishSuite))
}

func (s *PublishSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockLister = mocks.NewMockSubscriberLister(s.ctrl)
	s.mockSender = mocks.NewMockEmailSender(s.ctrl)
	var err error
	s.service, err = New(s.mockLister, s.mockSender)
	s.Require().NoError(err)
}

func (s *PublishSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *PublishSuite) TestNew() {
	_, err := New(nil, s.mockSender)
	s.ErrorContains(err, "subscriber lister is required")
	_, err = New(s.mockLister, nil)
	s.ErrorContains(err, "email sender is required")
}

func (s *PublishSuite) TestPublish() {
	ctx := context.Background()

	s.Run("issue without title is rejected before listing", func() {
		_, err := s.service.Publish(ctx, models.Issue{Title: " ", Text: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("no confirmed subscribers sends nothing", func() {
		s.mockLister.EXPECT().ListConfirmedEmails(gomock.Any()).Return(nil, nil)

		report, err := s.service.Publish(ctx, testIssue)
		s.Require().NoError(err)
		s.Equal(&models.Report{Failed: []models.FailedDelivery{}}, report)
	})

	s.Run("each confirmed subscriber gets one copy", func() {
		s.mockLister.EXPECT().ListConfirmedEmails(gomock.Any()).
			Return([]string{"a@example.com", "b@example.com"}, nil)
		for _, to := range []string{"a@example.com", "b@example.com"} {
			s.mockSender.EXPECT().Send(gomock.Any(), email.Message{
				To:       to,
				Subject:  "Issue #1",
				HTMLBody: "<p>Hello</p>",
				TextBody: "Hello",
			}).Return(nil)
		}

		report, err := s.service.Publish(ctx, testIssue)
		s.Require().NoError(err)
		s.Equal(2, report.Recipients)
		s.Equal(2, report.Delivered)
		s.Empty(report.Failed)
	})

	s.Run("a failed send is reported and does not stop the others", func() {
		s.mockLister.EXPECT().ListConfirmedEmails(gomock.Any()).
			Return([]string{"a@example.com", "b@example.com", "c@example.com"}, nil)
		s.mockSender.EXPECT().Send(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msg email.Message) error {
				if msg.To == "b@example.com" {
					return errors.New("email API responded 422")
				}
				return nil
			}).Times(3)

		report, err := s.service.Publish(ctx, testIssue)
		s.Require().NoError(err)
		s.Equal(2, report.Delivered)
		s.Require().Len(report.Failed, 1)
		s.Equal("b@example.com", report.Failed[0].Recipient)
		s.ErrorContains(report.Failed[0].Err, "422")
	})

	s.Run("invalid stored address is skipped", func() {
		s.mockLister.EXPECT().ListConfirmedEmails(gomock.Any()).
			Return([]string{"not-an-email", "a@example.com"}, nil)
		s.mockSender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

		report, err := s.service.Publish(ctx, testIssue)
		s.Require().NoError(err)
		s.Equal(2, report.Recipients)
		s.Equal(1, report.Delivered)
		s.Equal(1, report.Skipped)
	})

	s.Run("list failure is internal", func() {
		s.mockLister.EXPECT().ListConfirmedEmails(gomock.Any()).
			Return(nil, errors.New("pq: connection refused"))

		_, err := s.service.Publish(ctx, testIssue)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

type staticLister []string

func (l staticLister) ListConfirmedEmails(context.Context) ([]string, error) {
	return l, nil
}

type slowSender struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	sent     []string
}

func (s *slowSender) Send(_ context.Context, msg email.Message) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	s.sent = append(s.sent, msg.To)
	s.mu.Unlock()
	return nil
}

func TestPublish_BoundsConcurrency(t *testing.T) {
	recipients := make(staticLister, 20)
	for i := range recipients {
		recipients[i] = fmt.Sprintf("reader%d@example.com", i)
	}
	sender := &slowSender{}
	svc, err := New(recipients, sender, WithConcurrency(3))
	require.NoError(t, err)

	report, err := svc.Publish(context.Background(), testIssue)
	require.NoError(t, err)

	assert.Equal(t, 20, report.Delivered)
	assert.Len(t, sender.sent, 20)
	assert.LessOrEqual(t, sender.peak.Load(), int32(3))
}

func TestPublish_RecordsAuditEvent(t *testing.T) {
	events := auditmemory.NewInMemoryStore()
	svc, err := New(staticLister{"a@example.com", "not-an-email"}, &slowSender{},
		WithAuditor(auditpublisher.NewPublisher(events)),
	)
	require.NoError(t, err)

	ctx := requestcontext.WithPublisher(context.Background(), "editor")
	_, err = svc.Publish(ctx, testIssue)
	require.NoError(t, err)

	recent, err := events.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, string(audit.EventNewsletterPublished), recent[0].Action)
	assert.Equal(t, testIssue.Title, recent[0].Subject)
	assert.Equal(t, "editor", recent[0].ActorID)
	assert.Equal(t, "delivered=1 failed=0 skipped=1", recent[0].Reason)
}

func TestPublish_AddressesEqualIgnoringCaseAreOneSubscriber(t *testing.T) {
	ctx := context.Background()

	t.Run("the subscription store keeps one row per address", func(t *testing.T) {
		subscribers := substore.NewInMemory()
		first, err := subscriptionmodels.ParseNewSubscriber("Ann@Example.com", "ann")
		require.NoError(t, err)
		id, err := subscribers.UpsertPending(ctx, first, subscriptionmodels.NewSubscriberID(), time.Now())
		require.NoError(t, err)
		require.NoError(t, subscribers.MarkConfirmed(ctx, id))

		variant, err := subscriptionmodels.ParseNewSubscriber("ann@example.com", "ann")
		require.NoError(t, err)
		_, err = subscribers.UpsertPending(ctx, variant, subscriptionmodels.NewSubscriberID(), time.Now())
		require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)

		sender := &slowSender{}
		svc, err := New(subscribers, sender)
		require.NoError(t, err)

		report, err := svc.Publish(ctx, testIssue)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Delivered)
		assert.Equal(t, []string{"Ann@Example.com"}, sender.sent)
	})

	t.Run("fan-out applies the same rule to any lister", func(t *testing.T) {
		sender := &slowSender{}
		svc, err := New(staticLister{"Ann@Example.com", "ann@example.com"}, sender)
		require.NoError(t, err)

		report, err := svc.Publish(ctx, testIssue)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Recipients)
		assert.Equal(t, []string{"Ann@Example.com"}, sender.sent)
	})
}
