package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"intake/internal/contact/models"
	"intake/internal/contact/transform"
	"intake/internal/downstream"
	"intake/internal/index"
	"intake/internal/notification"
	notificationmodels "intake/internal/notification/models"
	"intake/internal/pipeline/mocks"
	"intake/internal/platform/config"
	"intake/internal/platform/logger"
	"intake/internal/vcs"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

const recordID = "0b7c3f0e-5d1a-4c55-9a61-3f2b8c1d2e4f"

type OrchestratorSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	ctx        context.Context
	vcs        *mocks.MockVersionControl
	store      *mocks.MockRecordStore
	propagator *mocks.MockPropagator
	notifier   *mocks.MockNotifier
	now        time.Time
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()
	s.vcs = mocks.NewMockVersionControl(s.ctrl)
	s.store = mocks.NewMockRecordStore(s.ctrl)
	s.propagator = mocks.NewMockPropagator(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.now = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
}

func (s *OrchestratorSuite) orchestrator(cfg config.Pipeline) *Orchestrator {
	tr := transform.New(
		transform.WithClock(func() time.Time { return s.now }),
		transform.WithIDGenerator(func() string { return recordID }),
	)
	return New(tr, s.vcs, s.store, s.propagator, s.notifier,
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return s.now }),
		WithConfig(cfg),
	)
}

func (s *OrchestratorSuite) raw() map[string]any {
	return map[string]any{"fullName": "Jane Roe", "emailAddress": "jane@x.com", "company": "Acme"}
}

func (s *OrchestratorSuite) submission() models.Submission {
	return models.Submission{CorrelationID: "req-1", Source: "web", Actor: "form", ReceivedAt: s.now}
}

func (s *OrchestratorSuite) ref() *models.VersionControlRef {
	return &models.VersionControlRef{
		Branch:         "contact-0b7c3f0e-20240506070809",
		PullRequestID:  12,
		PullRequestURL: "https://github.com/acme/contacts/pull/12",
		FilePath:       "contacts/" + recordID + ".json",
	}
}

func (s *OrchestratorSuite) pendingDoc() *models.Document {
	return &models.Document{
		Record: models.Record{
			ID:      recordID,
			Name:    "Jane Roe",
			Email:   "jane@x.com",
			Company: "Acme",
		},
		ReviewStatus:   models.SyncStatusPendingReview,
		SyncStatus:     models.SyncStatusPendingReview,
		VersionControl: *s.ref(),
	}
}

func (s *OrchestratorSuite) mergeEvent() PullRequestEvent {
	r := &s.pendingDoc().Record
	return PullRequestEvent{
		DeliveryID: "d-1",
		Action:     "closed",
		Number:     12,
		Title:      vcs.PullRequestTitle(r),
		Body:       vcs.PullRequestBody(r, s.submission()),
		Merged:     true,
	}
}

// expectClaim expects the merge claim for delivery d-1 and applies it to doc.
func (s *OrchestratorSuite) expectClaim(doc *models.Document) *gomock.Call {
	return s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p models.Patch) (*models.Document, error) {
			s.Require().NotNil(p.SyncClaim)
			s.Equal("d-1", *p.SyncClaim)
			s.Equal(doc.SyncStatus, *p.IfSyncStatus)
			s.Empty(*p.IfSyncClaim)
			s.Nil(p.SyncStatus)
			claimed := *doc
			p.Apply(&claimed, s.now)
			return &claimed, nil
		})
}

func emitted(id string) func(context.Context, notificationmodels.Notification) (*notification.DeliveryResult, error) {
	return func(_ context.Context, n notificationmodels.Notification) (*notification.DeliveryResult, error) {
		n.ID = id
		n.Status = notificationmodels.StatusSent
		return &notification.DeliveryResult{Notification: &n, Delivered: true}, nil
	}
}

func (s *OrchestratorSuite) TestSubmitCommitsThenIndexes() {
	var indexed *models.Document
	gomock.InOrder(
		s.vcs.EXPECT().CommitRecord(gomock.Any(), gomock.Any(), s.submission()).
			DoAndReturn(func(_ context.Context, r *models.Record, _ models.Submission) (*models.VersionControlRef, error) {
				s.Equal(recordID, r.ID)
				s.Equal("web", r.Source)
				return s.ref(), nil
			}),
		s.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, doc *models.Document) error {
				indexed = doc
				return nil
			}),
	)

	res, err := s.orchestrator(config.Pipeline{}).Submit(s.ctx, s.raw(), s.submission())
	s.Require().NoError(err)

	s.Equal(recordID, res.ID)
	s.Equal(models.SyncStatusPendingReview, res.ReviewStatus)
	s.Equal(StateAwaitingMerge, res.State)
	s.True(res.Index.Indexed)
	s.Equal(12, res.VersionControl.PullRequestID)
	s.False(res.Merged)

	s.Require().NotNil(indexed)
	s.Equal("jane@x.com", indexed.Email)
	s.Equal(models.SyncStatusPendingReview, indexed.SyncStatus)
	s.Equal("contact-0b7c3f0e-20240506070809", indexed.VersionControl.Branch)
}

func (s *OrchestratorSuite) TestSubmitValidationFailureTouchesNothing() {
	_, err := s.orchestrator(config.Pipeline{}).Submit(s.ctx, map[string]any{"company": "Acme"}, s.submission())

	var ve *dErrors.ValidationError
	s.Require().ErrorAs(err, &ve)
	s.Len(ve.Fields, 2)
}

func (s *OrchestratorSuite) TestSubmitCommitFailureIsNotRetried() {
	s.vcs.EXPECT().CommitRecord(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &dErrors.AdapterError{Adapter: "github", Op: "create pull request", StatusCode: 502}).
		Times(1)

	_, err := s.orchestrator(config.Pipeline{}).Submit(s.ctx, s.raw(), s.submission())

	var ae *dErrors.AdapterError
	s.Require().ErrorAs(err, &ae)
	s.Equal(dErrors.PhaseCommit, ae.Phase)
	s.Equal(502, ae.StatusCode)
}

func (s *OrchestratorSuite) TestSubmitIndexFailureLeavesBranchByDefault() {
	s.vcs.EXPECT().CommitRecord(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.ref(), nil)
	s.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	_, err := s.orchestrator(config.Pipeline{}).Submit(s.ctx, s.raw(), s.submission())

	var ae *dErrors.AdapterError
	s.Require().ErrorAs(err, &ae)
	s.Equal(dErrors.PhaseIndex, ae.Phase)
}

func (s *OrchestratorSuite) TestSubmitIndexFailureCompensatesWhenEnabled() {
	s.vcs.EXPECT().CommitRecord(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.ref(), nil)
	s.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))
	s.vcs.EXPECT().DeleteBranch(gomock.Any(), "contact-0b7c3f0e-20240506070809").Return(errors.New("cleanup failed"))

	_, err := s.orchestrator(config.Pipeline{CompensateOnIndexFailure: true}).Submit(s.ctx, s.raw(), s.submission())

	s.Require().Error(err)
	s.Contains(err.Error(), "connection refused")
}

func (s *OrchestratorSuite) TestSubmitAutoMergeRetries() {
	s.vcs.EXPECT().CommitRecord(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.ref(), nil)
	s.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		s.vcs.EXPECT().MergePullRequest(gomock.Any(), 12).Return(errors.New("405 pending validation")).Times(2),
		s.vcs.EXPECT().MergePullRequest(gomock.Any(), 12).Return(nil),
	)

	res, err := s.orchestrator(config.Pipeline{AutoMerge: true, MergeAttempts: 5, MergeRetryDelay: time.Millisecond}).
		Submit(s.ctx, s.raw(), s.submission())
	s.Require().NoError(err)
	s.True(res.Merged)
}

func (s *OrchestratorSuite) TestMergeWithRetryGivesUp() {
	s.vcs.EXPECT().MergePullRequest(gomock.Any(), 12).Return(errors.New("405")).Times(3)

	err := s.orchestrator(config.Pipeline{MergeAttempts: 3}).MergeWithRetry(s.ctx, 12)

	var ae *dErrors.AdapterError
	s.Require().ErrorAs(err, &ae)
	s.Equal(dErrors.PhaseMerge, ae.Phase)
}

func (s *OrchestratorSuite) TestHandleMergePropagatesAndNotifies() {
	doc := s.pendingDoc()
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)
	claim := s.expectClaim(doc)
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).After(claim).
		DoAndReturn(func(_ context.Context, r *models.Record) downstream.Result {
			s.Equal(recordID, r.ID)
			return downstream.Result{Success: true, RemoteID: "person-1"}
		})
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).After(claim).
		DoAndReturn(func(_ context.Context, _ string, p models.Patch) (*models.Document, error) {
			s.Equal(models.SyncStatusSynced, *p.SyncStatus)
			s.Equal("person-1", *p.RemoteID)
			s.Equal(s.now, *p.SyncedAt)
			s.Empty(*p.SyncClaim)
			updated := *doc
			p.Apply(&updated, s.now)
			return &updated, nil
		})
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, n notificationmodels.Notification) (*notification.DeliveryResult, error) {
			s.Equal(notificationmodels.TypeContactSynced, n.Type)
			s.Equal(recordID, n.Metadata["recordId"])
			s.Equal("person-1", n.Metadata["remoteId"])
			return emitted("n-1")(ctx, n)
		})

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, s.mergeEvent())
	s.Require().NoError(err)

	s.Equal(StateNotified, res.State)
	s.Equal(models.SyncStatusSynced, res.SyncStatus)
	s.Equal("person-1", res.RemoteID)
	s.Equal("n-1", res.NotificationID)
	s.False(res.Skipped)
}

func (s *OrchestratorSuite) TestHandleMergeFallsBackToEmail() {
	doc := s.pendingDoc()
	ev := s.mergeEvent()
	ev.Body = "## New contact submission\n\n**Email:** jane@x.com\n"

	s.store.EXPECT().FindByPullRequest(gomock.Any(), 12).Return(nil, fmt.Errorf("pr 12: %w", sentinel.ErrNotFound))
	s.store.EXPECT().FindByEmail(gomock.Any(), "jane@x.com").Return(doc, nil)
	claim := s.expectClaim(doc)
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).Return(downstream.Result{Success: true, RemoteID: "p"})
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).After(claim).Return(doc, nil)
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(emitted("n-1"))

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal(recordID, res.RecordID)
}

func (s *OrchestratorSuite) TestHandleMergeIsIdempotent() {
	doc := s.pendingDoc()
	doc.SyncStatus = models.SyncStatusSynced
	doc.RemoteID = "person-1"
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, s.mergeEvent())
	s.Require().NoError(err)

	s.True(res.Skipped)
	s.Equal(StatePropagated, res.State)
	s.Equal("person-1", res.RemoteID)
}

func (s *OrchestratorSuite) TestHandleMergePropagationFailure() {
	doc := s.pendingDoc()
	cause := &dErrors.AdapterError{Adapter: "downstream", Op: "create person", StatusCode: 500}
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)
	claim := s.expectClaim(doc)
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).
		Return(downstream.Result{Success: false, Error: cause.Error(), Err: cause})
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).After(claim).
		DoAndReturn(func(_ context.Context, _ string, p models.Patch) (*models.Document, error) {
			s.Equal(models.SyncStatusFailed, *p.SyncStatus)
			s.Nil(p.RemoteID)
			s.Empty(*p.SyncClaim)
			return doc, nil
		})
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, n notificationmodels.Notification) (*notification.DeliveryResult, error) {
			s.Equal(notificationmodels.TypeSyncFailed, n.Type)
			return emitted("n-2")(ctx, n)
		})

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, s.mergeEvent())

	var ae *dErrors.AdapterError
	s.Require().ErrorAs(err, &ae)
	s.Equal(dErrors.PhasePropagate, ae.Phase)
	s.Equal(StateFailed, res.State)
	s.Equal(dErrors.PhasePropagate, res.FailedPhase)
	s.Equal(models.SyncStatusFailed, res.SyncStatus)
	s.Equal("n-2", res.NotificationID)
}

func (s *OrchestratorSuite) TestNotificationFailureKeepsSyncedState() {
	doc := s.pendingDoc()
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)
	claim := s.expectClaim(doc)
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).Return(downstream.Result{Success: true, RemoteID: "person-1"})
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).After(claim).
		DoAndReturn(func(_ context.Context, _ string, p models.Patch) (*models.Document, error) {
			updated := *doc
			p.Apply(&updated, s.now)
			return &updated, nil
		})
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil, errors.New("store down"))

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, s.mergeEvent())
	s.Require().NoError(err)
	s.Equal(StatePropagated, res.State)
	s.Equal(models.SyncStatusSynced, res.SyncStatus)
	s.Empty(res.NotificationID)
}

func (s *OrchestratorSuite) TestHandleMergeIgnoresUnmergedClose() {
	ev := s.mergeEvent()
	ev.Merged = false

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, ev)
	s.Require().NoError(err)
	s.True(res.Skipped)
}

func (s *OrchestratorSuite) TestHandleMergeLosesClaimToConcurrentDelivery() {
	doc := s.pendingDoc()
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).
		Return(nil, fmt.Errorf("record %s: %w", recordID, sentinel.ErrConflict))

	res, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, s.mergeEvent())
	s.Require().NoError(err)
	s.True(res.Skipped)
	s.Equal(models.SyncStatusPendingReview, res.SyncStatus)
}

func (s *OrchestratorSuite) TestHandleMergeReleasesClaimWhenStatusUpdateFails() {
	doc := s.pendingDoc()
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)
	claim := s.expectClaim(doc)
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).Return(downstream.Result{Success: true, RemoteID: "person-1"})
	synced := s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).After(claim).
		Return(nil, errors.New("index down"))
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).After(synced).
		DoAndReturn(func(_ context.Context, _ string, p models.Patch) (*models.Document, error) {
			s.Empty(*p.SyncClaim)
			s.Equal("d-1", *p.IfSyncClaim)
			s.Nil(p.SyncStatus)
			return doc, nil
		})

	_, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, s.mergeEvent())
	var ae *dErrors.AdapterError
	s.Require().ErrorAs(err, &ae)
	s.Equal(dErrors.PhaseIndex, ae.Phase)
}

func (s *OrchestratorSuite) TestConcurrentMergesPropagateOnce() {
	store := index.NewMemoryStore()
	s.Require().NoError(store.Upsert(s.ctx, s.pendingDoc()))

	release := make(chan struct{})
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *models.Record) downstream.Result {
			<-release
			return downstream.Result{Success: true, RemoteID: "person-1"}
		}).Times(1)
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(emitted("n-1")).Times(1)

	orch := New(transform.New(), s.vcs, store, s.propagator, s.notifier,
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return s.now }),
	)

	const deliveries = 5
	results := make(chan *MergeResult, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := s.mergeEvent()
			ev.DeliveryID = fmt.Sprintf("d-%d", i)
			res, err := orch.HandleMerge(s.ctx, ev)
			s.NoError(err)
			results <- res
		}(i)
	}

	skipped := 0
	for i := 0; i < deliveries-1; i++ {
		if res := <-results; res != nil && res.Skipped {
			skipped++
		}
	}
	close(release)
	wg.Wait()
	close(results)
	for res := range results {
		s.Require().NotNil(res)
		s.False(res.Skipped)
		s.Equal(models.SyncStatusSynced, res.SyncStatus)
	}
	s.Equal(deliveries-1, skipped)

	stored, err := store.Get(s.ctx, recordID)
	s.Require().NoError(err)
	s.Equal(models.SyncStatusSynced, stored.SyncStatus)
	s.Empty(stored.SyncClaim)
}

func (s *OrchestratorSuite) TestHandleMergeUnknownRecord() {
	ev := PullRequestEvent{Number: 99, Merged: true, Body: "no fields"}
	s.store.EXPECT().FindByPullRequest(gomock.Any(), 99).Return(nil, sentinel.ErrNotFound)

	_, err := s.orchestrator(config.Pipeline{}).HandleMerge(s.ctx, ev)
	s.True(isNotFound(err))
}

func (s *OrchestratorSuite) TestResyncReentersPropagationFromFailed() {
	doc := s.pendingDoc()
	doc.SyncStatus = models.SyncStatusFailed
	doc.SyncError = "boom"
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(doc, nil)
	s.propagator.EXPECT().Propagate(gomock.Any(), gomock.Any()).Return(downstream.Result{Success: true, RemoteID: "person-9"})
	s.store.EXPECT().Update(gomock.Any(), recordID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p models.Patch) (*models.Document, error) {
			s.Equal("", *p.SyncError)
			updated := *doc
			p.Apply(&updated, s.now)
			return &updated, nil
		})
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(emitted("n-3"))

	res, err := s.orchestrator(config.Pipeline{}).Resync(s.ctx, recordID)
	s.Require().NoError(err)
	s.Equal(models.SyncStatusSynced, res.SyncStatus)
	s.Equal("person-9", res.RemoteID)
}

func (s *OrchestratorSuite) TestResyncUnknownRecord() {
	s.store.EXPECT().Get(gomock.Any(), "missing").Return(nil, sentinel.ErrNotFound)

	_, err := s.orchestrator(config.Pipeline{}).Resync(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *OrchestratorSuite) TestHandleRepositoryDeleted() {
	gomock.InOrder(
		s.store.EXPECT().Recreate(gomock.Any(), index.CollectionRecords).Return(nil),
		s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, n notificationmodels.Notification) (*notification.DeliveryResult, error) {
				s.Equal(notificationmodels.TypeRepositoryDeleted, n.Type)
				s.Equal("acme/contacts", n.Metadata["repository"])
				return emitted("n-4")(ctx, n)
			}),
	)

	s.NoError(s.orchestrator(config.Pipeline{}).HandleRepositoryDeleted(s.ctx, "acme/contacts"))
}

func (s *OrchestratorSuite) TestHandleReviewEvent() {
	ev := s.mergeEvent()
	ev.Action = "opened"
	ev.Merged = false
	s.store.EXPECT().Get(gomock.Any(), recordID).Return(s.pendingDoc(), nil)
	s.notifier.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, n notificationmodels.Notification) (*notification.DeliveryResult, error) {
			s.Equal(notificationmodels.TypeReviewRequested, n.Type)
			s.Equal("Review requested: Add Contact: Jane Roe", n.Title)
			s.Equal(recordID, n.Metadata["recordId"])
			return emitted("n-5")(ctx, n)
		})

	res, err := s.orchestrator(config.Pipeline{}).HandleReviewEvent(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal("n-5", res.Notification.ID)

	ev.Action = "labeled"
	res, err = s.orchestrator(config.Pipeline{}).HandleReviewEvent(s.ctx, ev)
	s.NoError(err)
	s.Nil(res)
}
