package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/suite"

	"intake/internal/contact/models"
	"intake/internal/health"
	"intake/internal/index"
	"intake/internal/notification"
	notificationmodels "intake/internal/notification/models"
	"intake/internal/pipeline"
	"intake/internal/platform/logger"
	"intake/internal/platform/metrics"
	"intake/internal/ratelimit"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/testutil"
)

// stubPipeline returns canned results so error mapping can be checked in isolation.
type stubPipeline struct {
	submitErr error
	resyncErr error
	submitted []models.Submission
}

func (p *stubPipeline) Submit(_ context.Context, _ map[string]any, sub models.Submission) (*pipeline.SubmitResult, error) {
	p.submitted = append(p.submitted, sub)
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	return &pipeline.SubmitResult{ID: "r-1", ReviewStatus: models.SyncStatusPendingReview, State: pipeline.StateAwaitingMerge}, nil
}

func (p *stubPipeline) Resync(_ context.Context, id string) (*pipeline.MergeResult, error) {
	if p.resyncErr != nil {
		return nil, p.resyncErr
	}
	return &pipeline.MergeResult{RecordID: id, State: pipeline.StateNotified, SyncStatus: models.SyncStatusSynced}, nil
}

type HandlerSuite struct {
	suite.Suite
	pipeline *stubPipeline
	store    *index.MemoryStore
	emitter  *notification.Emitter
	health   health.Report
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	log := logger.Discard()
	s.pipeline = &stubPipeline{}
	s.store = index.NewMemoryStore()
	s.Require().NoError(s.store.Bootstrap(context.Background()))
	s.emitter = notification.New(s.store, []notification.Channel{notification.NewConsoleChannel(log)}, notification.WithLogger(log))
	s.health = health.Report{Status: health.StatusOK}

	reg := prometheus.NewRegistry()
	h := New(s.pipeline, s.store, s.emitter, log, metrics.New(reg),
		WithHealth(reportFunc(func() health.Report { return s.health })),
		WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	s.router = h.Routes()
}

type reportFunc func() health.Report

func (f reportFunc) Check(context.Context) health.Report { return f() }

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	req.Header.Set("X-Actor", "ops@acme.test")
	return testutil.Do(s.router, req)
}

func (s *HandlerSuite) TestSubmitCarriesRequestContext() {
	rr := s.do(http.MethodPost, "/submissions", map[string]any{"name": "Jane Roe", "email": "jane@x.com"})

	s.Equal(http.StatusCreated, rr.Code)
	s.Require().Len(s.pipeline.submitted, 1)
	sub := s.pipeline.submitted[0]
	s.NotEmpty(sub.CorrelationID)
	s.Equal(rr.Header().Get("X-Request-ID"), sub.CorrelationID)
	s.Equal("ops@acme.test", sub.Actor)
	s.False(sub.ReceivedAt.IsZero())
}

func (s *HandlerSuite) TestSubmitRejectsNonObjectBody() {
	for name, body := range map[string][]byte{
		"array":     []byte(`[1,2]`),
		"truncated": []byte(`{"name":`),
		"null":      []byte(`null`),
	} {
		s.Run(name, func() {
			rr := s.do(http.MethodPost, "/submissions", body)
			testutil.AssertError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
		})
	}
	s.Empty(s.pipeline.submitted)
}

func (s *HandlerSuite) TestSubmitErrorMapping() {
	cases := []struct {
		name   string
		err    error
		status int
		code   dErrors.Code
		desc   string
	}{
		{
			name:   "validation",
			err:    func() error { v := &dErrors.ValidationError{}; v.Add("email", "is required"); return v }(),
			status: http.StatusBadRequest,
			code:   dErrors.CodeValidation,
		},
		{
			name:   "commit adapter",
			err:    &dErrors.AdapterError{Phase: dErrors.PhaseCommit, Adapter: "github", Op: "create branch", StatusCode: 502},
			status: http.StatusInternalServerError,
			code:   dErrors.CodeAdapter,
			desc:   "commit phase failed",
		},
		{
			name:   "index adapter",
			err:    &dErrors.AdapterError{Phase: dErrors.PhaseIndex, Adapter: "index", Op: "upsert"},
			status: http.StatusInternalServerError,
			code:   dErrors.CodeAdapter,
			desc:   "index phase failed",
		},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.pipeline.submitErr = tc.err
			rr := s.do(http.MethodPost, "/submissions", map[string]any{"name": "x"})
			resp := testutil.AssertError(s.T(), rr, tc.status, string(tc.code))
			s.NotEmpty(resp.RequestID)
			if tc.desc != "" {
				s.Equal(tc.desc, resp.ErrorDescription)
			}
		})
	}
}

func (s *HandlerSuite) TestGetUnknownSubmission() {
	rr := s.do(http.MethodGet, "/submissions/missing", nil)
	testutil.AssertError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *HandlerSuite) TestSearchRejectsBadParameters() {
	rr := s.do(http.MethodGet, "/submissions?status=archived&page=0&size=x", nil)
	resp := testutil.AssertError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	s.Len(resp.Fields, 3)
}

func (s *HandlerSuite) TestSearchFiltersByStatus() {
	ctx := context.Background()
	for _, d := range []*models.Document{
		{Record: models.Record{ID: "a", Name: "Ann Lee", Email: "ann@x.com"}, SyncStatus: models.SyncStatusSynced},
		{Record: models.Record{ID: "b", Name: "Bo Chen", Email: "bo@x.com"}, SyncStatus: models.SyncStatusFailed},
	} {
		s.Require().NoError(s.store.Upsert(ctx, d))
	}

	rr := s.do(http.MethodGet, "/submissions?status=failed", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	res := testutil.Decode[index.SearchResult](s.T(), rr)
	s.Require().Len(res.Hits, 1)
	s.Equal("b", res.Hits[0].Document.ID)
}

func (s *HandlerSuite) TestSearchHugePageReturnsEmptyPage() {
	s.Require().NoError(s.store.Upsert(context.Background(), &models.Document{
		Record:     models.Record{ID: "a", Name: "Ann Lee", Email: "ann@x.com"},
		SyncStatus: models.SyncStatusPendingReview,
	}))

	rr := s.do(http.MethodGet, "/submissions?page=922337203685477581", nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	res := testutil.Decode[index.SearchResult](s.T(), rr)
	s.Equal(1, res.Total)
	s.Empty(res.Hits)
}

func (s *HandlerSuite) TestResync() {
	rr := s.do(http.MethodPost, "/submissions/r-9/resync", nil)
	s.Equal(http.StatusOK, rr.Code)
	res := testutil.Decode[pipeline.MergeResult](s.T(), rr)
	s.Equal("r-9", res.RecordID)

	s.pipeline.resyncErr = dErrors.NotFound("record r-10 not found")
	rr = s.do(http.MethodPost, "/submissions/r-10/resync", nil)
	testutil.AssertError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *HandlerSuite) TestHealth() {
	rr := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, rr.Code)

	s.health = health.Report{Status: health.StatusFailing, Components: map[string]health.ComponentStatus{
		"github": {Status: health.StatusDown, Critical: true, Error: "timeout"},
	}}
	rr = s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusServiceUnavailable, rr.Code)
	s.Contains(rr.Body.String(), `"github"`)
}

func (s *HandlerSuite) TestNotificationsLifecycle() {
	rr := s.do(http.MethodPost, "/notifications/test", map[string]any{"message": "hello"})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	sent := testutil.Decode[notification.DeliveryResult](s.T(), rr)
	s.True(sent.Delivered)
	s.Equal(notificationmodels.TypeSystemAlert, sent.Notification.Type)

	rr = s.do(http.MethodGet, "/notifications?unread=true", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	list := testutil.Decode[notificationList](s.T(), rr)
	s.Equal(1, list.Total)
	s.Equal(50, list.Limit)

	rr = s.do(http.MethodPost, "/notifications/"+sent.Notification.ID+"/read", nil)
	s.Require().Equal(http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/notifications/stats", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	stats := testutil.Decode[notificationmodels.Stats](s.T(), rr)
	s.Equal(1, stats.Total)
	s.Zero(stats.Unread)

	rr = s.do(http.MethodPost, "/notifications/nope/read", nil)
	testutil.AssertError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *HandlerSuite) TestNotificationListValidation() {
	rr := s.do(http.MethodGet, "/notifications?type=bogus&offset=-1", nil)
	resp := testutil.AssertError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	s.Len(resp.Fields, 2)
}

func (s *HandlerSuite) TestReferenceCountriesAreOrdered() {
	rr := s.do(http.MethodGet, "/reference/country", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	res := testutil.Decode[referenceResponse](s.T(), rr)

	s.Equal("country", res.Type)
	s.Require().GreaterOrEqual(len(res.Entries), 4)
	s.Equal([]string{"US", "CA", "GB", "AU"}, []string{
		res.Entries[0].Value, res.Entries[1].Value, res.Entries[2].Value, res.Entries[3].Value,
	})

	rr = s.do(http.MethodGet, "/reference/planet", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Empty(testutil.Decode[referenceResponse](s.T(), rr).Entries)
}

func (s *HandlerSuite) TestMetricsEndpoint() {
	s.do(http.MethodGet, "/reference/country", nil)
	rr := s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), "intake_")
}

func (s *HandlerSuite) TestSubmissionsAreRateLimitedPerClient() {
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), 1, time.Minute, logger.Discard(), nil)
	router := New(s.pipeline, s.store, s.emitter, logger.Discard(), nil, WithSubmissionLimiter(limiter)).Routes()

	submit := func(ip string) *httptest.ResponseRecorder {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/submissions", map[string]any{"name": "Jane Roe"})
		req.Header.Set("X-Forwarded-For", ip)
		return testutil.Do(router, req)
	}

	s.Equal(http.StatusCreated, submit("203.0.113.7").Code)
	s.Equal(http.StatusTooManyRequests, submit("203.0.113.7").Code)
	s.Equal(http.StatusCreated, submit("203.0.113.8").Code)

	rr := testutil.Do(router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/submissions", nil))
	s.Equal(http.StatusOK, rr.Code, "reads are not limited")
}
