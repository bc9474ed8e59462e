package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"diligence/internal/audit"
	"diligence/internal/evidence/sources"
	"diligence/internal/platform/logger"
	"diligence/internal/platform/metrics"
	"diligence/internal/report/mocks"
	"diligence/internal/resolver"
	"diligence/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Report Service Test Suite
// =============================================================================
// The service owns the fan-out, the per-report deadline and the only error
// path out of report building. Adapters are fakes; resolver and audit
// publisher are mocks.

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	resolver *mocks.MockResolver
	audit    *mocks.MockAuditPublisher
	metrics  *metrics.Metrics
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.resolver = mocks.NewMockResolver(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(fakes []*fakeAdapter, opts ...Option) *Service {
	base := []Option{
		WithLogger(logger.Discard()),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.audit),
		WithClock(func() time.Time { return fixedNow }),
	}
	svc, err := New(s.resolver, asAdapters(fakes), append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) expectResolved() {
	s.resolver.EXPECT().Resolve(gomock.Any()).Return(aave, nil)
}

func (s *ServiceSuite) allowAudit() {
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// =============================================================================
// Constructor
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil resolver returns error", func() {
		_, err := New(nil, nil)
		s.ErrorContains(err, "resolver is required")
	})

	s.Run("two adapters for one section returns error", func() {
		a := &fakeAdapter{name: "a", section: sources.SectionBounty}
		b := &fakeAdapter{name: "b", section: sources.SectionBounty}
		_, err := New(s.resolver, []sources.Adapter{a, b})
		s.ErrorContains(err, "both fill section bounty")
	})

	s.Run("invalid weights are ignored", func() {
		svc, err := New(s.resolver, nil, WithWeights(Weights{Onchain: 2}))
		s.Require().NoError(err)
		s.Equal(DefaultWeights(), svc.weights)
	})
}

// =============================================================================
// BuildReport
// =============================================================================

func (s *ServiceSuite) TestAllSourcesHealthy() {
	s.expectResolved()
	var emitted audit.Event
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		emitted = e
		return nil
	})
	svc := s.newService(healthyAdapters())

	r, err := svc.BuildReport(context.Background(), "AAVE", Options{})
	s.Require().NoError(err)

	s.Equal(StatusComplete, r.Status)
	s.Equal("aave", r.Identity.CanonicalID)
	s.Equal("AAVE", r.Query)
	s.NotEmpty(r.ID)
	s.Equal(fixedNow, r.GeneratedAt)
	s.Equal(DefaultHistoryWindowDays, r.HistoryWindowDays)
	s.Len(r.Sections, len(sources.AllSections))
	s.Empty(r.DataLimitations)
	s.InDelta(8.46, r.GlobalScore, 1e-9)
	s.Equal([]string{"defillama", "github-audits", "immunefi", "snapshot", "github-activity", "redflags"}, r.Contributors)

	s.Equal(audit.EventReportGenerated, emitted.Type)
	s.Equal(r.ID, emitted.ReportID)
	s.Equal("aave", emitted.ProtocolID)
	s.Equal("complete", emitted.Status)
	s.Equal("ok", emitted.Sections["red_flags"])

	s.Equal(1.0, testutil.ToFloat64(s.metrics.ReportsBuilt.WithLabelValues("complete")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ResolveOutcomes.WithLabelValues("resolved")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SourceResults.WithLabelValues("governance", "ok")))
}

func (s *ServiceSuite) TestUnresolvedNameProducesNoReport() {
	nf := &resolver.NotFoundError{Query: "notarealprotocol123", Suggestions: []string{"Aave"}}
	s.resolver.EXPECT().Resolve("notarealprotocol123").Return(aave, nf)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(audit.EventResolutionFailed, e.Type)
		s.Equal("notarealprotocol123", e.Query)
		return nil
	})
	fakes := healthyAdapters()
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "notarealprotocol123", Options{})

	s.Nil(r)
	s.ErrorIs(err, resolver.ErrNotFound)
	s.Equal([]string{"Aave"}, resolver.Suggestions(err))
	for _, f := range fakes {
		s.Zero(f.calls.Load(), f.name)
	}
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ResolveOutcomes.WithLabelValues("not_found")))
}

func (s *ServiceSuite) TestTotalOutageStillReports() {
	s.expectResolved()
	s.allowAudit()
	sections := outageSections()
	var fakes []*fakeAdapter
	for _, sec := range sources.AllSections {
		fakes = append(fakes, &fakeAdapter{name: sections[sec].Source, section: sec, fn: returning(sections[sec])})
	}
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{})
	s.Require().NoError(err)

	s.Equal(StatusPartiallyDegraded, r.Status)
	s.Zero(r.GlobalScore)
	s.Zero(r.Coverage)
	s.Equal(sources.AllCategories, r.ImpairedCategories())
	for _, sec := range sources.AllSections {
		s.Equal(sources.StatusUnavailable, r.Section(sec).Status)
		s.Equal(sources.EmptyData(sec), r.Section(sec).Data)
	}
}

func (s *ServiceSuite) TestTimeoutMarksPendingSourcesUnavailable() {
	s.expectResolved()
	s.allowAudit()
	release := make(chan struct{})
	defer close(release)

	fakes := healthyAdapters()
	fakes[3].fn = func(context.Context, sources.Query) sources.Result {
		<-release
		return sources.OK("snapshot", governanceData(), fixedNow)
	}
	svc := s.newService(fakes)

	start := time.Now()
	r, err := svc.BuildReport(context.Background(), "aave", Options{Timeout: 50 * time.Millisecond})
	s.Require().NoError(err)
	s.Less(time.Since(start), 2*time.Second)

	gov := r.Section(sources.SectionGovernance)
	s.Equal(sources.StatusUnavailable, gov.Status)
	s.Contains(gov.ErrorDetail, "timed out")
	s.Equal(sources.EmptyGovernance(), gov.Data)
	s.Equal(sources.StatusOk, r.Section(sources.SectionOnchain).Status)
	s.Equal(StatusPartiallyDegraded, r.Status)
	s.Require().Len(r.DataLimitations, 1)
	s.Equal(sources.CategoryGovernance, r.DataLimitations[0].Category)
}

func (s *ServiceSuite) TestFanOutExitsOnceStragglerReturns() {
	s.expectResolved()
	s.allowAudit()
	ignore := goleak.IgnoreCurrent()
	release := make(chan struct{})
	returned := make(chan struct{})

	fakes := healthyAdapters()
	fakes[4].fn = func(context.Context, sources.Query) sources.Result {
		defer close(returned)
		<-release
		return sources.OK("github-activity", developmentData(), fixedNow)
	}
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{Timeout: 50 * time.Millisecond})
	s.Require().NoError(err)
	s.Equal(sources.StatusUnavailable, r.Section(sources.SectionDevelopment).Status)

	close(release)
	<-returned
	s.NoError(goleak.Find(ignore), "no collection goroutine outlives the slowest adapter")
}

func (s *ServiceSuite) TestCallerCancellationReturnsNoReport() {
	s.expectResolved()
	started := make(chan struct{})
	fakes := healthyAdapters()
	fakes[0].fn = func(ctx context.Context, _ sources.Query) sources.Result {
		close(started)
		<-ctx.Done()
		return sources.Unavailable("defillama", sources.SectionOnchain, "cancelled", fixedNow)
	}
	svc := s.newService(fakes)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	r, err := svc.BuildReport(ctx, "aave", Options{Timeout: 10 * time.Second})
	s.Nil(r)
	s.ErrorIs(err, context.Canceled)
}

func (s *ServiceSuite) TestSectionsNotRequested() {
	s.expectResolved()
	s.allowAudit()
	fakes := healthyAdapters()
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{
		IncludeSections: []sources.Section{sources.SectionOnchain, sources.SectionRedFlags},
	})
	s.Require().NoError(err)

	s.Equal(sources.StatusOk, r.Section(sources.SectionOnchain).Status)
	s.Equal(sources.StatusOk, r.Section(sources.SectionRedFlags).Status)
	for _, sec := range []sources.Section{sources.SectionAudits, sources.SectionBounty, sources.SectionGovernance, sources.SectionDevelopment} {
		res := r.Section(sec)
		s.Equal(sources.StatusUnavailable, res.Status)
		s.Equal("section not requested", res.ErrorDetail)
		s.Equal(sources.EmptyData(sec), res.Data)
	}
	s.Zero(fakes[1].calls.Load())
	s.EqualValues(1, fakes[0].calls.Load())
}

func (s *ServiceSuite) TestMissingAdapterIsUnavailable() {
	s.expectResolved()
	s.allowAudit()
	fakes := healthyAdapters()[:5]
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{})
	s.Require().NoError(err)
	s.Equal("no source configured", r.Section(sources.SectionRedFlags).ErrorDetail)
}

func (s *ServiceSuite) TestPanickingAdapterIsContained() {
	s.expectResolved()
	s.allowAudit()
	fakes := healthyAdapters()
	fakes[2].fn = func(context.Context, sources.Query) sources.Result {
		panic("index out of range")
	}
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{})
	s.Require().NoError(err)

	bounty := r.Section(sources.SectionBounty)
	s.Equal(sources.StatusUnavailable, bounty.Status)
	s.Equal("internal error", bounty.ErrorDetail)
	s.Equal(sources.StatusOk, r.Section(sources.SectionAudits).Status)
}

func (s *ServiceSuite) TestMalformedResultIsReplaced() {
	s.expectResolved()
	s.allowAudit()
	fakes := healthyAdapters()
	fakes[4].fn = returning(sources.OK("github-activity", governanceData(), fixedNow))
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{})
	s.Require().NoError(err)

	dev := r.Section(sources.SectionDevelopment)
	s.Equal(sources.StatusUnavailable, dev.Status)
	s.Equal(sources.EmptyDevelopment(), dev.Data)
	s.Equal(sources.StatusOk, r.Section(sources.SectionGovernance).Status)
}

func (s *ServiceSuite) TestAdaptersRunConcurrently() {
	s.expectResolved()
	s.allowAudit()
	fakes := healthyAdapters()

	// Each adapter waits for all the others to start. Run one at a time,
	// they would all hit the deadline.
	var barrier sync.WaitGroup
	barrier.Add(len(fakes))
	for _, f := range fakes {
		inner := f.fn
		f.fn = func(ctx context.Context, q sources.Query) sources.Result {
			barrier.Done()
			waited := make(chan struct{})
			go func() {
				barrier.Wait()
				close(waited)
			}()
			select {
			case <-waited:
				return inner(ctx, q)
			case <-ctx.Done():
				return sources.Unavailable(f.name, f.section, "cancelled", fixedNow)
			}
		}
	}
	svc := s.newService(fakes)

	r, err := svc.BuildReport(context.Background(), "aave", Options{Timeout: 5 * time.Second})
	s.Require().NoError(err)
	s.Equal(StatusComplete, r.Status)
}

func (s *ServiceSuite) TestQueryCarriesWindowAndBudget() {
	s.Run("defaults and clamping", func() {
		for _, tc := range []struct {
			requested int
			opts      []Option
			want      int
		}{
			{0, nil, DefaultHistoryWindowDays},
			{5000, nil, MaxHistoryWindowDays},
			{30, nil, 30},
			{0, []Option{WithDefaults(90, 0)}, 90},
		} {
			s.expectResolved()
			s.allowAudit()
			var got int
			fakes := healthyAdapters()
			fakes[0].fn = func(_ context.Context, q sources.Query) sources.Result {
				got = q.WindowDays
				s.Equal(fixedNow, q.AsOf)
				return sources.OK("defillama", onchainData(), fixedNow)
			}
			svc := s.newService(fakes, tc.opts...)
			r, err := svc.BuildReport(context.Background(), "aave", Options{HistoryWindowDays: tc.requested})
			s.Require().NoError(err)
			s.Equal(tc.want, got)
			s.Equal(tc.want, r.HistoryWindowDays)
		}
	})

	s.Run("github budget shared across adapters", func() {
		s.expectResolved()
		s.allowAudit()
		var mu sync.Mutex
		budgets := map[*transport.Budget]bool{}
		fakes := healthyAdapters()
		for _, i := range []int{1, 4} {
			inner := fakes[i].fn
			fakes[i].fn = func(ctx context.Context, q sources.Query) sources.Result {
				b := transport.BudgetFrom(ctx)
				s.NotNil(b)
				mu.Lock()
				budgets[b] = true
				mu.Unlock()
				return inner(ctx, q)
			}
		}
		svc := s.newService(fakes, WithCallBudget("api.github.com", 2))
		_, err := svc.BuildReport(context.Background(), "aave", Options{})
		s.Require().NoError(err)
		s.Len(budgets, 1)
		for b := range budgets {
			s.NoError(b.Spend("api.github.com"))
			s.NoError(b.Spend("api.github.com"))
			s.Error(b.Spend("api.github.com"))
		}
	})
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailReport() {
	s.expectResolved()
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(audit.ErrBufferFull)
	svc := s.newService(healthyAdapters())

	r, err := svc.BuildReport(context.Background(), "aave", Options{})
	s.Require().NoError(err)
	s.NotNil(r)
}

func (s *ServiceSuite) TestDeterministicScoreAcrossRuns() {
	var scores []float64
	for range 5 {
		s.expectResolved()
		s.allowAudit()
		svc := s.newService(healthyAdapters())
		r, err := svc.BuildReport(context.Background(), "aave", Options{})
		s.Require().NoError(err)
		scores = append(scores, r.GlobalScore)
	}
	for _, sc := range scores[1:] {
		s.Equal(scores[0], sc)
	}
}
