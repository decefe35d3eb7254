package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sitecraft/builder-service/internal/client"
	"github.com/sitecraft/builder-service/internal/config"
	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/models"
	"github.com/sitecraft/builder-service/internal/repository"
	"github.com/sitecraft/builder-service/internal/worker"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) ProvisionDomain(ctx context.Context, req *client.ProvisionDomainRequest) (*client.ProvisionDomainResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*client.ProvisionDomainResponse)
	return resp, args.Error(1)
}

func (m *mockProvisioner) PublishSite(ctx context.Context, websiteID string, req *client.PublishSiteRequest) (*client.PublishSiteResponse, error) {
	args := m.Called(ctx, websiteID, req)
	resp, _ := args.Get(0).(*client.PublishSiteResponse)
	return resp, args.Error(1)
}

type harness struct {
	store     *repository.MemoryStore
	clock     *testClock
	prov      *mockProvisioner
	websites  *WebsiteService
	provision *ProvisionService
	worker    *worker.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := repository.NewMemoryStore()
	clock := &testClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	prov := &mockProvisioner{}
	m := metrics.New()

	cfg := config.ProvisioningConfig{
		ActivationDelay: 5 * time.Second,
		FinalizeDelay:   2 * time.Second,
		MaxAttempts:     3,
		DeployVersion:   "1.4.0",
		Environment:     "test",
	}
	ps := NewProvisionService(cfg, store, store, store, store, prov, m)
	ps.now = clock.Now

	w := worker.New(store, config.WorkerConfig{
		BatchSize:  10,
		Lease:      time.Minute,
		Backoff:    time.Second,
		MaxBackoff: 10 * time.Second,
	}, m, worker.WithClock(clock.Now))
	ps.RegisterHandlers(w)

	return &harness{
		store:     store,
		clock:     clock,
		prov:      prov,
		websites:  NewWebsiteService(store, store, store, m),
		provision: ps,
		worker:    w,
	}
}

func (h *harness) createSite(t *testing.T, userID string) *models.Website {
	t.Helper()
	w, err := h.websites.CreateWebsite(context.Background(), userID, &models.CreateWebsiteRequest{Name: "My Site", TemplateID: "business"})
	require.NoError(t, err)
	return w
}

func (h *harness) runDue(t *testing.T) int {
	t.Helper()
	n, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) domainOf(t *testing.T, websiteID string) *models.Domain {
	t.Helper()
	d, err := h.store.GetDomainByWebsite(context.Background(), websiteID)
	require.NoError(t, err)
	return d
}

func (h *harness) expectProvisionOK() {
	h.prov.On("ProvisionDomain", mock.Anything, mock.Anything).
		Return(&client.ProvisionDomainResponse{Status: "active", SSLEnabled: true}, nil)
}

func (h *harness) expectPublishOK() {
	h.prov.On("PublishSite", mock.Anything, mock.Anything, mock.Anything).
		Return(&client.PublishSiteResponse{Status: "published"}, nil)
}

func TestAttachDomainSameNameConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w1 := h.createSite(t, "alice")
	w2 := h.createSite(t, "bob")

	d, err := h.provision.AttachDomain(ctx, "alice", w1.ID, "Foo.Example.com.")
	require.NoError(t, err)
	assert.Equal(t, "foo.example.com", d.Name)

	_, err = h.provision.AttachDomain(ctx, "bob", w2.ID, "foo.example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDomainTaken)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "domain already taken", err.Error())

	_, err = h.store.GetDomainByWebsite(ctx, w2.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	tasks, err := h.provision.ListTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "only the winning attach schedules an activation")
}

func TestAttachDomainWebsiteAlreadyHasDomain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createSite(t, "alice")

	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "one.example.com")
	require.NoError(t, err)

	_, err = h.provision.AttachDomain(ctx, "alice", w.ID, "two.example.com")
	assert.ErrorIs(t, err, ErrWebsiteHasDomain)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrDomainTaken)
}

func TestAttachDomainConcurrentSameName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var sites []*models.Website
	for i := 0; i < 10; i++ {
		sites = append(sites, h.createSite(t, fmt.Sprintf("user-%d", i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i, w := range sites {
		wg.Add(1)
		go func(user, id string) {
			defer wg.Done()
			_, err := h.provision.AttachDomain(ctx, user, id, "contested.example.com")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrDomainTaken) {
				conflicts++
			}
		}(fmt.Sprintf("user-%d", i), w.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, len(sites)-1, conflicts)
}

func TestAttachDomainErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createSite(t, "alice")
	archived := h.createSite(t, "alice")
	require.NoError(t, h.websites.ArchiveWebsite(ctx, "alice", archived.ID))

	tests := []struct {
		name   string
		user   string
		site   string
		domain string
		kind   error
		exact  error
	}{
		{"unauthenticated", "", w.ID, "a.example.com", ErrUnauthenticated, ErrMissingUser},
		{"missing fields", "alice", "", "", ErrInvalid, nil},
		{"bad hostname", "alice", w.ID, "not a domain", ErrInvalid, ErrInvalidDomainName},
		{"unknown website", "alice", "6f1c1bde-37a8-4f4c-8c1e-2d6b0d3f0a11", "a.example.com", ErrNotFound, ErrWebsiteNotFound},
		{"malformed website id", "alice", "nope", "a.example.com", ErrNotFound, ErrWebsiteNotFound},
		{"not the owner", "mallory", w.ID, "a.example.com", ErrForbidden, ErrNotOwner},
		{"archived website", "alice", archived.ID, "a.example.com", ErrPreconditionFailed, ErrWebsiteArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.provision.AttachDomain(ctx, tt.user, tt.site, tt.domain)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.exact != nil {
				assert.ErrorIs(t, err, tt.exact)
			}
		})
	}
}

func TestLaunchWithoutDomain(t *testing.T) {
	h := newHarness(t)
	w := h.createSite(t, "alice")

	_, err := h.provision.Launch(context.Background(), "alice", w.ID)
	assert.ErrorIs(t, err, ErrNoDomain)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestAttachActivateLaunchScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.On("ProvisionDomain", mock.Anything, mock.MatchedBy(func(r *client.ProvisionDomainRequest) bool {
		return r.Domain == "foo.example.com" && r.EnableSSL
	})).Return(&client.ProvisionDomainResponse{Status: "active", SSLEnabled: true}, nil).Once()
	h.expectPublishOK()

	w := h.createSite(t, "alice")

	d, err := h.provision.AttachDomain(ctx, "alice", w.ID, "foo.example.com")
	require.NoError(t, err)
	assert.Equal(t, models.DomainStatusPending, d.Status)
	assert.False(t, d.SSLEnabled)

	_, err = h.provision.Launch(ctx, "alice", w.ID)
	assert.ErrorIs(t, err, ErrDomainNotActive)
	assert.Equal(t, "domain must be active before launch", err.Error())

	// activation is not due before the delay
	h.clock.Advance(4 * time.Second)
	assert.Zero(t, h.runDue(t))
	assert.Equal(t, models.DomainStatusPending, h.domainOf(t, w.ID).Status)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.runDue(t))
	active := h.domainOf(t, w.ID)
	assert.Equal(t, models.DomainStatusActive, active.Status)
	assert.True(t, active.SSLEnabled)
	require.NotNil(t, active.ActivatedAt)
	assert.Equal(t, h.clock.Now(), *active.ActivatedAt)

	launchedAt := h.clock.Now()
	published, err := h.provision.Launch(ctx, "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebsiteStatusPublished, published.Status)

	dep := published.Deployment()
	require.NotNil(t, dep)
	assert.Equal(t, launchedAt, dep.Timestamp)
	assert.Equal(t, "1.4.0", dep.Version)
	assert.Equal(t, "test", dep.Environment)
	assert.Equal(t, models.AnalyticsStatusPending, published.Analytics.Status)

	_, err = h.provision.Launch(ctx, "alice", w.ID)
	assert.ErrorIs(t, err, ErrAlreadyPublished)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.runDue(t))

	status, err := h.provision.GetLaunchStatus(ctx, "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebsiteStatusPublished, status.Status)
	assert.Equal(t, "foo.example.com", status.Domain.Name)
	assert.Equal(t, "1.4.0", status.Deployment.Version)
	require.NotNil(t, status.Analytics)
	assert.Equal(t, models.AnalyticsStatusLive, status.Analytics.Status)
	assert.Equal(t, 4, status.Analytics.PublishedPages)
	assert.Equal(t, 3, status.Analytics.ActivePlugins)
	assert.Equal(t, h.clock.Now(), *status.Analytics.FinalizedAt)

	for _, p := range h.store.Pages(w.ID) {
		require.NotNil(t, p.PublishedAt, p.Slug)
	}

	// replaying finalization is a no-op
	require.NoError(t, h.provision.finalizeDeployment(ctx, &models.Task{SubjectID: w.ID}))
	h.prov.AssertNumberOfCalls(t, "PublishSite", 1)
	h.prov.AssertExpectations(t)

	actions := activityActions(t, h, "alice", w.ID)
	assert.Equal(t, []string{"deployment_finalized", "website_launched", "domain_activated", "domain_attached", "website_created"}, actions)
}

func TestActivationRetriesThenFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.On("ProvisionDomain", mock.Anything, mock.Anything).Return(nil, errors.New("dns registrar timeout"))

	w := h.createSite(t, "alice")
	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "flaky.example.com")
	require.NoError(t, err)

	h.clock.Advance(5 * time.Second)
	require.Equal(t, 1, h.runDue(t))
	assert.Equal(t, models.DomainStatusPending, h.domainOf(t, w.ID).Status)

	h.clock.Advance(time.Second)
	require.Equal(t, 1, h.runDue(t))
	assert.Equal(t, models.DomainStatusPending, h.domainOf(t, w.ID).Status)

	h.clock.Advance(2 * time.Second)
	require.Equal(t, 1, h.runDue(t))

	d := h.domainOf(t, w.ID)
	assert.Equal(t, models.DomainStatusFailed, d.Status)
	require.NotNil(t, d.FailureReason)
	assert.Contains(t, *d.FailureReason, "dns registrar timeout")
	h.prov.AssertNumberOfCalls(t, "ProvisionDomain", 3)

	failed, err := h.provision.ListTasks(ctx, models.TaskStatusFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	_, err = h.provision.Launch(ctx, "alice", w.ID)
	assert.ErrorIs(t, err, ErrDomainNotActive)

	// a failed domain can be detached and the name reused
	require.NoError(t, h.provision.DetachDomain(ctx, "alice", w.ID))
	_, err = h.provision.AttachDomain(ctx, "alice", w.ID, "flaky.example.com")
	assert.NoError(t, err)
}

func TestActivationRejectedFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.On("ProvisionDomain", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: status 422: reserved name", client.ErrRejected))

	w := h.createSite(t, "alice")
	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "reserved.example.com")
	require.NoError(t, err)

	h.clock.Advance(5 * time.Second)
	h.runDue(t)

	assert.Equal(t, models.DomainStatusFailed, h.domainOf(t, w.ID).Status)
	h.prov.AssertNumberOfCalls(t, "ProvisionDomain", 1)
}

func TestDetachedDomainActivationIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createSite(t, "alice")

	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "gone.example.com")
	require.NoError(t, err)
	require.NoError(t, h.provision.DetachDomain(ctx, "alice", w.ID))

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, h.runDue(t))
	h.prov.AssertNotCalled(t, "ProvisionDomain", mock.Anything, mock.Anything)

	done, err := h.provision.ListTasks(ctx, models.TaskStatusDone)
	require.NoError(t, err)
	assert.Len(t, done, 1)

	assert.ErrorIs(t, h.provision.DetachDomain(ctx, "alice", w.ID), ErrDomainNotFound)
}

func TestDetachDomainOfPublishedWebsite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectProvisionOK()
	w := h.createSite(t, "alice")

	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "live.example.com")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	h.runDue(t)
	_, err = h.provision.Launch(ctx, "alice", w.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, h.provision.DetachDomain(ctx, "alice", w.ID), ErrDomainInUse)
}

// draftView reports every website as DRAFT, as a reader that loaded the
// row just before a concurrent launch committed would see it.
type draftView struct {
	*repository.MemoryStore
}

func (v draftView) GetWebsite(ctx context.Context, id string) (*models.Website, error) {
	w, err := v.MemoryStore.GetWebsite(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Status = models.WebsiteStatusDraft
	return w, nil
}

func TestDetachDomainLaunchedAfterStatusCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectProvisionOK()
	w := h.createSite(t, "alice")

	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "late.example.com")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	h.runDue(t)
	_, err = h.provision.Launch(ctx, "alice", w.ID)
	require.NoError(t, err)

	stale := NewProvisionService(config.ProvisioningConfig{MaxAttempts: 3}, draftView{h.store}, h.store, h.store, h.store, h.prov, metrics.New())
	assert.ErrorIs(t, stale.DetachDomain(ctx, "alice", w.ID), ErrDomainInUse)

	d := h.domainOf(t, w.ID)
	assert.Equal(t, models.DomainStatusActive, d.Status)
}

func TestFinalizationFailureKeepsWebsitePublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectProvisionOK()
	h.prov.On("PublishSite", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: status 400: quota exceeded", client.ErrRejected))

	w := h.createSite(t, "alice")
	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "quota.example.com")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	h.runDue(t)
	_, err = h.provision.Launch(ctx, "alice", w.ID)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Second)
	h.runDue(t)

	status, err := h.provision.GetLaunchStatus(ctx, "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebsiteStatusPublished, status.Status)
	assert.Equal(t, models.AnalyticsStatusFailed, status.Analytics.Status)
	assert.Contains(t, status.Analytics.FailureReason, "quota exceeded")
}

func TestConcurrentLaunchSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectProvisionOK()
	w := h.createSite(t, "alice")

	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "race.example.com")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	h.runDue(t)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.provision.Launch(ctx, "alice", w.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyPublished)
	}
	assert.Equal(t, 1, ok)

	tasks, err := h.provision.ListTasks(ctx, models.TaskStatusPending)
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "one finalization task")
}

func TestGetLaunchStatusDraft(t *testing.T) {
	h := newHarness(t)
	w := h.createSite(t, "alice")

	status, err := h.provision.GetLaunchStatus(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebsiteStatusDraft, status.Status)
	assert.Nil(t, status.Domain)
	assert.Nil(t, status.Deployment)
	assert.Nil(t, status.Analytics)

	_, err = h.provision.GetLaunchStatus(context.Background(), "bob", w.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCheckDomainAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createSite(t, "alice")

	res, err := h.provision.CheckDomainAvailability(ctx, "Shop.Example.com")
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, "shop.example.com", res.Name)

	_, err = h.provision.AttachDomain(ctx, "alice", w.ID, "shop.example.com")
	require.NoError(t, err)

	res, err = h.provision.CheckDomainAvailability(ctx, "shop.example.com")
	require.NoError(t, err)
	assert.False(t, res.Available)

	_, err = h.provision.CheckDomainAvailability(ctx, "")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = h.provision.CheckDomainAvailability(ctx, "-bad-.example")
	assert.ErrorIs(t, err, ErrInvalidDomainName)
}

func TestListTasksRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.provision.ListTasks(context.Background(), "sleeping")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestKind(t *testing.T) {
	assert.Equal(t, ErrConflict, Kind(ErrDomainTaken))
	assert.Equal(t, ErrPreconditionFailed, Kind(fmt.Errorf("wrapped: %w", ErrNoDomain)))
	assert.Nil(t, Kind(errors.New("db down")))
}

func activityActions(t *testing.T, h *harness, userID, websiteID string) []string {
	t.Helper()
	logs, err := h.websites.ListActivity(context.Background(), userID, websiteID)
	require.NoError(t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	return actions
}
