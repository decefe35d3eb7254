package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitecraft/builder-service/internal/models"
)

func TestCreateWebsiteFromTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w, err := h.websites.CreateWebsite(ctx, "alice", &models.CreateWebsiteRequest{Name: "  Bakery  ", TemplateID: "portfolio"})
	require.NoError(t, err)
	assert.Equal(t, "Bakery", w.Name)
	assert.Equal(t, "portfolio", w.TemplateID)
	assert.Equal(t, models.WebsiteStatusDraft, w.Status)
	assert.Nil(t, w.Deployment())

	pages := h.store.Pages(w.ID)
	require.Len(t, pages, 3)
	for _, p := range pages {
		assert.True(t, p.Published)
		assert.Nil(t, p.PublishedAt)
	}
}

func TestCreateWebsiteDefaultsToBlank(t *testing.T) {
	h := newHarness(t)

	w, err := h.websites.CreateWebsite(context.Background(), "alice", &models.CreateWebsiteRequest{Name: "Notes"})
	require.NoError(t, err)
	assert.Equal(t, "blank", w.TemplateID)
	assert.Len(t, h.store.Pages(w.ID), 1)
}

func TestCreateWebsiteValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		user string
		req  models.CreateWebsiteRequest
		want error
	}{
		{"no user", "", models.CreateWebsiteRequest{Name: "x"}, ErrUnauthenticated},
		{"blank name", "alice", models.CreateWebsiteRequest{Name: "   "}, ErrInvalid},
		{"long name", "alice", models.CreateWebsiteRequest{Name: strings.Repeat("é", 101)}, ErrInvalid},
		{"unknown template", "alice", models.CreateWebsiteRequest{Name: "x", TemplateID: "shop"}, ErrUnknownTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := h.websites.CreateWebsite(ctx, tt.user, &req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := h.websites.CreateWebsite(ctx, "alice", &models.CreateWebsiteRequest{Name: strings.Repeat("é", 100)})
	assert.NoError(t, err)
}

func TestListWebsitesExcludesArchived(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	keep := h.createSite(t, "alice")
	gone := h.createSite(t, "alice")
	h.createSite(t, "bob")

	require.NoError(t, h.websites.ArchiveWebsite(ctx, "alice", gone.ID))

	sites, err := h.websites.ListWebsites(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, keep.ID, sites[0].ID)

	// archiving twice is fine
	assert.NoError(t, h.websites.ArchiveWebsite(ctx, "alice", gone.ID))
}

func TestGetWebsiteWithDomain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createSite(t, "alice")

	got, d, err := h.websites.GetWebsite(ctx, "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Nil(t, d)

	_, err = h.provision.AttachDomain(ctx, "alice", w.ID, "bakery.example.com")
	require.NoError(t, err)

	_, d, err = h.websites.GetWebsite(ctx, "alice", w.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "bakery.example.com", d.Name)
	assert.Equal(t, models.DomainStatusPending, d.Status)

	_, _, err = h.websites.GetWebsite(ctx, "bob", w.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, _, err = h.websites.GetWebsite(ctx, "alice", "0d1f7c9e-5f0e-4b5b-9a57-3c1f3f0e7d11")
	assert.ErrorIs(t, err, ErrWebsiteNotFound)
}

func TestArchivePublishedWebsite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectProvisionOK()
	w := h.createSite(t, "alice")

	_, err := h.provision.AttachDomain(ctx, "alice", w.ID, "archive.example.com")
	require.NoError(t, err)
	h.clock.Advance(h.provision.cfg.ActivationDelay)
	h.runDue(t)
	_, err = h.provision.Launch(ctx, "alice", w.ID)
	require.NoError(t, err)

	require.NoError(t, h.websites.ArchiveWebsite(ctx, "alice", w.ID))

	// finalization for an archived site does nothing
	h.clock.Advance(h.provision.cfg.FinalizeDelay)
	h.runDue(t)
	h.prov.AssertNumberOfCalls(t, "PublishSite", 0)

	_, err = h.provision.Launch(ctx, "alice", w.ID)
	assert.ErrorIs(t, err, ErrWebsiteArchived)
}

func TestListTemplates(t *testing.T) {
	h := newHarness(t)
	ids := make([]string, 0)
	for _, tmpl := range h.websites.ListTemplates() {
		ids = append(ids, tmpl.ID)
	}
	assert.Equal(t, []string{"blank", "business", "portfolio", "blog"}, ids)
}

func TestListActivityRequiresOwner(t *testing.T) {
	h := newHarness(t)
	w := h.createSite(t, "alice")

	_, err := h.websites.ListActivity(context.Background(), "bob", w.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Equal(t, []string{"website_created"}, activityActions(t, h, "alice", w.ID))
}
