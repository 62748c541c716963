package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-sync/models"
	"property-sync/utils"
)

type fakeReviewed struct {
	ids   map[string]struct{}
	err   error
	calls int
}

func (f *fakeReviewed) ReviewedIDs(_ context.Context, _ string) (map[string]struct{}, error) {
	f.calls++
	return f.ids, f.err
}

func TestPresentFiltersReviewedAndStampsPhone(t *testing.T) {
	ds := dataset("a", "b", "c", "d")
	store := &fakeReviewed{ids: map[string]struct{}{"c": {}}}
	p := NewPresenter(utils.NewNopLogger(), store)

	sel := &models.Selection{ID: "s1", BrokerPhone: "+357 99 000000", PropertyIDs: []any{"d", "c", "a"}}
	out, err := p.Present(context.Background(), sel, ds)
	require.NoError(t, err)

	assert.Equal(t, []string{"d", "a"}, propertyIDs(out.Resolution.Properties))
	assert.Equal(t, 1, out.Reviewed)
	assert.False(t, out.Completed)
	for _, prop := range out.Resolution.Properties {
		assert.Equal(t, "+357 99 000000", prop.BrokerPhone)
	}

	// Canonical records are untouched.
	for _, prop := range ds {
		assert.Empty(t, prop.BrokerPhone)
	}
	out.Resolution.Properties[0].Photos[0] = "mutated"
	assert.Equal(t, "https://x/d", ds[3].Photos[0])
}

func TestPresentCompletedWhenAllReviewed(t *testing.T) {
	store := &fakeReviewed{ids: map[string]struct{}{"a": {}, "b": {}}}
	p := NewPresenter(nil, store)

	out, err := p.Present(context.Background(), &models.Selection{ID: "s", PropertyIDs: []string{"a", "b"}}, dataset("a", "b"))
	require.NoError(t, err)
	assert.Empty(t, out.Resolution.Properties)
	assert.True(t, out.Completed)
	assert.Equal(t, 2, out.Reviewed)
}

func TestPresentWithoutStore(t *testing.T) {
	p := NewPresenter(utils.NewNopLogger(), nil)

	out, err := p.Present(context.Background(), &models.Selection{ID: "s", PropertyIDs: []string{"b"}}, dataset("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, propertyIDs(out.Resolution.Properties))
	assert.Zero(t, out.Reviewed)
}

func TestPresentStoreErrorDegrades(t *testing.T) {
	store := &fakeReviewed{err: errors.New("db down")}
	p := NewPresenter(utils.NewNopLogger(), store)

	out, err := p.Present(context.Background(), &models.Selection{ID: "s", PropertyIDs: []string{"a"}}, dataset("a"))
	require.NoError(t, err)
	assert.Len(t, out.Resolution.Properties, 1)
}

func TestPresentExpired(t *testing.T) {
	p := NewPresenter(utils.NewNopLogger(), nil)
	past := time.Now().Add(-time.Hour)

	_, err := p.Present(context.Background(), &models.Selection{ID: "s", PropertyIDs: []string{"a"}, ExpiresAt: &past}, dataset("a"))
	assert.ErrorIs(t, err, ErrSelectionExpired)
}

func TestPresentMalformedSkipsStore(t *testing.T) {
	store := &fakeReviewed{}
	p := NewPresenter(utils.NewNopLogger(), store)

	out, err := p.Present(context.Background(), &models.Selection{ID: "s", PropertyIDs: "a,b"}, dataset("a"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, out.Resolution.Outcome)
	assert.ErrorIs(t, out.Resolution.Err, ErrSelectionNotList)
	assert.Zero(t, store.calls)
}

type fakeLister struct {
	reactions []models.Reaction
	err       error
	asked     string
}

func (f *fakeLister) Reactions(_ context.Context, selectionID string) ([]models.Reaction, error) {
	f.asked = selectionID
	return f.reactions, f.err
}

func TestReviewedFromReactions(t *testing.T) {
	lister := &fakeLister{reactions: []models.Reaction{
		{PropertyID: "a", Kind: models.ReactionLike},
		{PropertyID: "c", Kind: models.ReactionDislike},
		{PropertyID: "a", Kind: models.ReactionDislike},
	}}

	reviewed, err := ReviewedFromReactions(lister).ReviewedIDs(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", lister.asked)
	assert.Equal(t, map[string]struct{}{"a": {}, "c": {}}, reviewed)

	p := NewPresenter(nil, ReviewedFromReactions(lister))
	out, err := p.Present(context.Background(), &models.Selection{ID: "s1", PropertyIDs: []string{"c", "b", "a"}}, dataset("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, propertyIDs(out.Resolution.Properties))
	assert.Equal(t, 2, out.Reviewed)
}

func TestReviewedFromReactionsPropagatesError(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}

	_, err := ReviewedFromReactions(lister).ReviewedIDs(context.Background(), "s1")
	assert.EqualError(t, err, "db down")
}
