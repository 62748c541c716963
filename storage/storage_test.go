package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-sync/models"
	"property-sync/parser"
	"property-sync/services"
	"property-sync/utils"
)

func exportFixture(t *testing.T) []models.Property {
	t.Helper()
	text := "ProjectTitle,ApartmentNo,Price,PhotoURLs,Location,Latitude,Longitude\n" +
		`A100 - Villa,601,"€285,000","https://x/a.jpg, https://x/b.jpg",Limassol,34.68,33.04` + "\n" +
		`Seafront plot,,120000,https://x/c.jpg,"Paphos, Coral Bay",,` + "\n"

	n := services.NewNormalizer(utils.NewNopLogger(), services.NormalizerOptions{
		Now: func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	props, _ := n.NormalizeAll(parser.Tokenize(text))
	require.Len(t, props, 2)
	return props
}

func TestCSVExportCanBeReingested(t *testing.T) {
	props := exportFixture(t)

	var buf bytes.Buffer
	w := NewCSVStreamWriter(&buf)
	require.NoError(t, w.Write(context.Background(), props))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID,ProjectTitle,ApartmentNo"))

	n := services.NewNormalizer(utils.NewNopLogger(), services.NormalizerOptions{})
	again, stats := n.NormalizeAll(parser.Tokenize(buf.String()))
	require.Len(t, again, 2)
	assert.Zero(t, stats.Duplicates)

	for i := range props {
		assert.Equal(t, props[i].ID, again[i].ID)
		assert.Equal(t, props[i].Title, again[i].Title)
		assert.Equal(t, props[i].CleanPrice, again[i].CleanPrice)
		assert.Equal(t, props[i].Photos, again[i].Photos)
		assert.Equal(t, props[i].Location, again[i].Location)
		assert.Equal(t, props[i].Geohash, again[i].Geohash)
	}
}

func TestCSVWriterHeaderOnce(t *testing.T) {
	props := exportFixture(t)

	var buf bytes.Buffer
	w := NewCSVStreamWriter(&buf)
	require.NoError(t, w.Write(context.Background(), props[:1]))
	require.NoError(t, w.Write(context.Background(), props[1:]))

	assert.Equal(t, 1, strings.Count(buf.String(), "ProjectTitle"))
}

func TestCSVWriterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), exportFixture(t)))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "A100_601")
}

func TestCSVWriterStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := NewCSVStreamWriter(&buf).Write(ctx, exportFixture(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "-")
}

func TestUploadFileValidation(t *testing.T) {
	err := UploadFile(context.Background(), SFTPConfig{}, "out.csv", "out.csv")
	assert.True(t, errors.Is(err, errSFTPNotConfigured))

	err = UploadFile(context.Background(), SFTPConfig{Host: "h", User: "u", Pass: "p"}, filepath.Join(t.TempDir(), "missing.csv"), "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open local file")
}

// TestPostgresStore runs against a live database when POSTGRES_TEST_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn, &utils.RetryConfig{MaxAttempts: 1}, utils.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	props := exportFixture(t)
	require.NoError(t, store.Write(ctx, props))
	stored, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	sel := &models.Selection{Name: "Test", PropertyIDs: []string{props[1].ID, props[0].ID}}
	require.NoError(t, store.CreateSelection(ctx, sel))

	loaded, err := store.SelectionByToken(ctx, sel.Token)
	require.NoError(t, err)
	assert.Equal(t, []any{props[1].ID, props[0].ID}, loaded.PropertyIDs)

	require.NoError(t, store.SaveReaction(ctx, models.Reaction{SelectionID: sel.ID, PropertyID: props[0].ID, Kind: models.ReactionLike}))
	require.NoError(t, store.SaveReaction(ctx, models.Reaction{SelectionID: sel.ID, PropertyID: props[0].ID, Kind: models.ReactionDislike}))

	reactions, err := store.Reactions(ctx, sel.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, models.ReactionDislike, reactions[0].Kind)

	reviewed, err := services.ReviewedFromReactions(store).ReviewedIDs(ctx, sel.ID)
	require.NoError(t, err)
	assert.Contains(t, reviewed, props[0].ID)

	require.NoError(t, store.MarkCompleted(ctx, sel.ID))
	_, err = store.SelectionByToken(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrSelectionNotFound)
}
