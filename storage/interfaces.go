package storage

import (
	"context"
	"errors"

	"property-sync/models"
)

var ErrSelectionNotFound = errors.New("selection not found")

// PropertyWriter is the interface any export or persistence backend must satisfy.
type PropertyWriter interface {
	Write(ctx context.Context, props []models.Property) error
	Close() error
}

// SelectionStore persists broker selections and client reactions.
type SelectionStore interface {
	CreateSelection(ctx context.Context, sel *models.Selection) error
	SelectionByToken(ctx context.Context, token string) (*models.Selection, error)
	SaveReaction(ctx context.Context, r models.Reaction) error
	Reactions(ctx context.Context, selectionID string) ([]models.Reaction, error)
	MarkCompleted(ctx context.Context, selectionID string) error
}
