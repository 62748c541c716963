package services

import (
	"context"
	"errors"
	"time"

	"property-sync/models"
	"property-sync/utils"
)

var ErrSelectionExpired = errors.New("selection has expired")

// ReviewedStore supplies the ids a client has already reacted to.
type ReviewedStore interface {
	ReviewedIDs(ctx context.Context, selectionID string) (map[string]struct{}, error)
}

// Presentation is a selection ready to be shown to a client.
type Presentation struct {
	Selection  *models.Selection `json:"selection"`
	Resolution Resolution        `json:"resolution"`
	Reviewed   int               `json:"reviewed"`
	// Completed is set when every resolved property was already reviewed.
	Completed bool `json:"completed"`
}

// Presenter resolves stored selections against the dataset and prepares them
// for display.
type Presenter struct {
	logger   *utils.Logger
	reviewed ReviewedStore
	now      func() time.Time
}

// NewPresenter creates a Presenter. reviewed may be nil, in which case no
// reviewed-id filtering is applied.
func NewPresenter(logger *utils.Logger, reviewed ReviewedStore) *Presenter {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Presenter{logger: logger, reviewed: reviewed, now: time.Now}
}

// Present checks expiry, resolves the selection, drops already reviewed
// properties and stamps the broker's phone on the returned copies.
// Only ErrSelectionExpired is returned as an error; resolution failures are
// reported through the Resolution.
func (p *Presenter) Present(ctx context.Context, sel *models.Selection, dataset []models.Property) (*Presentation, error) {
	if sel.Expired(p.now()) {
		return nil, ErrSelectionExpired
	}

	res := ResolveRaw(sel.PropertyIDs, dataset)
	out := &Presentation{Selection: sel, Resolution: res}

	if !res.OK() {
		p.logger.Warn("[presenter] Selection %s: %s (%s)", sel.ID, res.Outcome, res.Diagnostics.Reason)
		return out, nil
	}

	if p.reviewed != nil {
		reviewed, err := p.reviewed.ReviewedIDs(ctx, sel.ID)
		if err != nil {
			p.logger.Warn("[presenter] Could not load reviewed ids for %s: %v", sel.ID, err)
		} else {
			before := len(res.Properties)
			res.Properties = ExcludeReviewed(res.Properties, reviewed)
			out.Reviewed = before - len(res.Properties)
			out.Completed = len(res.Properties) == 0 && out.Reviewed > 0
		}
	}

	if sel.BrokerPhone != "" {
		for i := range res.Properties {
			res.Properties[i] = res.Properties[i].WithBrokerPhone(sel.BrokerPhone)
		}
	}

	out.Resolution = res
	p.logger.Info("[presenter] Selection %s: %d properties to show (%d already reviewed, stage %s)",
		sel.ID, len(res.Properties), out.Reviewed, res.Stage)
	return out, nil
}
