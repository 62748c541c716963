package services

import (
	"context"
	"sort"

	"property-sync/models"
)

// ReactionSummary counts a client's verdicts on one selection.
type ReactionSummary struct {
	Liked    []string `json:"liked"`
	Disliked []string `json:"disliked"`
	Total    int      `json:"total"`
}

// Summarize collapses reactions to the latest verdict per property.
// Liked and Disliked list property ids in the order they were first reacted to.
func Summarize(reactions []models.Reaction) ReactionSummary {
	sorted := append([]models.Reaction(nil), reactions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	latest := make(map[string]string, len(sorted))
	var order []string
	for _, r := range sorted {
		if _, seen := latest[r.PropertyID]; !seen {
			order = append(order, r.PropertyID)
		}
		latest[r.PropertyID] = r.Kind
	}

	summary := ReactionSummary{Liked: []string{}, Disliked: []string{}, Total: len(order)}
	for _, id := range order {
		switch latest[id] {
		case models.ReactionLike:
			summary.Liked = append(summary.Liked, id)
		case models.ReactionDislike:
			summary.Disliked = append(summary.Disliked, id)
		}
	}
	return summary
}

// ReviewedIDs returns the set of property ids that have any reaction.
func ReviewedIDs(reactions []models.Reaction) map[string]struct{} {
	ids := make(map[string]struct{}, len(reactions))
	for _, r := range reactions {
		ids[r.PropertyID] = struct{}{}
	}
	return ids
}

// ReactionLister loads the reactions recorded for one selection.
type ReactionLister interface {
	Reactions(ctx context.Context, selectionID string) ([]models.Reaction, error)
}

type reactionReviewed struct {
	lister ReactionLister
}

// ReviewedFromReactions adapts a ReactionLister into a ReviewedStore: a
// property counts as reviewed once it has any reaction.
func ReviewedFromReactions(l ReactionLister) ReviewedStore {
	return reactionReviewed{lister: l}
}

func (r reactionReviewed) ReviewedIDs(ctx context.Context, selectionID string) (map[string]struct{}, error) {
	reactions, err := r.lister.Reactions(ctx, selectionID)
	if err != nil {
		return nil, err
	}
	return ReviewedIDs(reactions), nil
}
