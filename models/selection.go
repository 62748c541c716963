package models

import "time"

// Selection is a broker-curated, ordered list of property identifiers shared
// with a client. PropertyIDs holds the stored value as decoded from JSON and
// is validated only when the selection is resolved.
type Selection struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	BrokerPhone string     `json:"brokerPhone,omitempty"`
	ClientID    string     `json:"clientId,omitempty"`
	Status      string     `json:"status"`
	PropertyIDs any        `json:"propertyIds"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Selection statuses.
const (
	SelectionPending   = "pending"
	SelectionActive    = "active"
	SelectionCompleted = "completed"
)

// Expired reports whether the selection's expiry lies before now.
func (s *Selection) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Reaction kinds.
const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

// Reaction is a client's verdict on one property of a selection.
type Reaction struct {
	SelectionID   string    `json:"selectionId"`
	PropertyID    string    `json:"propertyId"`
	PropertyTitle string    `json:"propertyTitle"`
	Kind          string    `json:"reaction"`
	CreatedAt     time.Time `json:"createdAt"`
}
