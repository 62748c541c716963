package models

import "time"

// RawRow maps a header name, as found in the dataset, to the raw cell value.
// It only lives for the duration of one parse pass.
type RawRow map[string]string

// Property is the canonical, normalized listing record. Instances are treated
// as immutable once produced by an ingestion pass; use the With* helpers to
// derive decorated copies.
type Property struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId,omitempty"`
	ApartmentNo string `json:"apartmentNo,omitempty"`
	ProjectCode string `json:"projectCode,omitempty"`
	Source      string `json:"source"`

	Title    string `json:"title"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Location string `json:"location"`
	District string `json:"district"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Geohash   string   `json:"geohash,omitempty"`

	Bedrooms  float64 `json:"bedrooms"`
	Bathrooms float64 `json:"bathrooms"`

	Area             float64 `json:"area"`
	InsideArea       float64 `json:"insideArea"`
	CoveredVeranda   float64 `json:"coveredVeranda"`
	UncoveredVeranda float64 `json:"uncoveredVeranda"`
	Basement         float64 `json:"basement"`
	Plot             float64 `json:"plot"`

	Price      string  `json:"price"`
	CleanPrice float64 `json:"cleanPrice"`
	PriceSqm   float64 `json:"priceSqm"`
	Currency   string  `json:"currency"`

	Photos []string `json:"photos"`
	URL    string   `json:"url"`

	Features       string `json:"features"`
	Description    string `json:"description"`
	AdditionalInfo string `json:"additionalInfo"`

	BrokerPhone string `json:"brokerPhone,omitempty"`

	SyncedAt time.Time `json:"syncedAt"`
}

// WithBrokerPhone returns a copy of p carrying the broker's phone number.
// The receiver and its photo slice are left untouched.
func (p Property) WithBrokerPhone(phone string) Property {
	cp := p
	cp.Photos = append([]string(nil), p.Photos...)
	cp.BrokerPhone = phone
	return cp
}

// IngestResult is the outcome of one ingestion attempt.
type IngestResult struct {
	Success    bool      `json:"success"`
	Count      int       `json:"count"`
	Cached     bool      `json:"cached,omitempty"`
	Source     string    `json:"source,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
	Duplicates int       `json:"duplicates,omitempty"`
	SyncedAt   time.Time `json:"syncedAt,omitempty"`
	Err        error     `json:"-"`
}

// Error returns the failure message, or "" on success.
func (r IngestResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// InsightReport holds the computed analytics over the normalized dataset.
type InsightReport struct {
	TotalListings int
	Available     int
	Reserved      int
	Sold          int
	TotalValue    float64
	AveragePrice  float64
	MinPrice      float64
	MaxPrice      float64
	AveragePerSqm float64
	MostExpensive *Property
	Largest       []*Property
	ByLocation    map[string]int
	ByComplex     map[string]int
	ByGeohashCell map[string]int
}
