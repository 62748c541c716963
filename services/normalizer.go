package services

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mmcloughlin/geohash"

	"property-sync/models"
	"property-sync/parser"
	"property-sync/utils"
)

const (
	// DefaultPlaceholderPhoto is shown when no photo of a row resolves.
	DefaultPlaceholderPhoto = "https://images.unsplash.com/photo-1560448204-e02f11c3d0e2?w=800"

	untitledProperty = "Untitled Property"
	sourceCSV        = "csv"
	geohashChars     = 7
	idHashLen        = 12
)

// Column aliases, tried in order.
var (
	aliasTitle            = []string{"ProjectTitle", "Title", "Name", "Property"}
	aliasApartmentNo      = []string{"ApartmentNo", "Unit", "UnitNo", "Apartment"}
	aliasExternalID       = []string{"ID", "ExternalID", "id"}
	aliasType             = []string{"ApartmentType", "Type", "PropertyType", "type"}
	aliasStatus           = []string{"PropertyStatus", "Status", "status"}
	aliasLocation         = []string{"Location", "City", "Address", "location"}
	aliasDistrict         = []string{"District", "district"}
	aliasBedrooms         = []string{"Bedrooms", "bedrooms", "Beds"}
	aliasBathrooms        = []string{"Bathrooms", "bathrooms", "Baths"}
	aliasArea             = []string{"TotalArea", "Area", "area", "Size"}
	aliasInsideArea       = []string{"InsideArea", "insideArea"}
	aliasCoveredVeranda   = []string{"CoveredVeranda", "coveredVeranda"}
	aliasUncoveredVeranda = []string{"UncoveredVeranda", "Uncovered Veranda", "uncoveredVeranda"}
	aliasBasement         = []string{"Basement", "basement"}
	aliasPlot             = []string{"Plot", "plot"}
	aliasCleanPrice       = []string{"CleanPrice", "Price", "price"}
	aliasPrice            = []string{"Price", "price"}
	aliasPriceSqm         = []string{"Pricepersqm", "PricePerSqm"}
	aliasCurrency         = []string{"CurrencyType", "Currency"}
	aliasPhotos           = []string{"PhotoURLs", "PhotoPaths", "Photos", "Images"}
	aliasURL              = []string{"URL", "url", "Link"}
	aliasFeatures         = []string{"Features", "Amenities", "features"}
	aliasDescription      = []string{"Description", "description"}
	aliasAdditionalInfo   = []string{"AdditionalInformation", "AdditionalInfo", "Notes"}
	aliasLatitude         = []string{"Latitude", "lat", "Lat"}
	aliasLongitude        = []string{"Longitude", "lng", "Lon", "long"}
)

// NormalizerOptions configures a Normalizer. Zero values pick the defaults.
type NormalizerOptions struct {
	Photos      parser.PhotoOptions
	Placeholder string
	Now         func() time.Time
}

// NormalizeStats summarises one NormalizeAll pass.
type NormalizeStats struct {
	Rows       int
	Skipped    int
	Duplicates int
}

// Normalizer builds canonical Property records from raw rows.
type Normalizer struct {
	logger      *utils.Logger
	photos      *parser.PhotoNormalizer
	placeholder string
	now         func() time.Time
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger, opts NormalizerOptions) *Normalizer {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if strings.TrimSpace(opts.Placeholder) == "" {
		opts.Placeholder = DefaultPlaceholderPhoto
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{
		logger:      logger,
		photos:      parser.NewPhotoNormalizer(opts.Photos, logger),
		placeholder: opts.Placeholder,
		now:         opts.Now,
	}
}

// Normalize builds one Property from row. It returns nil for rows that carry
// neither a title nor a price. rowIndex only feeds the id of rows without a
// unit number; see NormalizeAll for how it is chosen.
func (n *Normalizer) Normalize(row models.RawRow, rowIndex int) *models.Property {
	title := normaliseText(parser.String(row, aliasTitle...))
	cleanPrice := nonNegative(parser.Number(row, aliasCleanPrice...))

	if title == "" && cleanPrice == 0 {
		return nil
	}

	apartmentNo := parser.String(row, aliasApartmentNo...)
	url := parser.String(row, aliasURL...)
	code := ProjectCode(title)

	currency := strings.ToUpper(parser.String(row, aliasCurrency...))
	if currency == "" {
		currency = DefaultCurrency
	}

	area := nonNegative(parser.Number(row, aliasArea...))
	priceSqm := nonNegative(parser.Number(row, aliasPriceSqm...))
	if priceSqm == 0 && area > 0 {
		priceSqm = math.Round(cleanPrice / area)
	}

	price := parser.String(row, aliasPrice...)
	if price == "" {
		price = FormatPrice(cleanPrice, currency)
	}

	photos := n.photos.Normalize(parser.String(row, aliasPhotos...))
	if len(photos) == 0 {
		photos = []string{n.placeholder}
	}

	p := &models.Property{
		ID:          stableID(code, title, apartmentNo, url, rowIndex),
		ExternalID:  parser.String(row, aliasExternalID...),
		ApartmentNo: apartmentNo,
		ProjectCode: code,
		Source:      sourceCSV,

		Title:    title,
		Type:     parser.String(row, aliasType...),
		Status:   parser.String(row, aliasStatus...),
		Location: normaliseText(parser.String(row, aliasLocation...)),
		District: normaliseText(parser.String(row, aliasDistrict...)),

		Latitude:  parser.OptionalNumber(row, aliasLatitude...),
		Longitude: parser.OptionalNumber(row, aliasLongitude...),

		Bedrooms:  nonNegative(parser.Number(row, aliasBedrooms...)),
		Bathrooms: nonNegative(parser.Number(row, aliasBathrooms...)),

		Area:             area,
		InsideArea:       nonNegative(parser.Number(row, aliasInsideArea...)),
		CoveredVeranda:   nonNegative(parser.Number(row, aliasCoveredVeranda...)),
		UncoveredVeranda: nonNegative(parser.Number(row, aliasUncoveredVeranda...)),
		Basement:         nonNegative(parser.Number(row, aliasBasement...)),
		Plot:             nonNegative(parser.Number(row, aliasPlot...)),

		Price:      price,
		CleanPrice: cleanPrice,
		PriceSqm:   priceSqm,
		Currency:   currency,

		Photos: photos,
		URL:    url,

		Features:       parser.String(row, aliasFeatures...),
		Description:    parser.String(row, aliasDescription...),
		AdditionalInfo: parser.String(row, aliasAdditionalInfo...),

		SyncedAt: n.now().UTC(),
	}

	if p.Title == "" {
		p.Title = untitledProperty
	}
	if p.Latitude != nil && p.Longitude != nil && validCoordinates(*p.Latitude, *p.Longitude) {
		p.Geohash = geohash.EncodeWithPrecision(*p.Latitude, *p.Longitude, geohashChars)
	}

	return p
}

// NormalizeAll normalizes every row of one dataset pass.
//
// Rows without a unit number are identified by title, url and the number of
// earlier rows sharing that same title and url, so inserting or removing
// unrelated rows leaves their ids unchanged. A row whose id was already
// produced earlier in the pass is dropped and counted as a duplicate.
func (n *Normalizer) NormalizeAll(rows []models.RawRow) ([]models.Property, NormalizeStats) {
	stats := NormalizeStats{Rows: len(rows)}
	out := make([]models.Property, 0, len(rows))
	seenIDs := make(map[string]int, len(rows))
	occurrences := make(map[string]int)

	for i, row := range rows {
		key := normaliseText(parser.String(row, aliasTitle...)) + "|" + parser.String(row, aliasURL...)
		ordinal := occurrences[key]
		occurrences[key]++

		p := n.Normalize(row, ordinal)
		if p == nil {
			stats.Skipped++
			continue
		}

		if first, dup := seenIDs[p.ID]; dup {
			stats.Duplicates++
			n.logger.Warn("[normalizer] Duplicate id %s at row %d (first seen at row %d), dropping %q",
				p.ID, i+1, first+1, p.Title)
			continue
		}
		seenIDs[p.ID] = i
		out = append(out, *p)
	}

	n.logger.Info("[normalizer] Normalized %d → %d properties (skipped %d, duplicates %d)",
		stats.Rows, len(out), stats.Skipped, stats.Duplicates)
	return out, stats
}

// stableID derives a deterministic id from the structural fields of a row.
func stableID(code, title, apartmentNo, url string, rowIndex int) string {
	switch {
	case apartmentNo != "" && code != "":
		return code + "_" + apartmentNo
	case apartmentNo != "":
		return "prop_" + shortHash(title, apartmentNo)
	default:
		return "prop_" + shortHash(title, url, strconv.Itoa(rowIndex))
	}
}

func shortHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:idHashLen]
}

func nonNegative(f float64) float64 {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func validCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
