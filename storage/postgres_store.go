package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"property-sync/models"
	"property-sync/utils"
)

const (
	batchSize      = 50
	propertyFields = 30
)

// PostgresStore persists the property catalog, broker selections and client
// reactions to PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection to PostgreSQL, retrying the initial
// ping, runs schema migrations, and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string, retry *utils.RetryConfig, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 2 * time.Second, Logger: logger}
	}
	if err := retry.Do(ctx, "postgres ping", db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if logger == nil {
		logger = utils.NewNopLogger()
	}
	ps := &PostgresStore{db: db, logger: logger}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

// NewPostgresStoreFromDB wraps an already open handle without migrating.
func NewPostgresStoreFromDB(db *sql.DB, logger *utils.Logger) *PostgresStore {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &PostgresStore{db: db, logger: logger}
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			id                TEXT PRIMARY KEY,
			external_id       TEXT NOT NULL DEFAULT '',
			apartment_no      TEXT NOT NULL DEFAULT '',
			project_code      TEXT NOT NULL DEFAULT '',
			title             TEXT NOT NULL,
			type              TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT '',
			location          TEXT NOT NULL DEFAULT '',
			district          TEXT NOT NULL DEFAULT '',
			bedrooms          NUMERIC(6,1)  NOT NULL DEFAULT 0,
			bathrooms         NUMERIC(6,1)  NOT NULL DEFAULT 0,
			area              NUMERIC(12,2) NOT NULL DEFAULT 0,
			inside_area       NUMERIC(12,2) NOT NULL DEFAULT 0,
			covered_veranda   NUMERIC(12,2) NOT NULL DEFAULT 0,
			uncovered_veranda NUMERIC(12,2) NOT NULL DEFAULT 0,
			basement          NUMERIC(12,2) NOT NULL DEFAULT 0,
			plot              NUMERIC(12,2) NOT NULL DEFAULT 0,
			price             TEXT NOT NULL DEFAULT '',
			clean_price       NUMERIC(14,2) NOT NULL DEFAULT 0,
			price_sqm         NUMERIC(12,2) NOT NULL DEFAULT 0,
			currency          VARCHAR(8) NOT NULL DEFAULT 'EUR',
			photos            TEXT[] NOT NULL DEFAULT '{}',
			url               TEXT NOT NULL DEFAULT '',
			features          TEXT NOT NULL DEFAULT '',
			description       TEXT NOT NULL DEFAULT '',
			additional_info   TEXT NOT NULL DEFAULT '',
			latitude          DOUBLE PRECISION,
			longitude         DOUBLE PRECISION,
			geohash           VARCHAR(12) NOT NULL DEFAULT '',
			synced_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_properties_status   ON properties(status);
		CREATE INDEX IF NOT EXISTS idx_properties_location ON properties(location);
		CREATE INDEX IF NOT EXISTS idx_properties_price    ON properties(clean_price);
		CREATE INDEX IF NOT EXISTS idx_properties_geohash  ON properties(geohash);

		CREATE TABLE IF NOT EXISTS selections (
			id               UUID PRIMARY KEY,
			token            TEXT UNIQUE NOT NULL,
			name             TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			broker_phone     TEXT NOT NULL DEFAULT '',
			client_id        TEXT NOT NULL DEFAULT '',
			status           VARCHAR(16) NOT NULL DEFAULT 'pending',
			property_ids     JSONB,
			total_properties INT NOT NULL DEFAULT 0,
			expires_at       TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at     TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS reactions (
			id             SERIAL PRIMARY KEY,
			selection_id   UUID NOT NULL REFERENCES selections(id) ON DELETE CASCADE,
			property_id    TEXT NOT NULL,
			property_title TEXT NOT NULL DEFAULT '',
			reaction       VARCHAR(16) NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (selection_id, property_id)
		);
	`)
	return err
}

// Write replaces the stored catalog with props: rows are upserted in batches
// and rows whose id is no longer present are removed, all in one transaction.
func (ps *PostgresStore) Write(ctx context.Context, props []models.Property) error {
	if len(props) == 0 {
		return nil
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < len(props); i += batchSize {
		end := min(i+batchSize, len(props))
		if err := insertBatch(ctx, tx, props[i:end]); err != nil {
			return fmt.Errorf("postgres: upsert batch %d: %w", i/batchSize, err)
		}
	}

	ids := make([]string, len(props))
	for i, p := range props {
		ids[i] = p.ID
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM properties WHERE NOT (id = ANY($1))`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("postgres: prune: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		ps.logger.Info("[postgres] Removed %d properties no longer in the dataset", n)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, batch []models.Property) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*propertyFields)

	for idx, p := range batch {
		base := idx * propertyFields
		placeholders := make([]string, propertyFields)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			p.ID, p.ExternalID, p.ApartmentNo, p.ProjectCode, p.Title, p.Type, p.Status,
			p.Location, p.District, p.Bedrooms, p.Bathrooms,
			p.Area, p.InsideArea, p.CoveredVeranda, p.UncoveredVeranda, p.Basement, p.Plot,
			p.Price, p.CleanPrice, p.PriceSqm, p.Currency, pq.Array(p.Photos), p.URL,
			p.Features, p.Description, p.AdditionalInfo,
			nullFloat(p.Latitude), nullFloat(p.Longitude), p.Geohash, p.SyncedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO properties (
			id, external_id, apartment_no, project_code, title, type, status,
			location, district, bedrooms, bathrooms,
			area, inside_area, covered_veranda, uncovered_veranda, basement, plot,
			price, clean_price, price_sqm, currency, photos, url,
			features, description, additional_info,
			latitude, longitude, geohash, synced_at)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id, apartment_no = EXCLUDED.apartment_no,
			project_code = EXCLUDED.project_code, title = EXCLUDED.title, type = EXCLUDED.type,
			status = EXCLUDED.status, location = EXCLUDED.location, district = EXCLUDED.district,
			bedrooms = EXCLUDED.bedrooms, bathrooms = EXCLUDED.bathrooms, area = EXCLUDED.area,
			inside_area = EXCLUDED.inside_area, covered_veranda = EXCLUDED.covered_veranda,
			uncovered_veranda = EXCLUDED.uncovered_veranda, basement = EXCLUDED.basement,
			plot = EXCLUDED.plot, price = EXCLUDED.price, clean_price = EXCLUDED.clean_price,
			price_sqm = EXCLUDED.price_sqm, currency = EXCLUDED.currency, photos = EXCLUDED.photos,
			url = EXCLUDED.url, features = EXCLUDED.features, description = EXCLUDED.description,
			additional_info = EXCLUDED.additional_info, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
			geohash = EXCLUDED.geohash, synced_at = EXCLUDED.synced_at
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// FetchAll retrieves the stored catalog ordered by id.
func (ps *PostgresStore) FetchAll(ctx context.Context) ([]models.Property, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, external_id, apartment_no, project_code, title, type, status,
			location, district, bedrooms, bathrooms,
			area, inside_area, covered_veranda, uncovered_veranda, basement, plot,
			price, clean_price, price_sqm, currency, photos, url,
			features, description, additional_info,
			latitude, longitude, geohash, synced_at
		FROM properties
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var (
			p        models.Property
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(
			&p.ID, &p.ExternalID, &p.ApartmentNo, &p.ProjectCode, &p.Title, &p.Type, &p.Status,
			&p.Location, &p.District, &p.Bedrooms, &p.Bathrooms,
			&p.Area, &p.InsideArea, &p.CoveredVeranda, &p.UncoveredVeranda, &p.Basement, &p.Plot,
			&p.Price, &p.CleanPrice, &p.PriceSqm, &p.Currency, pq.Array(&p.Photos), &p.URL,
			&p.Features, &p.Description, &p.AdditionalInfo,
			&lat, &lng, &p.Geohash, &p.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan property: %w", err)
		}
		if lat.Valid {
			p.Latitude = &lat.Float64
		}
		if lng.Valid {
			p.Longitude = &lng.Float64
		}
		p.Source = "csv"
		props = append(props, p)
	}
	return props, rows.Err()
}

// CreateSelection stores sel, assigning its id, token, status and creation
// time when they are empty.
func (ps *PostgresStore) CreateSelection(ctx context.Context, sel *models.Selection) error {
	if sel.ID == "" {
		sel.ID = uuid.NewString()
	}
	if sel.Token == "" {
		sel.Token = NewToken()
	}
	if sel.Status == "" {
		sel.Status = models.SelectionPending
	}
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = time.Now().UTC()
	}

	ids, err := json.Marshal(sel.PropertyIDs)
	if err != nil {
		return fmt.Errorf("postgres: encode property ids: %w", err)
	}
	total := 0
	if list, ok := sel.PropertyIDs.([]string); ok {
		total = len(list)
	} else if list, ok := sel.PropertyIDs.([]any); ok {
		total = len(list)
	}

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO selections (id, token, name, description, broker_phone, client_id,
			status, property_ids, total_properties, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sel.ID, sel.Token, sel.Name, sel.Description, sel.BrokerPhone, sel.ClientID,
		sel.Status, ids, total, sel.ExpiresAt, sel.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create selection: %w", err)
	}
	return nil
}

// SelectionByToken loads a selection by its share token. property_ids is
// decoded as-is; validating it is left to the resolver.
func (ps *PostgresStore) SelectionByToken(ctx context.Context, token string) (*models.Selection, error) {
	var (
		sel         models.Selection
		ids         []byte
		expiresAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := ps.db.QueryRowContext(ctx, `
		SELECT id, token, name, description, broker_phone, client_id, status,
			property_ids, expires_at, created_at, completed_at
		FROM selections
		WHERE token = $1
	`, token).Scan(&sel.ID, &sel.Token, &sel.Name, &sel.Description, &sel.BrokerPhone,
		&sel.ClientID, &sel.Status, &ids, &expiresAt, &sel.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSelectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: selection by token: %w", err)
	}

	if len(ids) > 0 {
		if err := json.Unmarshal(ids, &sel.PropertyIDs); err != nil {
			ps.logger.Warn("[postgres] Selection %s has undecodable property_ids: %v", sel.ID, err)
			sel.PropertyIDs = string(ids)
		}
	}
	if expiresAt.Valid {
		sel.ExpiresAt = &expiresAt.Time
	}
	if completedAt.Valid {
		sel.CompletedAt = &completedAt.Time
	}
	return &sel, nil
}

// SaveReaction records a reaction. A later reaction to the same property of
// the same selection replaces the earlier one.
func (ps *PostgresStore) SaveReaction(ctx context.Context, r models.Reaction) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO reactions (selection_id, property_id, property_title, reaction, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (selection_id, property_id) DO UPDATE SET
			property_title = EXCLUDED.property_title,
			reaction = EXCLUDED.reaction,
			created_at = EXCLUDED.created_at
	`, r.SelectionID, r.PropertyID, r.PropertyTitle, r.Kind, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save reaction: %w", err)
	}
	return nil
}

// Reactions lists a selection's reactions, oldest first.
func (ps *PostgresStore) Reactions(ctx context.Context, selectionID string) ([]models.Reaction, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT selection_id, property_id, property_title, reaction, created_at
		FROM reactions
		WHERE selection_id = $1
		ORDER BY created_at, id
	`, selectionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: reactions: %w", err)
	}
	defer rows.Close()

	reactions := []models.Reaction{}
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.SelectionID, &r.PropertyID, &r.PropertyTitle, &r.Kind, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// MarkCompleted sets a selection's status to completed.
func (ps *PostgresStore) MarkCompleted(ctx context.Context, selectionID string) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE selections SET status = $2, completed_at = NOW() WHERE id = $1
	`, selectionID, models.SelectionCompleted)
	if err != nil {
		return fmt.Errorf("postgres: mark completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSelectionNotFound
	}
	return nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// NewToken returns a random, URL-safe share token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
