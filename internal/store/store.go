package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"shopsync/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Store is the server of record: products plus the applied-idempotency-key
// ledger, in Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore connects to the database.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// EnsureSchema applies the embedded schema. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID within a tenant.
func (s *Store) GetItem(ctx context.Context, tenantID, id string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM products WHERE tenant_id = $1 AND id = $2", tenantID, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemBySKU retrieves an active item by exact SKU match. Scanner input
// resolves here; there is no stock-preference guessing because duplicate
// SKUs are rejected at creation time.
func (s *Store) GetItemBySKU(ctx context.Context, tenantID, sku string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM products WHERE tenant_id = $1 AND sku = $2 AND active", tenantID, sku)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found: %s", sku)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems retrieves all active items for a tenant.
func (s *Store) ListItems(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM products WHERE tenant_id = $1 AND active ORDER BY sku", tenantID)
	return items, err
}
