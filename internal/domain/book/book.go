package book

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested book does not exist.
var ErrNotFound = errors.New("book not found")

// Book is a catalog entry available for purchase.
type Book struct {
	ID       string
	Title    string
	Author   string
	Price    decimal.Decimal
	Category string
}

// Repository defines read operations for the book catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Book, error)
	// GetByIDs returns the books that exist among ids, in no particular order.
	GetByIDs(ctx context.Context, ids []string) ([]Book, error)
	// Upsert inserts or replaces a catalog entry. Used by seeding.
	Upsert(ctx context.Context, b *Book) error
}
