package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore-coupons/internal/domain/book"
)

const (
	getBookByIDSQL = `SELECT id, title, author, price, category FROM books WHERE id = $1`

	getBooksByIDsSQL = `SELECT id, title, author, price, category FROM books WHERE id = ANY($1)`

	upsertBookSQL = `INSERT INTO books (id, title, author, price, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			price = EXCLUDED.price,
			category = EXCLUDED.category`
)

var _ book.Repository = (*BookRepository)(nil)

// BookRepository implements book.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// GetByID returns a single book by its identifier.
func (r *BookRepository) GetByID(ctx context.Context, id string) (*book.Book, error) {
	rows, err := r.pool.Query(ctx, getBookByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get book %q", id)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get book %q", id)
	}
	return &b, nil
}

// GetByIDs returns books matching any of the given IDs.
func (r *BookRepository) GetByIDs(ctx context.Context, ids []string) ([]book.Book, error) {
	rows, err := r.pool.Query(ctx, getBooksByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get books by ids")
	}
	return pgx.CollectRows(rows, scanBook)
}

// Upsert inserts a book or replaces its catalog fields.
func (r *BookRepository) Upsert(ctx context.Context, b *book.Book) error {
	if _, err := r.pool.Exec(ctx, upsertBookSQL, b.ID, b.Title, b.Author, b.Price, b.Category); err != nil {
		return errors.Wrapf(err, "upsert book %q", b.ID)
	}
	return nil
}

func scanBook(row pgx.CollectableRow) (book.Book, error) {
	var b book.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.Category)
	return b, err
}
