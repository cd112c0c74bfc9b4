package mongodb

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/bookstore-coupons/internal/domain/book"
)

type bookDoc struct {
	ID       string               `bson:"_id"`
	Title    string               `bson:"title"`
	Author   string               `bson:"author"`
	Price    primitive.Decimal128 `bson:"price"`
	Category string               `bson:"category"`
}

var _ book.Repository = (*BookRepository)(nil)

// BookRepository implements book.Repository on the books collection.
type BookRepository struct {
	books *mongo.Collection
}

// NewBookRepository returns a BookRepository backed by db.
func NewBookRepository(db *mongo.Database) *BookRepository {
	return &BookRepository{books: db.Collection(booksCollection)}
}

// GetByID returns a single book by its identifier.
func (r *BookRepository) GetByID(ctx context.Context, id string) (*book.Book, error) {
	var doc bookDoc
	if err := r.books.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, book.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get book %q", id)
	}
	return doc.toDomain()
}

// GetByIDs returns books matching any of the given IDs.
func (r *BookRepository) GetByIDs(ctx context.Context, ids []string) ([]book.Book, error) {
	cur, err := r.books.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errors.Wrap(err, "get books by ids")
	}
	var docs []bookDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode books")
	}

	out := make([]book.Book, 0, len(docs))
	for _, doc := range docs {
		b, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

// Upsert inserts a book or replaces its catalog fields.
func (r *BookRepository) Upsert(ctx context.Context, b *book.Book) error {
	doc := bookDoc{
		ID:       b.ID,
		Title:    b.Title,
		Author:   b.Author,
		Price:    toDecimal128(b.Price),
		Category: b.Category,
	}
	_, err := r.books.ReplaceOne(ctx, bson.M{"_id": b.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "upsert book %q", b.ID)
	}
	return nil
}

func (d bookDoc) toDomain() (*book.Book, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, errors.Wrapf(err, "book %q price", d.ID)
	}
	return &book.Book{
		ID:       d.ID,
		Title:    d.Title,
		Author:   d.Author,
		Price:    price,
		Category: d.Category,
	}, nil
}
