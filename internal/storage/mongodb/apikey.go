package mongodb

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/bookstore-coupons/internal/domain/auth"
)

type apiKeyDoc struct {
	ID      string   `bson:"_id"`
	KeyHash string   `bson:"key_hash"`
	Name    string   `bson:"name"`
	Scopes  []string `bson:"scopes"`
	Active  bool     `bson:"active"`
}

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups on the api_keys collection.
type APIKeyRepository struct {
	keys *mongo.Collection
}

// NewAPIKeyRepository returns an APIKeyRepository backed by db.
func NewAPIKeyRepository(db *mongo.Database) *APIKeyRepository {
	return &APIKeyRepository{keys: db.Collection(apiKeysCollection)}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var doc apiKeyDoc
	err := r.keys.FindOne(ctx, bson.M{"key_hash": hash, "active": true}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &auth.APIKeyInfo{
		ID:      doc.ID,
		KeyHash: doc.KeyHash,
		Name:    doc.Name,
		Scopes:  doc.Scopes,
	}, nil
}

// Create stores a key, reactivating it when the hash already exists.
func (r *APIKeyRepository) Create(ctx context.Context, info *auth.APIKeyInfo) error {
	update := bson.M{
		"$set":         bson.M{"name": info.Name, "scopes": info.Scopes, "active": true},
		"$setOnInsert": bson.M{"_id": info.ID},
	}
	_, err := r.keys.UpdateOne(ctx, bson.M{"key_hash": info.KeyHash}, update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "create api key %q", info.Name)
	}
	return nil
}
