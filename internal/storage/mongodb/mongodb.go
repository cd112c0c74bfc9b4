// Package mongodb implements the domain repositories on MongoDB.
package mongodb

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	couponsCollection     = "coupons"
	redemptionsCollection = "coupon_redemptions"
	booksCollection       = "books"
	ordersCollection      = "orders"
	apiKeysCollection     = "api_keys"
)

// Store owns the client and the database every repository reads from.
type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// Connect dials uri and selects database. The connection is verified with a
// ping before returning, and the topology is checked for transaction support.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping")
	}

	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "hello")
	}

	return &Store{
		client: client,
		db:     client.Database(database),
		// Standalone servers reject multi-document transactions.
		transactions: hello.SetName != "" || hello.Msg == "isdbgrid",
	}, nil
}

// Transactions reports whether the deployment is a replica set or sharded
// cluster.
func (s *Store) Transactions() bool { return s.transactions }

// Database returns the selected database.
func (s *Store) Database() *mongo.Database { return s.db }

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the secondary indexes. Existing indexes are kept.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		couponsCollection: {
			{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "expiration_date", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
		redemptionsCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}, {Key: "user_id", Value: 1}, {Key: "guest_email", Value: 1}}},
		},
		ordersCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "guest_email", Value: 1}}},
		},
		apiKeysCollection: {
			{Keys: bson.D{{Key: "key_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes on %s", name)
		}
	}
	return nil
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	// decimal.String never yields a value ParseDecimal128 rejects within
	// the 34-digit range used for money.
	v, _ := primitive.ParseDecimal128(d.String())
	return v
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse decimal %q", v.String())
	}
	return d, nil
}
