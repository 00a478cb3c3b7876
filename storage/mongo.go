package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opd-ai/otter/trust"
)

const (
	recordsCollection  = "trust_records"
	identityCollection = "identity"
	localIdentityID    = "local"
)

type recordDocument struct {
	ID        string    `bson:"_id"`
	Level     string    `bson:"level"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type identityDocument struct {
	ID     string `bson:"_id"`
	Sealed []byte `bson:"sealed"`
}

// MongoBackend stores one document per trust record plus a single identity
// document. The record itself is kept as its JSON encoding; level and
// updated_at are duplicated for querying.
type MongoBackend struct {
	client   *mongo.Client
	records  *mongo.Collection
	identity *mongo.Collection
	logger   *logrus.Entry
}

// NewMongoBackend connects to uri and uses database.
func NewMongoBackend(ctx context.Context, uri, database string) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	return &MongoBackend{
		client:   client,
		records:  db.Collection(recordsCollection),
		identity: db.Collection(identityCollection),
		logger:   logrus.WithFields(logrus.Fields{"component": "mongo_backend", "database": database}),
	}, nil
}

func (b *MongoBackend) SaveRecord(ctx context.Context, r *trust.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	doc := recordDocument{
		ID:        r.PeerID.String(),
		Level:     r.Level.String(),
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = b.records.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo replace: %w", err)
	}
	return nil
}

// LoadRecords reads every record, failing on any record that does not
// decode or whose _id does not match its PeerID.
func (b *MongoBackend) LoadRecords(ctx context.Context) ([]*trust.Record, error) {
	cursor, err := b.records.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*trust.Record
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo decode: %w", err)
		}
		r, err := decodeRecord(doc.ID, doc.Data)
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"function": "LoadRecords",
				"id":       doc.ID,
				"error":    err.Error(),
			}).Error("Undecodable trust record")
			return nil, err
		}
		out = append(out, r)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return out, nil
}

// VerifiedCount counts Verified records server side.
func (b *MongoBackend) VerifiedCount(ctx context.Context) (int64, error) {
	return b.records.CountDocuments(ctx, bson.M{"level": trust.Verified.String()})
}

func (b *MongoBackend) SaveIdentity(ctx context.Context, sealed []byte) error {
	doc := identityDocument{ID: localIdentityID, Sealed: sealed}
	_, err := b.identity.ReplaceOne(ctx, bson.M{"_id": localIdentityID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo replace: %w", err)
	}
	return nil
}

func (b *MongoBackend) LoadIdentity(ctx context.Context) ([]byte, error) {
	var doc identityDocument
	err := b.identity.FindOne(ctx, bson.M{"_id": localIdentityID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find identity: %w", err)
	}
	return doc.Sealed, nil
}

func (b *MongoBackend) Close() error {
	return b.client.Disconnect(context.Background())
}
