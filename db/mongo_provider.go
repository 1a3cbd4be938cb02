package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 10 * time.Second

// MongoOptions configures the MongoDB backed provider
type MongoOptions struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type mongoKV struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"v"`
}

// MongoProvider stores every key as one document {_id: key, v: value}.
type MongoProvider struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoProvider connects to MongoDB and verifies the connection
func NewMongoProvider(opts MongoOptions) (*MongoProvider, error) {
	if opts.Database == "" {
		opts.Database = "msig"
	}
	if opts.Collection == "" {
		opts.Collection = "kv"
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoProvider{
		client: client,
		coll:   client.Database(opts.Database).Collection(opts.Collection),
	}, nil
}

func (p *MongoProvider) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), mongoOpTimeout)
}

func (p *MongoProvider) Get(key []byte) ([]byte, error) {
	ctx, cancel := p.opContext()
	defer cancel()

	var doc mongoKV
	err := p.coll.FindOne(ctx, bson.M{"_id": string(key)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Value, nil
}

func (p *MongoProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = string(k)
	}

	ctx, cancel := p.opContext()
	defer cancel()
	cursor, err := p.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc mongoKV
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result[doc.Key] = doc.Value
	}
	return result, cursor.Err()
}

func (p *MongoProvider) Put(key, value []byte) error {
	ctx, cancel := p.opContext()
	defer cancel()
	_, err := p.coll.UpdateOne(ctx,
		bson.M{"_id": string(key)},
		bson.M{"$set": bson.M{"v": value}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (p *MongoProvider) Delete(key []byte) error {
	ctx, cancel := p.opContext()
	defer cancel()
	_, err := p.coll.DeleteOne(ctx, bson.M{"_id": string(key)})
	return err
}

func (p *MongoProvider) Has(key []byte) (bool, error) {
	ctx, cancel := p.opContext()
	defer cancel()
	n, err := p.coll.CountDocuments(ctx, bson.M{"_id": string(key)}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *MongoProvider) Close() error {
	ctx, cancel := p.opContext()
	defer cancel()
	return p.client.Disconnect(ctx)
}

func (p *MongoProvider) Batch() DatabaseBatch {
	return &MongoBatch{provider: p}
}

func (p *MongoProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 6*mongoOpTimeout)
	defer cancel()

	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(string(prefix))}}
	cursor, err := p.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc mongoKV
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if !callback([]byte(doc.Key), doc.Value) {
			break
		}
	}
	return cursor.Err()
}

// MongoBatch collects write models and submits them with one ordered BulkWrite.
type MongoBatch struct {
	provider *MongoProvider
	models   []mongo.WriteModel
}

func (b *MongoBatch) Put(key, value []byte) {
	b.models = append(b.models, mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": string(key)}).
		SetUpdate(bson.M{"$set": bson.M{"v": append([]byte(nil), value...)}}).
		SetUpsert(true))
}

func (b *MongoBatch) Delete(key []byte) {
	b.models = append(b.models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": string(key)}))
}

func (b *MongoBatch) Write() error {
	if len(b.models) == 0 {
		return nil
	}
	ctx, cancel := b.provider.opContext()
	defer cancel()
	_, err := b.provider.coll.BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(true))
	return err
}

func (b *MongoBatch) Reset() {
	b.models = b.models[:0]
}

func (b *MongoBatch) Close() error {
	b.models = nil
	return nil
}
