package kvstore

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoEntry struct {
	Key     string `bson:"_id"`
	Value   []byte `bson:"value"`
	Version int64  `bson:"version"`
}

// Mongo stores each key as a document whose _id is the key.
type Mongo struct {
	coll       *mongo.Collection
	maxRetries int
}

func NewMongo(coll *mongo.Collection) *Mongo {
	if coll == nil {
		panic("kvstore: mongo collection is required")
	}
	return &Mongo{coll: coll, maxRetries: defaultMaxRetries}
}

func (m *Mongo) find(ctx context.Context, key string) (*mongoEntry, error) {
	var e mongoEntry
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (m *Mongo) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := m.find(ctx, key)
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e.Value, nil
}

func (m *Mongo) Set(ctx context.Context, key string, value []byte) error {
	_, err := m.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "value", Value: value}}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

func (m *Mongo) Remove(ctx context.Context, key string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}}); err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

// Update compares-and-swaps on the version field. Inserts race on the _id
// unique index; the loser re-reads and tries again.
func (m *Mongo) Update(ctx context.Context, key string, fn MutateFunc) ([]byte, error) {
	for range m.maxRetries {
		e, err := m.find(ctx, key)
		if err != nil {
			return nil, errors.Join(ErrStorage, err)
		}

		var cur []byte
		if e != nil {
			cur = e.Value
		}
		next, err := fn(clone(cur))
		if err != nil {
			return nil, err
		}
		if skipWrite(cur, next) {
			return cur, nil
		}

		if e == nil {
			_, err := m.coll.InsertOne(ctx, mongoEntry{Key: key, Value: next, Version: 1})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return nil, errors.Join(ErrStorage, err)
			}
			return next, nil
		}

		res, err := m.coll.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: key}, {Key: "version", Value: e.Version}},
			bson.D{
				{Key: "$set", Value: bson.D{{Key: "value", Value: next}}},
				{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
			},
		)
		if err != nil {
			return nil, errors.Join(ErrStorage, err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, ErrConflict
}

func (m *Mongo) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	cur, err := m.coll.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}

	var docs []struct {
		Key string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = d.Key
	}
	return keys, nil
}
