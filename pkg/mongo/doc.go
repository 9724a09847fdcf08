// Package mongo connects to MongoDB for the Mongo key-value store backend.
//
//	client, err := mongo.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store := kvstore.NewMongo(mongo.KVCollection(client, cfg))
//
// Documents are keyed by _id, whose built-in unique index is all the store
// needs; no extra indexes are created.
package mongo
