package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/model"
)

// MongoStore is the production Persistence Adapter, backed by a single
// "books" collection keyed by Book.ID. It translates Filter/Update into
// Mongo's native $exists/$lte and $set/$unset operators so the server
// itself evaluates the CAS predicates atomically.
type MongoStore struct {
	coll *mongo.Collection
}

// Config is connection configuration for the book collection.
type Config struct {
	URL        string
	Database   string
	Collection string
}

func NewMongoStore(ctx context.Context, cfg Config) (*MongoStore, error) {
	collName := cfg.Collection
	if collName == "" {
		collName = "books"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &MongoStore{coll: client.Database(cfg.Database).Collection(collName)}, nil
}

func (s *MongoStore) FindOne(ctx context.Context, id string) (*model.Book, error) {
	var book model.Book
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&book)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, engerr.ErrNotFound
		}
		return nil, err
	}
	return &book, nil
}

func (s *MongoStore) InsertOne(ctx context.Context, book *model.Book) error {
	_, err := s.coll.InsertOne(ctx, book)
	return err
}

func (s *MongoStore) UpdateOne(ctx context.Context, id string, filter Filter, update Update) (int64, error) {
	doc := bson.M{"_id": id}
	for path, wantExists := range filter.Exists {
		doc[path] = bson.M{"$exists": wantExists}
	}
	for path, want := range filter.Eq {
		doc[path] = want
	}
	for path, bound := range filter.LTE {
		doc[path] = bson.M{"$lte": bound}
	}

	upd := bson.M{}
	if len(update.Set) > 0 {
		upd["$set"] = bson.M(update.Set)
	}
	if len(update.Unset) > 0 {
		unset := bson.M{}
		for _, path := range update.Unset {
			unset[path] = ""
		}
		upd["$unset"] = unset
	}

	res, err := s.coll.UpdateOne(ctx, doc, upd)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}
