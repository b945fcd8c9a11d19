package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-portal/backend/conversation/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoRepository stores each conversation as one document with its messages embedded
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, coll *mongo.Collection) *MongoRepository {
	return &MongoRepository{client: client, coll: coll}
}

// EnsureIndexes creates the indexes the query layer and archival sweep rely on
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}}, Options: options.Index().SetName("user_idx")},
		{Keys: bson.D{{Key: "context.role", Value: 1}}, Options: options.Index().SetName("role_idx")},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "lastActive", Value: 1}},
			Options: options.Index().SetName("status_last_active_idx"),
		},
	})
	return err
}

func (r *MongoRepository) Create(ctx context.Context, c *models.Conversation) error {
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("conversation %s: %w", c.ID, models.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// Update replaces the whole document, guarded by the version it was read at
func (r *MongoRepository) Update(ctx context.Context, c *models.Conversation) error {
	next := *c
	next.Version = c.Version + 1
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": c.ID, "version": c.Version}, &next)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": c.ID}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("conversation %s: %w", c.ID, models.ErrNotFound)
		}
		return fmt.Errorf("conversation %s: %w", c.ID, models.ErrConflict)
	}
	c.Version = next.Version
	return nil
}

// mongoFilter translates f into a query document
func mongoFilter(f Filter) bson.M {
	q := bson.M{}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.UserID != "" {
		q["user"] = f.UserID
	}
	if f.Role != "" {
		q["context.role"] = f.Role
	}
	if !f.InactiveBefore.IsZero() {
		q["lastActive"] = bson.M{"$lt": f.InactiveBefore}
	}
	if f.UnreadOnly {
		q["messages"] = bson.M{"$elemMatch": bson.M{
			"read":   false,
			"sender": bson.M{"$ne": models.SenderUser},
		}}
	}
	return q
}

func (r *MongoRepository) Iterate(ctx context.Context, f Filter, fn func(*models.Conversation) bool) error {
	opts := options.Find().SetSort(bson.D{{Key: "lastActive", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := r.coll.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return err
		}
		if !fn(&c) {
			return nil
		}
	}
	return cur.Err()
}

func (r *MongoRepository) FindIDs(ctx context.Context, f Filter) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "lastActive", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := r.coll.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func (r *MongoRepository) ArchiveByIDs(ctx context.Context, ids []string, cutoff, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"_id":        bson.M{"$in": ids},
			"status":     models.StatusActive,
			"lastActive": bson.M{"$lt": cutoff},
		},
		bson.M{
			"$set": bson.M{"status": models.StatusArchived, "updatedAt": now},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}
