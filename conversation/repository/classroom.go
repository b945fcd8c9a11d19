package repository

import (
	"context"
	"errors"
	"fmt"

	"school-portal/backend/pkg/cache"
	"school-portal/backend/pkg/resilience"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

// GormClassroomDirectory resolves classroom references against the classrooms table
type GormClassroomDirectory struct {
	db    *gorm.DB
	table string
}

func NewGormClassroomDirectory(db *gorm.DB) *GormClassroomDirectory {
	return &GormClassroomDirectory{db: db, table: "classrooms"}
}

func (d *GormClassroomDirectory) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Table(d.table).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// MongoClassroomDirectory resolves classroom references against the classrooms collection.
// Ids may be stored as ObjectIDs or plain strings.
type MongoClassroomDirectory struct {
	coll *mongo.Collection
}

func NewMongoClassroomDirectory(coll *mongo.Collection) *MongoClassroomDirectory {
	return &MongoClassroomDirectory{coll: coll}
}

func (d *MongoClassroomDirectory) Exists(ctx context.Context, id string) (bool, error) {
	filter := bson.M{"_id": id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	n, err := d.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	return n > 0, err
}

// StaticClassroomDirectory is a fixed set of classroom ids
type StaticClassroomDirectory map[string]struct{}

func NewStaticClassroomDirectory(ids ...string) StaticClassroomDirectory {
	d := make(StaticClassroomDirectory, len(ids))
	for _, id := range ids {
		d[id] = struct{}{}
	}
	return d
}

func (d StaticClassroomDirectory) Exists(_ context.Context, id string) (bool, error) {
	_, ok := d[id]
	return ok, nil
}

// ClassroomLookup is satisfied by every directory above
type ClassroomLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// CachedClassroomDirectory remembers classrooms that were found and trips a breaker
// when the backing store keeps failing. Misses are never cached so a newly created
// classroom becomes valid immediately.
type CachedClassroomDirectory struct {
	next    ClassroomLookup
	found   *cache.Cache[struct{}]
	breaker *resilience.CircuitBreaker
}

func NewCachedClassroomDirectory(next ClassroomLookup, found *cache.Cache[struct{}], breaker *resilience.CircuitBreaker) *CachedClassroomDirectory {
	return &CachedClassroomDirectory{next: next, found: found, breaker: breaker}
}

func (d *CachedClassroomDirectory) Exists(ctx context.Context, id string) (bool, error) {
	if d.found != nil {
		if _, ok := d.found.Get(id); ok {
			return true, nil
		}
	}

	var exists bool
	lookup := func(ctx context.Context) error {
		var err error
		exists, err = d.next.Exists(ctx, id)
		return err
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(ctx, lookup)
	} else {
		err = lookup(ctx)
	}
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return false, fmt.Errorf("classroom directory unavailable: %w", err)
		}
		return false, err
	}

	if exists && d.found != nil {
		d.found.Set(id, struct{}{})
	}
	return exists, nil
}
