package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/geocoder89/medcard/internal/domain/verification"
	"github.com/geocoder89/medcard/internal/observability"
)

const codesCollection = "verification_codes"

type CodesRepo struct {
	coll *mongo.Collection
	prom *observability.Prom
}

func NewCodesRepo(db *mongo.Database, prom *observability.Prom) *CodesRepo {
	return &CodesRepo{coll: db.Collection(codesCollection), prom: prom}
}

func (r *CodesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// EnsureIndexes makes email unique and lets the server reap codes once
// they expire. Redeem still checks createdAt since the TTL monitor only
// runs about once a minute.
func (r *CodesRepo) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(verification.TTL.Seconds())),
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (r *CodesRepo) Replace(ctx context.Context, c verification.Code) error {
	replace := func() error {
		_, err := r.coll.ReplaceOne(
			ctx,
			bson.M{"email": c.Email},
			c,
			options.Replace().SetUpsert(true),
		)
		return err
	}

	err := r.observe("codes.replace", replace)
	// two concurrent upserts for a new email: one wins the insert, the
	// other has to replace it
	if mongo.IsDuplicateKeyError(err) {
		err = r.observe("codes.replace", replace)
	}
	return err
}

func (r *CodesRepo) Consume(ctx context.Context, email, code string, notBefore time.Time) error {
	filter := bson.M{
		"email":     email,
		"code":      code,
		"createdAt": bson.M{"$gt": notBefore},
	}

	err := r.observe("codes.consume", func() error {
		return r.coll.FindOneAndDelete(ctx, filter).Err()
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return verification.ErrNotFound
	}
	return err
}

func (r *CodesRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64

	err := r.observe("codes.purge_expired", func() error {
		res, err := r.coll.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lte": before}})
		if err != nil {
			return err
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}
