package mongodb

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/observability"
)

const usersCollection = "users"

type UsersRepo struct {
	coll *mongo.Collection
	prom *observability.Prom
}

func NewUsersRepo(db *mongo.Database, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{coll: db.Collection(usersCollection), prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// EnsureIndexes creates the unique email index and the lookup indexes used
// by listing and shared-card queries.
func (r *UsersRepo) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "sharedWith", Value: 1}}},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "createdAt", Value: 1}}},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) error {
	if u.SharedWith == nil {
		u.SharedWith = []string{}
	}

	err := r.observe("users.create", func() error {
		_, err := r.coll.InsertOne(ctx, u)
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return user.ErrEmailTaken
	}
	return err
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.findOne(ctx, "users.get_by_id", bson.M{"_id": id})
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.findOne(ctx, "users.get_by_email", bson.M{"email": email})
}

func (r *UsersRepo) findOne(ctx context.Context, op string, filter bson.M) (user.User, error) {
	var u user.User

	err := r.observe(op, func() error {
		return r.coll.FindOne(ctx, filter).Decode(&u)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return r.updateOne(ctx, "users.update_password", bson.M{"_id": id}, bson.M{
		"$set": bson.M{"passwordHash": hash, "updatedAt": now},
	})
}

func (r *UsersRepo) UpdateEmail(ctx context.Context, id, email string, now time.Time) error {
	err := r.updateOne(ctx, "users.update_email", bson.M{"_id": id}, bson.M{
		"$set": bson.M{"email": email, "updatedAt": now},
	})
	if mongo.IsDuplicateKeyError(err) {
		return user.ErrEmailTaken
	}
	return err
}

func (r *UsersRepo) updateOne(ctx context.Context, op string, filter, update bson.M) error {
	var res *mongo.UpdateResult

	err := r.observe(op, func() error {
		var err error
		res, err = r.coll.UpdateOne(ctx, filter, update)
		return err
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, patch user.ProfilePatch, now time.Time) (user.User, error) {
	set := bson.M{}
	for k, v := range patch.Fields() {
		set[k] = v
	}
	set["updatedAt"] = now

	var u user.User
	err := r.observe("users.update_profile", func() error {
		return r.coll.FindOneAndUpdate(
			ctx,
			bson.M{"_id": id},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&u)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) SetRole(ctx context.Context, id string, role user.Role, now time.Time) (bool, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"role": bson.M{"$exists": false}},
			bson.M{"role": ""},
		},
	}

	err := r.updateOne(ctx, "users.set_role", filter, bson.M{
		"$set": bson.M{"role": role, "updatedAt": now},
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	// either the user is missing or the role was already set
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *UsersRepo) AddSharedWith(ctx context.Context, id, doctorID string, now time.Time) error {
	return r.updateOne(ctx, "users.add_shared_with", bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"sharedWith": doctorID},
		"$set":      bson.M{"updatedAt": now},
	})
}

func (r *UsersRepo) List(ctx context.Context, f user.ListFilter) ([]user.User, int64, error) {
	f = f.Normalize()
	filter := listFilter(f)

	var (
		items []user.User
		total int64
	)

	err := r.observe("users.list", func() error {
		var err error
		total, err = r.coll.CountDocuments(ctx, filter)
		if err != nil {
			return err
		}

		opts := options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
			SetSkip(int64(f.Offset())).
			SetLimit(int64(f.Limit))

		cursor, err := r.coll.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		return cursor.All(ctx, &items)
	})
	if err != nil {
		return nil, 0, err
	}

	if items == nil {
		items = []user.User{}
	}
	return items, total, nil
}

func listFilter(f user.ListFilter) bson.M {
	filter := bson.M{}

	if f.Role != nil {
		filter["role"] = string(*f.Role)
	}
	if f.Position != nil {
		filter["position"] = bson.Regex{Pattern: "^" + regexp.QuoteMeta(*f.Position) + "$", Options: "i"}
	}
	if f.SharedWith != nil {
		filter["sharedWith"] = *f.SharedWith
	}
	if f.Search != nil && *f.Search != "" {
		rx := bson.Regex{Pattern: regexp.QuoteMeta(*f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"firstName": rx},
			bson.M{"lastName": rx},
			bson.M{"middleName": rx},
			bson.M{"email": rx},
		}
	}

	return filter
}
