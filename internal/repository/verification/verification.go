package verification

import (
	"context"
	"sentinel/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	VerificationRepo struct {
		collection *mongo.Collection
	}
)

func NewVerificationRepo(db *mongo.Database) *VerificationRepo {
	return &VerificationRepo{
		collection: db.Collection("verifications"),
	}
}

func (r *VerificationRepo) Create(ctx context.Context, v *model.Verification) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, v)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	v.ID = id
	return id, nil
}

func (r *VerificationRepo) GetBySessionID(ctx context.Context, sessionID string) (*model.Verification, error) {
	filter := bson.M{
		"session_id": sessionID,
	}

	var v model.Verification
	err := r.collection.FindOne(ctx, filter).Decode(&v)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &v, nil
}

// ListByCandidate returns the candidate's verifications, newest first.
func (r *VerificationRepo) ListByCandidate(ctx context.Context, candidateID string, limit int64) ([]*model.Verification, error) {
	filter := bson.M{
		"candidate_id": candidateID,
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var res []*model.Verification
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}
