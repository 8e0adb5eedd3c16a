package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_cart/cart-service/internal/identity"
	"github.com/fjod/go_cart/pkg/domain"
)

const (
	collectionName = "carts"
	// abandoned carts are removed by Mongo after this long
	abandonedRetention = 30 * 24 * time.Hour
)

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{collection: db.Collection(collectionName)}
}

func ownerFilter(owner identity.Owner) bson.M {
	if owner.IsCustomer() {
		return bson.M{"customer_id": owner.CustomerID, "status": domain.StatusActive}
	}
	return bson.M{
		"session_id":  owner.SessionID,
		"customer_id": bson.M{"$exists": false},
		"status":      domain.StatusActive,
	}
}

func (m *mongoRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*domain.Cart, error) {
	var cart domain.Cart
	err := m.collection.FindOne(ctx, filter, opts...).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func (m *mongoRepository) GetActiveCart(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
	// newest first in case a race left two active carts behind
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return m.findOne(ctx, ownerFilter(owner), opts)
}

func (m *mongoRepository) GetCartByID(ctx context.Context, id string) (*domain.Cart, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *mongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = now
	}

	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": cart.ID}, cart, opts)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, id string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) MarkConverted(ctx context.Context, customerID string) (*domain.Cart, error) {
	filter := bson.M{"customer_id": customerID, "status": domain.StatusActive}
	update := bson.M{"$set": bson.M{
		"status":     domain.StatusConverted,
		"updated_at": time.Now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to convert cart: %w", err)
	}
	return &cart, nil
}

func (m *mongoRepository) MarkAbandoned(ctx context.Context, before, now time.Time) (int64, error) {
	filter := bson.M{
		"status": domain.StatusActive,
		"$or": bson.A{
			bson.M{"updated_at": bson.M{"$lt": before}},
			bson.M{"expires_at": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{
		"status":     domain.StatusAbandoned,
		"updated_at": now,
	}}

	result, err := m.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned carts: %w", err)
	}
	return result.ModifiedCount, nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(abandonedRetention.Seconds())).
				SetPartialFilterExpression(bson.M{"status": domain.StatusAbandoned}),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// EnsureIndexes creates indexes when repo is the Mongo implementation.
func EnsureIndexes(ctx context.Context, repo CartRepository) error {
	if m, ok := repo.(*mongoRepository); ok {
		return m.CreateIndexes(ctx)
	}
	return nil
}
