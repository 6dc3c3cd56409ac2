package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/mongodb"
	"github.com/appetiteclub/fulfillment/services/order/internal/order"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OrderRepo struct {
	collection *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection("orders"),
	}
}

// Start creates the query indexes. Runs after the BaseRepo lifecycle.
func (r *OrderRepo) Start(ctx context.Context) error {
	return mongodb.EnsureIndexes(ctx, r.collection,
		mongodb.Index{Keys: []string{"user_id", "created_at"}},
		mongodb.Index{Keys: []string{"user_id", "status"}},
		mongodb.Index{Keys: []string{"status"}},
	)
}

type orderDoc struct {
	ID                  string               `bson:"_id"`
	UserID              string               `bson:"user_id"`
	UserEmail           string               `bson:"user_email"`
	TotalPrice          primitive.Decimal128 `bson:"total_price"`
	Status              string               `bson:"status"`
	PaymentStatus       string               `bson:"payment_status"`
	Lines               []lineDoc            `bson:"lines"`
	DeliveryAddress     string               `bson:"delivery_address"`
	PhoneNumber         string               `bson:"phone_number"`
	SpecialInstructions string               `bson:"special_instructions,omitempty"`
	Version             int64                `bson:"version"`
	CreatedAt           time.Time            `bson:"created_at"`
	UpdatedAt           time.Time            `bson:"updated_at"`
}

type lineDoc struct {
	ID              string               `bson:"id"`
	MenuItemID      string               `bson:"menu_item_id"`
	MenuItemName    string               `bson:"menu_item_name"`
	Quantity        int                  `bson:"quantity"`
	UnitPrice       primitive.Decimal128 `bson:"unit_price"`
	TotalPrice      primitive.Decimal128 `bson:"total_price"`
	SpecialRequests string               `bson:"special_requests,omitempty"`
}

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	doc, err := toDoc(o)
	if err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}

	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var doc orderDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return fromDoc(doc)
}

func (r *OrderRepo) Save(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	doc, err := toDoc(o)
	if err != nil {
		return err
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "version": versionFilter(o.Version)},
		bson.M{"$set": mutableFields(doc), "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return fmt.Errorf("cannot update order: %w", err)
	}

	if result.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": doc.ID})
		if err != nil {
			return fmt.Errorf("cannot check order %s: %w", doc.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("order %s not found", doc.ID)
		}
		return order.ErrVersionConflict
	}

	o.Version++
	return nil
}

// versionFilter matches documents written before orders carried a version
// when the order was read with version zero.
func versionFilter(version int64) interface{} {
	if version == 0 {
		return bson.M{"$in": bson.A{0, nil}}
	}
	return version
}

// mutableFields is everything Save may change. Identity, version and
// creation time are left alone.
func mutableFields(doc orderDoc) bson.M {
	return bson.M{
		"user_id":              doc.UserID,
		"user_email":           doc.UserEmail,
		"total_price":          doc.TotalPrice,
		"status":               doc.Status,
		"payment_status":       doc.PaymentStatus,
		"lines":                doc.Lines,
		"delivery_address":     doc.DeliveryAddress,
		"phone_number":         doc.PhoneNumber,
		"special_instructions": doc.SpecialInstructions,
		"updated_at":           doc.UpdatedAt,
	}
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.find(ctx, bson.M{"user_id": userID}, opts)
}

func (r *OrderRepo) PageByUser(ctx context.Context, userID string, page order.Page) ([]*order.Order, int64, error) {
	filter := bson.M{"user_id": userID}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(page.Number) * int64(page.Size)).
		SetLimit(int64(page.Size))

	orders, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListByUserBetween is inclusive on both ends.
func (r *OrderRepo) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]*order.Order, error) {
	filter := bson.M{
		"user_id":    userID,
		"created_at": bson.M{"$gte": from, "$lte": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.find(ctx, filter, opts)
}

func (r *OrderRepo) CountByUserAndStatus(ctx context.Context, userID string, status orderstatus.Status) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "status": status.Code()})
	if err != nil {
		return 0, fmt.Errorf("cannot count orders: %w", err)
	}
	return n, nil
}

func (r *OrderRepo) ListByStatus(ctx context.Context, status orderstatus.Status) ([]*order.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.find(ctx, bson.M{"status": status.Code()}, opts)
}

func (r *OrderRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*order.Order, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	result := make([]*order.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}

func toDoc(o *order.Order) (orderDoc, error) {
	total, err := mongodb.ToDecimal128(o.TotalPrice)
	if err != nil {
		return orderDoc{}, err
	}

	doc := orderDoc{
		ID:                  o.ID.String(),
		UserID:              o.UserID,
		UserEmail:           o.UserEmail,
		TotalPrice:          total,
		Status:              o.Status.Code(),
		PaymentStatus:       o.PaymentStatus.Code(),
		Lines:               make([]lineDoc, 0, len(o.Lines)),
		DeliveryAddress:     o.DeliveryAddress,
		PhoneNumber:         o.PhoneNumber,
		SpecialInstructions: o.SpecialInstructions,
		Version:             o.Version,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}

	for _, l := range o.Lines {
		unit, err := mongodb.ToDecimal128(l.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		lineTotal, err := mongodb.ToDecimal128(l.TotalPrice)
		if err != nil {
			return orderDoc{}, err
		}
		doc.Lines = append(doc.Lines, lineDoc{
			ID:              l.ID.String(),
			MenuItemID:      l.MenuItemID,
			MenuItemName:    l.MenuItemName,
			Quantity:        l.Quantity,
			UnitPrice:       unit,
			TotalPrice:      lineTotal,
			SpecialRequests: l.SpecialRequests,
		})
	}
	return doc, nil
}

func fromDoc(doc orderDoc) (*order.Order, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", doc.ID, err)
	}
	status, ok := orderstatus.ByName(doc.Status)
	if !ok {
		return nil, fmt.Errorf("order %s has unknown status %q", doc.ID, doc.Status)
	}
	payment, ok := paymentstatus.ByName(doc.PaymentStatus)
	if !ok {
		return nil, fmt.Errorf("order %s has unknown payment status %q", doc.ID, doc.PaymentStatus)
	}
	total, err := mongodb.FromDecimal128(doc.TotalPrice)
	if err != nil {
		return nil, err
	}

	o := &order.Order{
		ID:                  id,
		UserID:              doc.UserID,
		UserEmail:           doc.UserEmail,
		TotalPrice:          total,
		Status:              status,
		PaymentStatus:       payment,
		Lines:               make([]order.Line, 0, len(doc.Lines)),
		DeliveryAddress:     doc.DeliveryAddress,
		PhoneNumber:         doc.PhoneNumber,
		SpecialInstructions: doc.SpecialInstructions,
		Version:             doc.Version,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
	}

	for _, l := range doc.Lines {
		lineID, err := uuid.Parse(l.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid line id %q: %w", l.ID, err)
		}
		unit, err := mongodb.FromDecimal128(l.UnitPrice)
		if err != nil {
			return nil, err
		}
		lineTotal, err := mongodb.FromDecimal128(l.TotalPrice)
		if err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, order.Line{
			ID:              lineID,
			MenuItemID:      l.MenuItemID,
			MenuItemName:    l.MenuItemName,
			Quantity:        l.Quantity,
			UnitPrice:       unit,
			TotalPrice:      lineTotal,
			SpecialRequests: l.SpecialRequests,
		})
	}
	return o, nil
}
