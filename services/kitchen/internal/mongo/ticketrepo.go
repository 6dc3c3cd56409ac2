package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/priority"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/mongodb"
	"github.com/appetiteclub/fulfillment/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const duplicateKeyCode = 11000

// TicketRepo keeps tickets and items in two collections. The unique index on
// tickets.order_id is what makes OrderPlaced handling idempotent.
type TicketRepo struct {
	tickets *mongo.Collection
	items   *mongo.Collection
}

func NewTicketRepo(db *mongo.Database) *TicketRepo {
	return &TicketRepo{
		tickets: db.Collection("tickets"),
		items:   db.Collection("ticket_items"),
	}
}

func (r *TicketRepo) Start(ctx context.Context) error {
	if err := mongodb.EnsureIndexes(ctx, r.tickets,
		mongodb.Index{Keys: []string{"order_id"}, Unique: true},
		mongodb.Index{Keys: []string{"status"}},
		mongodb.Index{Keys: []string{"created_at"}, Descending: true},
	); err != nil {
		return err
	}
	return mongodb.EnsureIndexes(ctx, r.items,
		mongodb.Index{Keys: []string{"ticket_id", "status"}},
	)
}

type ticketDoc struct {
	ID                  string               `bson:"_id"`
	OrderID             string               `bson:"order_id"`
	TableID             string               `bson:"table_id,omitempty"`
	UserID              string               `bson:"user_id"`
	UserEmail           string               `bson:"user_email,omitempty"`
	Status              string               `bson:"status"`
	Priority            string               `bson:"priority"`
	TotalPrice          primitive.Decimal128 `bson:"total_price"`
	SpecialInstructions string               `bson:"special_instructions,omitempty"`
	ItemCount           int                  `bson:"item_count"`
	Version             int64                `bson:"version"`
	CreatedAt           time.Time            `bson:"created_at"`
	UpdatedAt           time.Time            `bson:"updated_at"`
	ReadyAt             *time.Time           `bson:"ready_at,omitempty"`
	ServedAt            *time.Time           `bson:"served_at,omitempty"`
}

type itemDoc struct {
	ID              string               `bson:"_id"`
	TicketID        string               `bson:"ticket_id"`
	Position        int                  `bson:"position"`
	MenuItemID      string               `bson:"menu_item_id"`
	Name            string               `bson:"name"`
	Quantity        int                  `bson:"quantity"`
	UnitPrice       primitive.Decimal128 `bson:"unit_price"`
	TotalPrice      primitive.Decimal128 `bson:"total_price"`
	SpecialRequests string               `bson:"special_requests,omitempty"`
	Status          string               `bson:"status"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func (r *TicketRepo) CreateTicket(ctx context.Context, t *kitchen.Ticket) error {
	doc, err := toTicketDoc(t)
	if err != nil {
		return err
	}

	if _, err := r.tickets.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return kitchen.ErrTicketExists
		}
		return fmt.Errorf("cannot insert ticket: %w", err)
	}
	return nil
}

func (r *TicketRepo) FindTicket(ctx context.Context, id uuid.UUID) (*kitchen.Ticket, error) {
	return r.findTicket(ctx, bson.M{"_id": id.String()})
}

func (r *TicketRepo) FindTicketByOrderID(ctx context.Context, orderID string) (*kitchen.Ticket, error) {
	return r.findTicket(ctx, bson.M{"order_id": orderID})
}

func (r *TicketRepo) findTicket(ctx context.Context, filter bson.M) (*kitchen.Ticket, error) {
	var doc ticketDoc
	err := r.tickets.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find ticket: %w", err)
	}
	return fromTicketDoc(doc)
}

func (r *TicketRepo) ListTickets(ctx context.Context, filter kitchen.TicketFilter) ([]*kitchen.Ticket, error) {
	query := bson.M{}
	if filter.Status != nil {
		query["status"] = filter.Status.Code()
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.tickets.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []ticketDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode tickets: %w", err)
	}

	result := make([]*kitchen.Ticket, 0, len(docs))
	for _, doc := range docs {
		t, err := fromTicketDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// CreateItems inserts unordered so that items already stored by an earlier
// delivery are skipped while the missing ones still go in.
func (r *TicketRepo) CreateItems(ctx context.Context, items []*kitchen.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(items))
	for i, it := range items {
		doc, err := toItemDoc(it, i)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	_, err := r.items.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return fmt.Errorf("cannot insert ticket items: %w", err)
	}
	return nil
}

func (r *TicketRepo) FindItem(ctx context.Context, ticketID, itemID uuid.UUID) (*kitchen.LineItem, error) {
	var doc itemDoc
	err := r.items.FindOne(ctx, bson.M{"_id": itemID.String(), "ticket_id": ticketID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find item: %w", err)
	}
	return fromItemDoc(doc)
}

func (r *TicketRepo) ListItems(ctx context.Context, ticketID uuid.UUID) ([]*kitchen.LineItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cursor, err := r.items.Find(ctx, bson.M{"ticket_id": ticketID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list items: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode items: %w", err)
	}

	result := make([]*kitchen.LineItem, 0, len(docs))
	for _, doc := range docs {
		it, err := fromItemDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, nil
}

// UpdateItemStatus writes the item before bumping the ticket version. An
// evaluation that counted before the item write then fails its swap.
func (r *TicketRepo) UpdateItemStatus(ctx context.Context, ticketID, itemID uuid.UUID, status itemstatus.Status, at time.Time) (bool, error) {
	res, err := r.items.UpdateOne(ctx,
		bson.M{"_id": itemID.String(), "ticket_id": ticketID.String()},
		bson.M{"$set": bson.M{"status": status.Code(), "updated_at": at}},
	)
	if err != nil {
		return false, fmt.Errorf("cannot update item: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}

	if _, err := r.tickets.UpdateOne(ctx,
		bson.M{"_id": ticketID.String()},
		bson.M{"$inc": bson.M{"version": 1}, "$set": bson.M{"updated_at": at}},
	); err != nil {
		return true, fmt.Errorf("cannot bump ticket version: %w", err)
	}
	return true, nil
}

// CountItems runs one aggregation so total and matched come from the same
// snapshot.
func (r *TicketRepo) CountItems(ctx context.Context, ticketID uuid.UUID, target itemstatus.Status) (int, int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ticket_id": ticketID.String()}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": 1},
			"matched": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", target.Code()}}, 1, 0},
			}},
		}}},
	}

	cursor, err := r.items.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("cannot count items: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total   int `bson:"total"`
		Matched int `bson:"matched"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, 0, fmt.Errorf("cannot decode item counts: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].Total, rows[0].Matched, nil
}

func (r *TicketRepo) CompareAndSwapStatus(ctx context.Context, ticketID uuid.UUID, version int64, from, to ticketstatus.Status, at time.Time) (bool, error) {
	set := bson.M{"status": to.Code(), "updated_at": at}
	switch to {
	case ticketstatus.Statuses.ReadyToServe:
		set["ready_at"] = at
	case ticketstatus.Statuses.Served:
		set["served_at"] = at
	}

	res, err := r.tickets.UpdateOne(ctx,
		bson.M{"_id": ticketID.String(), "version": version, "status": from.Code()},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return false, fmt.Errorf("cannot swap ticket status: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// onlyDuplicates reports whether every write error of an unordered insert is
// a duplicate key.
func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

func toTicketDoc(t *kitchen.Ticket) (ticketDoc, error) {
	total, err := mongodb.ToDecimal128(t.TotalPrice)
	if err != nil {
		return ticketDoc{}, err
	}
	return ticketDoc{
		ID:                  t.ID.String(),
		OrderID:             t.OrderID,
		TableID:             t.TableID,
		UserID:              t.UserID,
		UserEmail:           t.UserEmail,
		Status:              t.Status.Code(),
		Priority:            t.Priority.Code(),
		TotalPrice:          total,
		SpecialInstructions: t.SpecialInstructions,
		ItemCount:           t.ItemCount,
		Version:             t.Version,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
		ReadyAt:             t.ReadyAt,
		ServedAt:            t.ServedAt,
	}, nil
}

func fromTicketDoc(doc ticketDoc) (*kitchen.Ticket, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket id %q: %w", doc.ID, err)
	}
	status, ok := ticketstatus.ByName(doc.Status)
	if !ok {
		return nil, fmt.Errorf("ticket %s has unknown status %q", doc.ID, doc.Status)
	}
	prio, ok := priority.ByName(doc.Priority)
	if !ok {
		prio = priority.Priorities.Normal
	}
	total, err := mongodb.FromDecimal128(doc.TotalPrice)
	if err != nil {
		return nil, err
	}

	return &kitchen.Ticket{
		ID:                  id,
		OrderID:             doc.OrderID,
		TableID:             doc.TableID,
		UserID:              doc.UserID,
		UserEmail:           doc.UserEmail,
		Status:              status,
		Priority:            prio,
		TotalPrice:          total,
		SpecialInstructions: doc.SpecialInstructions,
		ItemCount:           doc.ItemCount,
		Version:             doc.Version,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
		ReadyAt:             doc.ReadyAt,
		ServedAt:            doc.ServedAt,
	}, nil
}

func toItemDoc(it *kitchen.LineItem, position int) (itemDoc, error) {
	unit, err := mongodb.ToDecimal128(it.UnitPrice)
	if err != nil {
		return itemDoc{}, err
	}
	total, err := mongodb.ToDecimal128(it.TotalPrice)
	if err != nil {
		return itemDoc{}, err
	}
	return itemDoc{
		ID:              it.ID.String(),
		TicketID:        it.TicketID.String(),
		Position:        position,
		MenuItemID:      it.MenuItemID,
		Name:            it.Name,
		Quantity:        it.Quantity,
		UnitPrice:       unit,
		TotalPrice:      total,
		SpecialRequests: it.SpecialRequests,
		Status:          it.Status.Code(),
		UpdatedAt:       it.UpdatedAt,
	}, nil
}

func fromItemDoc(doc itemDoc) (*kitchen.LineItem, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid item id %q: %w", doc.ID, err)
	}
	ticketID, err := uuid.Parse(doc.TicketID)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket id %q: %w", doc.TicketID, err)
	}
	status, ok := itemstatus.ByName(doc.Status)
	if !ok {
		return nil, fmt.Errorf("item %s has unknown status %q", doc.ID, doc.Status)
	}
	unit, err := mongodb.FromDecimal128(doc.UnitPrice)
	if err != nil {
		return nil, err
	}
	total, err := mongodb.FromDecimal128(doc.TotalPrice)
	if err != nil {
		return nil, err
	}

	return &kitchen.LineItem{
		ID:              id,
		TicketID:        ticketID,
		MenuItemID:      doc.MenuItemID,
		Name:            doc.Name,
		Quantity:        doc.Quantity,
		UnitPrice:       unit,
		TotalPrice:      total,
		SpecialRequests: doc.SpecialRequests,
		Status:          status,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}
