package kitchen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func placedEvent(lines int) event.OrderEvent {
	evt := event.OrderEvent{
		EventType:  event.EventOrderPlaced,
		OrderID:    uuid.NewString(),
		UserID:     "user-1",
		UserEmail:  "user@example.com",
		TotalPrice: decimal.RequireFromString("50.97"),
		Status:     "PENDING",
	}
	for i := 0; i < lines; i++ {
		evt.Lines = append(evt.Lines, event.OrderLine{
			MenuItemID:   fmt.Sprintf("m-%d", i),
			MenuItemName: fmt.Sprintf("Dish %d", i),
			Quantity:     1,
			UnitPrice:    decimal.RequireFromString("9.99"),
			TotalPrice:   decimal.RequireFromString("9.99"),
		})
	}
	return evt
}

func newTestAggregator() (*Aggregator, *MockTicketRepository, *MockPublisher) {
	repo := NewMockTicketRepository()
	pub := NewMockPublisher()
	return NewAggregator(repo, pub, nil), repo, pub
}

func setAll(t *testing.T, a *Aggregator, ticketID uuid.UUID, status itemstatus.Status) {
	t.Helper()
	items, err := a.ListItems(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	for _, it := range items {
		if _, err := a.UpdateItemStatus(context.Background(), ticketID, it.ID, status); err != nil {
			t.Fatalf("UpdateItemStatus() error = %v", err)
		}
	}
}

func TestOnOrderPlaced(t *testing.T) {
	a, repo, _ := newTestAggregator()
	evt := placedEvent(3)

	ticket, err := a.OnOrderPlaced(context.Background(), evt)
	if err != nil {
		t.Fatalf("OnOrderPlaced() error = %v", err)
	}
	if ticket.Status != ticketstatus.Statuses.Pending {
		t.Errorf("Status = %s, want PENDING", ticket.Status)
	}
	if ticket.OrderID != evt.OrderID || ticket.UserEmail != evt.UserEmail {
		t.Errorf("ticket = %+v, want copy of the order snapshot", ticket)
	}
	if !ticket.TotalPrice.Equal(evt.TotalPrice) {
		t.Errorf("TotalPrice = %s, want %s", ticket.TotalPrice, evt.TotalPrice)
	}

	items, _ := repo.ListItems(context.Background(), ticket.ID)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	for i, it := range items {
		if it.Status != itemstatus.Statuses.Pending {
			t.Errorf("item %d status = %s, want PENDING", i, it.Status)
		}
		if it.ID != ItemID(ticket.ID, i) {
			t.Errorf("item %d id is not deterministic", i)
		}
	}
}

func TestOnOrderPlacedIsIdempotent(t *testing.T) {
	a, repo, _ := newTestAggregator()
	evt := placedEvent(2)

	first, err := a.OnOrderPlaced(context.Background(), evt)
	if err != nil {
		t.Fatalf("first OnOrderPlaced() error = %v", err)
	}
	second, err := a.OnOrderPlaced(context.Background(), evt)
	if err != nil {
		t.Fatalf("second OnOrderPlaced() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("redelivery created a second ticket: %s vs %s", first.ID, second.ID)
	}
	if n := repo.ItemCount(); n != 2 {
		t.Errorf("items = %d, want 2", n)
	}
}

func TestOnOrderPlacedRepairsHalfAppliedDelivery(t *testing.T) {
	a, repo, _ := newTestAggregator()
	evt := placedEvent(3)

	repo.CreateItemsFunc = func(context.Context, []*LineItem) error { return errors.New("connection reset") }
	if _, err := a.OnOrderPlaced(context.Background(), evt); err == nil {
		t.Fatal("OnOrderPlaced() should fail when items cannot be stored")
	}
	if repo.ItemCount() != 0 {
		t.Fatal("no items should be stored yet")
	}

	repo.CreateItemsFunc = nil
	ticket, err := a.OnOrderPlaced(context.Background(), evt)
	if err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	items, _ := repo.ListItems(context.Background(), ticket.ID)
	if len(items) != 3 {
		t.Errorf("items after redelivery = %d, want 3", len(items))
	}
}

func TestPartiallyStoredTicketIsNotReady(t *testing.T) {
	a, repo, pub := newTestAggregator()
	ctx := context.Background()
	evt := placedEvent(3)

	// The first item lands, then the write fails.
	repo.CreateItemsFunc = func(ctx context.Context, items []*LineItem) error {
		if err := repo.MemoryTicketRepository.CreateItems(ctx, items[:1]); err != nil {
			return err
		}
		return errors.New("connection reset")
	}
	if _, err := a.OnOrderPlaced(ctx, evt); err == nil {
		t.Fatal("OnOrderPlaced() should fail when items cannot be stored")
	}
	repo.CreateItemsFunc = nil

	ticket, err := repo.FindTicketByOrderID(ctx, evt.OrderID)
	if err != nil || ticket == nil {
		t.Fatalf("ticket not stored: %v", err)
	}
	if ticket.ItemCount != 3 {
		t.Fatalf("ItemCount = %d, want 3", ticket.ItemCount)
	}
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)

	check, err := a.CheckReadiness(ctx, ticket.ID, itemstatus.Status{})
	if err != nil {
		t.Fatalf("CheckReadiness() error = %v", err)
	}
	if check.Ready || check.Total != 1 || check.Matched != 1 {
		t.Errorf("check = %+v, want not ready with 1 of 1 stored items matched", check)
	}

	r, err := a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Status{})
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if r.Ready || r.Transitioned || r.Status != ticketstatus.Statuses.Pending {
		t.Errorf("readiness = %+v, want PENDING and not ready", r)
	}
	if n := len(pub.Notifications()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}

	// The redelivery stores the rest and the ticket can then complete.
	if _, err := a.OnOrderPlaced(ctx, evt); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)
	r, err = a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Status{})
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if !r.Transitioned || r.Total != 3 {
		t.Errorf("readiness = %+v, want a transition over 3 items", r)
	}
}

func TestOnOrderPlacedValidation(t *testing.T) {
	tests := []struct {
		name string
		evt  event.OrderEvent
	}{
		{name: "missingOrderID", evt: event.OrderEvent{Lines: placedEvent(1).Lines}},
		{name: "noLines", evt: event.OrderEvent{OrderID: uuid.NewString()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newTestAggregator()
			if _, err := a.OnOrderPlaced(context.Background(), tt.evt); !errors.Is(err, core.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestUpdateItemStatus(t *testing.T) {
	a, repo, _ := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(1))
	itemID := ItemID(ticket.ID, 0)

	item, err := a.UpdateItemStatus(context.Background(), ticket.ID, itemID, itemstatus.Statuses.Preparing)
	if err != nil {
		t.Fatalf("UpdateItemStatus() error = %v", err)
	}
	if item.Status != itemstatus.Statuses.Preparing {
		t.Errorf("Status = %s, want PREPARING", item.Status)
	}

	after, _ := repo.FindTicket(context.Background(), ticket.ID)
	if after.Version != ticket.Version+1 {
		t.Errorf("Version = %d, want %d", after.Version, ticket.Version+1)
	}

	if _, err := a.UpdateItemStatus(context.Background(), ticket.ID, uuid.New(), itemstatus.Statuses.Ready); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown item error = %v, want ErrNotFound", err)
	}
	if _, err := a.UpdateItemStatus(context.Background(), ticket.ID, itemID, itemstatus.Status{}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("zero status error = %v, want ErrValidation", err)
	}
}

func TestEvaluateTicketReadiness(t *testing.T) {
	a, _, pub := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(3))
	ctx := context.Background()

	r, err := a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Statuses.Ready)
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if r.Ready || r.Transitioned || r.Total != 3 || r.Matched != 0 {
		t.Errorf("readiness = %+v, want not ready with 0/3", r)
	}

	items, _ := a.ListItems(ctx, ticket.ID)
	_, _ = a.UpdateItemStatus(ctx, ticket.ID, items[0].ID, itemstatus.Statuses.Ready)
	_, _ = a.UpdateItemStatus(ctx, ticket.ID, items[1].ID, itemstatus.Statuses.Ready)

	r, _ = a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Statuses.Ready)
	if r.Ready || r.Matched != 2 {
		t.Errorf("readiness = %+v, want not ready with 2/3", r)
	}

	_, _ = a.UpdateItemStatus(ctx, ticket.ID, items[2].ID, itemstatus.Statuses.Ready)

	r, err = a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Statuses.Ready)
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if !r.Ready || !r.Transitioned || r.Status != ticketstatus.Statuses.ReadyToServe {
		t.Errorf("readiness = %+v, want transitioned to READY_TO_SERVE", r)
	}

	again, err := a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Statuses.Ready)
	if err != nil {
		t.Fatalf("second evaluation error = %v", err)
	}
	if !again.Ready || again.Transitioned {
		t.Errorf("second evaluation = %+v, want ready without a transition", again)
	}

	if n := pub.Count(event.EventTicketReady); n != 1 {
		t.Errorf("TICKET_READY published %d times, want 1", n)
	}
	notes := pub.Notifications()
	if len(notes[0].Lines) != 3 || notes[0].Lines[0].Status != "READY" {
		t.Errorf("notification lines = %+v, want the re-read READY items", notes[0].Lines)
	}
}

func TestEvaluateTicketReadinessCustomTarget(t *testing.T) {
	a, _, _ := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(2))
	setAll(t, a, ticket.ID, itemstatus.Statuses.Preparing)

	r, err := a.EvaluateTicketReadiness(context.Background(), ticket.ID, itemstatus.Statuses.Preparing)
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if !r.Transitioned {
		t.Errorf("readiness = %+v, want transition at target PREPARING", r)
	}
}

func TestEvaluateTicketReadinessRetriesOnConflict(t *testing.T) {
	a, repo, pub := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(2))
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)

	var bumps int32
	repo.BeforeCASFunc = func(id uuid.UUID) {
		// Two concurrent item writes land between the count and the swap.
		if atomic.AddInt32(&bumps, 1) <= 2 {
			_, _ = repo.UpdateItemStatus(context.Background(), id, ItemID(id, 0), itemstatus.Statuses.Ready, time.Now())
		}
	}

	r, err := a.EvaluateTicketReadiness(context.Background(), ticket.ID, itemstatus.Statuses.Ready)
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if !r.Transitioned {
		t.Errorf("readiness = %+v, want transition after retries", r)
	}
	if got := atomic.LoadInt32(&bumps); got != 3 {
		t.Errorf("swap attempts = %d, want 3", got)
	}
	if n := pub.Count(event.EventTicketReady); n != 1 {
		t.Errorf("TICKET_READY published %d times, want 1", n)
	}
}

func TestEvaluateTicketReadinessSeesLateRegression(t *testing.T) {
	a, repo, pub := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(2))
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)

	var once int32
	repo.BeforeCASFunc = func(id uuid.UUID) {
		if atomic.AddInt32(&once, 1) == 1 {
			_, _ = repo.UpdateItemStatus(context.Background(), id, ItemID(id, 1), itemstatus.Statuses.Preparing, time.Now())
		}
	}

	r, err := a.EvaluateTicketReadiness(context.Background(), ticket.ID, itemstatus.Statuses.Ready)
	if err != nil {
		t.Fatalf("EvaluateTicketReadiness() error = %v", err)
	}
	if r.Ready || r.Transitioned || r.Matched != 1 {
		t.Errorf("readiness = %+v, want not ready after the item regressed", r)
	}
	if pub.Count(event.EventTicketReady) != 0 {
		t.Error("no notification expected")
	}
}

func TestEvaluateTicketReadinessGivesUpUnderContention(t *testing.T) {
	a, repo, _ := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(1))
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)

	repo.BeforeCASFunc = func(id uuid.UUID) {
		_, _ = repo.UpdateItemStatus(context.Background(), id, ItemID(id, 0), itemstatus.Statuses.Ready, time.Now())
	}

	if _, err := a.EvaluateTicketReadiness(context.Background(), ticket.ID, itemstatus.Statuses.Ready); !errors.Is(err, core.ErrIllegalState) {
		t.Errorf("error = %v, want ErrIllegalState after bounded retries", err)
	}
}

// TestEvaluateTicketReadinessExactlyOnce races item updates against many
// evaluators in randomized orders. Across all callers exactly one must
// observe the transition and exactly one notification must go out.
func TestEvaluateTicketReadinessExactlyOnce(t *testing.T) {
	const (
		rounds     = 50
		items      = 5
		evaluators = 8
		calls      = 6
	)

	for round := 0; round < rounds; round++ {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			a, repo, pub := newTestAggregator()
			ctx := context.Background()
			ticket, err := a.OnOrderPlaced(ctx, placedEvent(items))
			if err != nil {
				t.Fatal(err)
			}

			rng := rand.New(rand.NewSource(int64(round)))
			delays := make([]time.Duration, items+evaluators)
			for i := range delays {
				delays[i] = time.Duration(rng.Intn(200)) * time.Microsecond
			}

			var transitions int32
			g, gctx := errgroup.WithContext(ctx)

			for i := 0; i < items; i++ {
				i := i
				g.Go(func() error {
					time.Sleep(delays[i])
					id := ItemID(ticket.ID, i)
					if _, err := a.UpdateItemStatus(gctx, ticket.ID, id, itemstatus.Statuses.Preparing); err != nil {
						return err
					}
					_, err := a.UpdateItemStatus(gctx, ticket.ID, id, itemstatus.Statuses.Ready)
					return err
				})
			}

			for e := 0; e < evaluators; e++ {
				e := e
				g.Go(func() error {
					time.Sleep(delays[items+e])
					for c := 0; c < calls; c++ {
						r, err := a.EvaluateTicketReadiness(gctx, ticket.ID, itemstatus.Statuses.Ready)
						if err != nil {
							return err
						}
						if r.Transitioned {
							atomic.AddInt32(&transitions, 1)
						}
					}
					return nil
				})
			}

			if err := g.Wait(); err != nil {
				t.Fatalf("concurrent run error = %v", err)
			}

			r, err := a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Statuses.Ready)
			if err != nil {
				t.Fatal(err)
			}
			if r.Transitioned {
				atomic.AddInt32(&transitions, 1)
			}

			if got := atomic.LoadInt32(&transitions); got != 1 {
				t.Errorf("transitions = %d, want exactly 1", got)
			}
			final, _ := repo.FindTicket(ctx, ticket.ID)
			if final.Status != ticketstatus.Statuses.ReadyToServe {
				t.Errorf("final status = %s, want READY_TO_SERVE", final.Status)
			}
			if n := pub.Count(event.EventTicketReady); n != 1 {
				t.Errorf("TICKET_READY published %d times, want 1", n)
			}
		})
	}
}

func TestCompleteTicket(t *testing.T) {
	a, _, pub := newTestAggregator()
	ctx := context.Background()
	ticket, _ := a.OnOrderPlaced(ctx, placedEvent(2))

	if _, err := a.CompleteTicket(ctx, ticket.ID); !errors.Is(err, core.ErrIllegalState) {
		t.Errorf("complete from PENDING error = %v, want ErrIllegalState", err)
	}

	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)
	if _, err := a.EvaluateTicketReadiness(ctx, ticket.ID, itemstatus.Statuses.Ready); err != nil {
		t.Fatal(err)
	}

	served, err := a.CompleteTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("CompleteTicket() error = %v", err)
	}
	if served.Status != ticketstatus.Statuses.Served || served.ServedAt == nil {
		t.Errorf("ticket = %+v, want SERVED with timestamp", served)
	}

	again, err := a.CompleteTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("second CompleteTicket() error = %v", err)
	}
	if again.Version != served.Version {
		t.Error("second completion must be a no-op")
	}

	if n := pub.Count(event.EventTicketServed); n != 1 {
		t.Errorf("TICKET_SERVED published %d times, want 1", n)
	}

	if _, err := a.CompleteTicket(ctx, uuid.New()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown ticket error = %v, want ErrNotFound", err)
	}
}

func TestCheckReadinessIsReadOnly(t *testing.T) {
	a, repo, pub := newTestAggregator()
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(2))
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)

	r, err := a.CheckReadiness(context.Background(), ticket.ID, itemstatus.Status{})
	if err != nil {
		t.Fatalf("CheckReadiness() error = %v", err)
	}
	if !r.Ready || r.Target != itemstatus.Statuses.Ready || r.Status != ticketstatus.Statuses.Pending {
		t.Errorf("readiness = %+v, want ready with ticket still PENDING", r)
	}

	stored, _ := repo.FindTicket(context.Background(), ticket.ID)
	if stored.Status != ticketstatus.Statuses.Pending {
		t.Error("CheckReadiness must not change the ticket")
	}
	if len(pub.Notifications()) != 0 {
		t.Error("CheckReadiness must not publish")
	}
}

func TestPublishFailureKeepsTransition(t *testing.T) {
	a, repo, pub := newTestAggregator()
	pub.PublishFunc = func(context.Context, string, []byte) error { return errors.New("bus down") }
	ticket, _ := a.OnOrderPlaced(context.Background(), placedEvent(1))
	setAll(t, a, ticket.ID, itemstatus.Statuses.Ready)

	r, err := a.EvaluateTicketReadiness(context.Background(), ticket.ID, itemstatus.Statuses.Ready)
	if err != nil || !r.Transitioned {
		t.Fatalf("EvaluateTicketReadiness() = %+v, %v", r, err)
	}
	stored, _ := repo.FindTicket(context.Background(), ticket.ID)
	if stored.Status != ticketstatus.Statuses.ReadyToServe {
		t.Error("transition must stay committed when publishing fails")
	}
}
