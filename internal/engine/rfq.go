package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/repo"
)

// RFQCreateOptions are parameters for publishing an RFQ.
type RFQCreateOptions struct {
	ID          string
	Title       string
	Description string
	Items       []domain.LineItem
	Deadline    time.Time
	ActorID     string
}

func (e Engine) CreateRFQ(ctx context.Context, opts RFQCreateOptions) (domain.RFQ, error) {
	if opts.Title == "" {
		return domain.RFQ{}, validationf("title is required")
	}
	if len(opts.Items) == 0 {
		return domain.RFQ{}, validationf("rfq requires at least one line item")
	}
	for i, it := range opts.Items {
		if it.ItemRef == "" {
			return domain.RFQ{}, validationf("items[%d].item_ref is required", i)
		}
		if it.Quantity <= 0 {
			return domain.RFQ{}, validationf("items[%d].quantity must be positive", i)
		}
	}
	now := e.now()
	if !opts.Deadline.After(now) {
		return domain.RFQ{}, validationf("deadline must be in the future")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	nowStr := now.UTC().Format(time.RFC3339)
	q := domain.RFQ{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Items:       opts.Items,
		Status:      domain.RFQOpen,
		Deadline:    opts.Deadline.UTC().Format(time.RFC3339),
		CreatedBy:   opts.ActorID,
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RFQ{}, storeErr("begin create rfq", err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRFQ(ctx, tx, q); err != nil {
		return domain.RFQ{}, storeErr("insert rfq", err)
	}
	if err := e.Events.Append(ctx, tx, "rfq.created", "rfq", q.ID, opts.ActorID, events.EventPayload{
		"title":    q.Title,
		"deadline": q.Deadline,
	}); err != nil {
		return domain.RFQ{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.RFQ{}, storeErr("commit create rfq", err)
	}
	return q, nil
}

func (e Engine) GetRFQ(ctx context.Context, id string) (domain.RFQ, error) {
	q, err := e.Repo.GetRFQ(ctx, id)
	if err != nil {
		return q, notFound("rfq", id, err)
	}
	return q, nil
}

func (e Engine) ListRFQs(ctx context.Context, f repo.RFQFilters) ([]domain.RFQ, error) {
	items, err := e.Repo.ListRFQs(ctx, f)
	if err != nil {
		return nil, storeErr("list rfqs", err)
	}
	return items, nil
}

// CloseRFQ administratively closes an open RFQ. The engine honors closed as
// a terminal non-open state everywhere admission applies.
func (e Engine) CloseRFQ(ctx context.Context, rfqID, actorID string) (domain.RFQ, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RFQ{}, storeErr("begin close rfq", err)
	}
	defer tx.Rollback()

	applied, err := e.Repo.CloseRFQ(ctx, tx, rfqID, e.nowString())
	if err != nil {
		return domain.RFQ{}, storeErr("close rfq", err)
	}
	if !applied {
		q, err := e.Repo.GetRFQTx(ctx, tx, rfqID)
		if err != nil {
			return domain.RFQ{}, notFound("rfq", rfqID, err)
		}
		return domain.RFQ{}, conflict("rfq_not_open", "rfq %s is %s, only open rfqs can be closed", rfqID, q.Status)
	}
	if err := e.Events.Append(ctx, tx, "rfq.closed", "rfq", rfqID, actorID, nil); err != nil {
		return domain.RFQ{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.RFQ{}, storeErr("commit close rfq", err)
	}
	e.invalidate(rfqID)
	q, err := e.Repo.GetRFQ(ctx, rfqID)
	if err != nil {
		return domain.RFQ{}, notFound("rfq", rfqID, err)
	}
	return q, nil
}

// incrementBidCount bumps the advisory counter after a successful
// submission. The counter is not authoritative for any invariant, so a
// failure here is logged and the bid stands.
func (e Engine) incrementBidCount(ctx context.Context, rfqID string) {
	err := e.Repo.IncrementBidCount(ctx, rfqID, e.nowString())
	if err == nil {
		return
	}
	if errors.Is(err, repo.ErrNotFound) {
		e.logger().Printf("WARNING: bid count increment skipped, rfq %s no longer exists", rfqID)
		return
	}
	e.logger().Printf("WARNING: bid count increment failed for rfq %s: %v", rfqID, err)
}
