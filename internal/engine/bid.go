package engine

import (
	"context"

	"github.com/google/uuid"

	"sourceline/internal/domain"
	"sourceline/internal/engine/identity"
	"sourceline/internal/events"
	"sourceline/internal/repo"
)

// SubmitBidOptions are parameters for a new bid submission.
type SubmitBidOptions struct {
	RFQID        string
	SupplierID   string
	Items        []domain.BidItem
	ContactEmail string
	ActorID      string
}

// Submit admits, creates and counts a new bid. Creation precedes the count
// increment; the increment is advisory and its failure does not undo the bid.
func (e Engine) Submit(ctx context.Context, opts SubmitBidOptions) (domain.Bid, error) {
	if opts.SupplierID == "" {
		return domain.Bid{}, validationf("supplier_id is required")
	}
	rfq, err := e.Repo.GetRFQ(ctx, opts.RFQID)
	if err != nil {
		return domain.Bid{}, notFound("rfq", opts.RFQID, err)
	}
	if err := e.admit(rfq); err != nil {
		return domain.Bid{}, err
	}
	if err := e.catalog().ValidateItems(rfq, opts.Items); err != nil {
		return domain.Bid{}, err
	}
	nowStr := e.nowString()
	b := domain.Bid{
		ID:           uuid.New().String(),
		RFQID:        opts.RFQID,
		SupplierID:   opts.SupplierID,
		Items:        opts.Items,
		TotalAmount:  domain.TotalOf(opts.Items),
		Status:       domain.BidSubmitted,
		ContactEmail: opts.ContactEmail,
		SubmittedAt:  nowStr,
		UpdatedAt:    nowStr,
	}
	// advisory pre-check outside the write transaction; the partial unique
	// index is the authority under races
	exists, err := e.Repo.ActiveBidExists(ctx, opts.RFQID, opts.SupplierID)
	if err != nil {
		return domain.Bid{}, storeErr("check active bid", err)
	}
	if exists {
		return domain.Bid{}, conflict("one_active_bid", "active bid exists for supplier %s on rfq %s", opts.SupplierID, opts.RFQID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin submit", err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertBid(ctx, tx, b); err != nil {
		// the partial unique index catches the race the pre-check missed
		if repo.IsUniqueViolation(err) {
			return domain.Bid{}, conflict("one_active_bid", "active bid exists for supplier %s on rfq %s", opts.SupplierID, opts.RFQID)
		}
		return domain.Bid{}, storeErr("insert bid", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.submitted", "bid", b.ID, opts.ActorID, events.EventPayload{
		"rfq_id": b.RFQID,
		"total":  b.TotalAmount.String(),
	}); err != nil {
		return domain.Bid{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Bid{}, conflict("one_active_bid", "active bid exists for supplier %s on rfq %s", opts.SupplierID, opts.RFQID)
		}
		return domain.Bid{}, storeErr("commit submit", err)
	}

	e.incrementBidCount(ctx, opts.RFQID)
	e.invalidate(opts.RFQID)
	return b, nil
}

// UpdateBidOptions patch a freshly submitted bid.
type UpdateBidOptions struct {
	BidID        string
	SupplierID   string
	Items        []domain.BidItem
	ContactEmail *string
	ActorID      string
}

// Update re-prices a bid. Only bids still in submitted may change; the RFQ
// gate is re-checked so a pre-deadline bid cannot be edited afterwards. All
// checks run inside the write transaction so a concurrently committed
// transition is seen, never overwritten.
func (e Engine) Update(ctx context.Context, opts UpdateBidOptions) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin update bid", err)
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, opts.BidID)
	if err != nil {
		return b, notFound("bid", opts.BidID, err)
	}
	if opts.SupplierID != "" && b.SupplierID != opts.SupplierID {
		return b, identity.ForbiddenError{Reason: "bid belongs to another supplier"}
	}
	rfq, err := e.Repo.GetRFQTx(ctx, tx, b.RFQID)
	if err != nil {
		return b, notFound("rfq", b.RFQID, err)
	}
	if err := e.admit(rfq); err != nil {
		return b, err
	}
	if b.Status != domain.BidSubmitted {
		return b, conflict("bid_not_editable", "bid %s is %s, only submitted bids can be updated", b.ID, b.Status)
	}
	if len(opts.Items) > 0 {
		if err := e.catalog().ValidateItems(rfq, opts.Items); err != nil {
			return b, err
		}
		b.Items = opts.Items
		b.TotalAmount = domain.TotalOf(opts.Items)
	}
	if opts.ContactEmail != nil {
		b.ContactEmail = *opts.ContactEmail
	}
	b.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return b, storeErr("update bid", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.updated", "bid", b.ID, opts.ActorID, events.EventPayload{
		"total": b.TotalAmount.String(),
	}); err != nil {
		return b, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return b, storeErr("commit update bid", err)
	}
	e.invalidate(b.RFQID)
	return b, nil
}

// Withdraw retires an active bid at its owner's request. The admission gate
// applies, so withdrawal after the deadline is a conflict even for bids that
// were admitted in time.
func (e Engine) Withdraw(ctx context.Context, bidID, supplierID, actorID string) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin withdraw", err)
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return b, notFound("bid", bidID, err)
	}
	if supplierID != "" && b.SupplierID != supplierID {
		return b, identity.ForbiddenError{Reason: "bid belongs to another supplier"}
	}
	if !b.Active() {
		return b, conflict("bid_terminal", "bid %s is %s and cannot be withdrawn", b.ID, b.Status)
	}
	rfq, err := e.Repo.GetRFQTx(ctx, tx, b.RFQID)
	if err != nil {
		return b, notFound("rfq", b.RFQID, err)
	}
	if err := e.admit(rfq); err != nil {
		return b, err
	}
	prior := b.Status
	b.Status = domain.BidWithdrawn
	b.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return b, storeErr("withdraw bid", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.withdrawn", "bid", b.ID, actorID, events.EventPayload{
		"from_status": prior,
	}); err != nil {
		return b, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return b, storeErr("commit withdraw", err)
	}
	e.invalidate(b.RFQID)
	return b, nil
}

func (e Engine) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	b, err := e.Repo.GetBid(ctx, id)
	if err != nil {
		return b, notFound("bid", id, err)
	}
	return b, nil
}

// ListForRFQ returns the raw bid list for downstream disclosure filtering.
// Callers must project the result through Disclose before it leaves the core.
func (e Engine) ListForRFQ(ctx context.Context, rfqID string) ([]domain.Bid, error) {
	if _, err := e.Repo.GetRFQ(ctx, rfqID); err != nil {
		return nil, notFound("rfq", rfqID, err)
	}
	bids, err := e.Repo.ListBidsForRFQ(ctx, rfqID)
	if err != nil {
		return nil, storeErr("list bids", err)
	}
	return bids, nil
}

// MyBids lists a supplier's own bids, newest first.
func (e Engine) MyBids(ctx context.Context, supplierID string) ([]domain.Bid, error) {
	bids, err := e.Repo.ListBidsBySupplier(ctx, supplierID)
	if err != nil {
		return nil, storeErr("list supplier bids", err)
	}
	return bids, nil
}
