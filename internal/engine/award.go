package engine

import (
	"context"
	"errors"
	"time"

	"sourceline/internal/domain"
	"sourceline/internal/events"
)

const awardAttempts = 3

// Accept awards an RFQ to one bid. The winning bid, the RFQ award and every
// competitor rejection commit in a single transaction, so readers never see
// an accepted bid on a still-open RFQ or a half-rejected field. Transient
// lock contention is retried; a repeat call for the already awarded bid is a
// no-op.
func (e Engine) Accept(ctx context.Context, bidID, actorID string) (domain.Bid, error) {
	approver := e.approver(actorID)
	var lastErr error
	for attempt := 0; attempt < awardAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		b, err := e.acceptOnce(ctx, bidID, approver)
		var se StoreError
		if err != nil && errors.As(err, &se) && se.Retryable {
			lastErr = err
			continue
		}
		return b, err
	}
	e.logger().Printf("ERROR award of bid %s exhausted retries: %v", bidID, lastErr)
	var se StoreError
	errors.As(lastErr, &se)
	se.Fatal = true
	return domain.Bid{}, se
}

func (e Engine) acceptOnce(ctx context.Context, bidID, approver string) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin award", err)
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return b, notFound("bid", bidID, err)
	}
	rfq, err := e.Repo.GetRFQTx(ctx, tx, b.RFQID)
	if err != nil {
		return b, notFound("rfq", b.RFQID, err)
	}
	if b.Status == domain.BidAccepted && rfq.AwardedBidID != nil && *rfq.AwardedBidID == b.ID {
		return b, nil
	}
	if rfq.Status != domain.RFQOpen {
		return b, conflict("rfq_not_open", "rfq %s is %s and cannot be awarded", rfq.ID, rfq.Status)
	}
	if !b.Active() {
		return b, conflict("bid_terminal", "bid %s is %s and cannot be accepted", b.ID, b.Status)
	}

	nowStr := e.nowString()
	b.Status = domain.BidAccepted
	b.ReviewedAt = &nowStr
	b.ReviewedBy = &approver
	b.UpdatedAt = nowStr
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return b, storeErr("accept bid", err)
	}
	applied, err := e.Repo.AwardRFQ(ctx, tx, rfq.ID, b.ID, nowStr)
	if err != nil {
		return b, storeErr("award rfq", err)
	}
	if !applied {
		// the conditional update lost to a concurrent transition; re-read
		// outside the transaction so the error names the actual status
		tx.Rollback()
		cur, rerr := e.Repo.GetRFQ(ctx, rfq.ID)
		if rerr != nil || cur.Status == domain.RFQOpen {
			return b, conflict("rfq_not_open", "rfq %s is no longer open and cannot be awarded", rfq.ID)
		}
		return b, conflict("rfq_not_open", "rfq %s is %s and cannot be awarded", cur.ID, cur.Status)
	}

	competitors, err := e.Repo.ListBidsForRFQTx(ctx, tx, rfq.ID)
	if err != nil {
		return b, storeErr("list competing bids", err)
	}
	rejected := make([]string, 0, len(competitors))
	for _, c := range competitors {
		if c.ID == b.ID || !c.Active() {
			continue
		}
		c.Status = domain.BidRejected
		c.Reason = domain.RejectedCompeting
		c.ReviewedAt = &nowStr
		c.ReviewedBy = &approver
		c.UpdatedAt = nowStr
		if err := e.Repo.UpdateBid(ctx, tx, c); err != nil {
			return b, storeErr("reject competing bid", err)
		}
		if err := e.Events.Append(ctx, tx, "bid.rejected", "bid", c.ID, approver, events.EventPayload{
			"reason": c.Reason,
		}); err != nil {
			return b, storeErr("append event", err)
		}
		rejected = append(rejected, c.ID)
	}

	if err := e.Events.Append(ctx, tx, "bid.accepted", "bid", b.ID, approver, events.EventPayload{
		"rfq_id": rfq.ID,
	}); err != nil {
		return b, storeErr("append event", err)
	}
	if err := e.Events.Append(ctx, tx, "rfq.awarded", "rfq", rfq.ID, approver, events.EventPayload{
		"bid_id":   b.ID,
		"rejected": rejected,
	}); err != nil {
		return b, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return b, storeErr("commit award", err)
	}
	e.invalidate(rfq.ID)
	return b, nil
}

// Reject turns down a single bid with an explicit reason. Terminal bids are
// frozen.
func (e Engine) Reject(ctx context.Context, bidID, reason, actorID string) (domain.Bid, error) {
	if reason == "" {
		return domain.Bid{}, validationf("rejection reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin reject", err)
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return b, notFound("bid", bidID, err)
	}
	if !b.Active() {
		return b, conflict("bid_terminal", "bid %s is %s and cannot be rejected", b.ID, b.Status)
	}
	nowStr := e.nowString()
	approver := e.approver(actorID)
	b.Status = domain.BidRejected
	b.Reason = reason
	b.ReviewedAt = &nowStr
	b.ReviewedBy = &approver
	b.UpdatedAt = nowStr
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return b, storeErr("reject bid", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.rejected", "bid", b.ID, approver, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return b, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return b, storeErr("commit reject", err)
	}
	e.invalidate(b.RFQID)
	return b, nil
}
