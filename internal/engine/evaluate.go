package engine

import (
	"context"

	"sourceline/internal/domain"
	"sourceline/internal/events"
)

// EvaluateOptions carries the three axis scores an evaluator assigns.
type EvaluateOptions struct {
	BidID      string
	Technical  float64
	Commercial float64
	Delivery   float64
	Notes      string
	ActorID    string
}

// Evaluate scores a bid and moves it to under_review. Sub-scores are taken
// as given; range checks live at the edges that collect them. Accepted,
// rejected and withdrawn bids are frozen; re-evaluating an under_review or
// shortlisted bid overwrites the previous score.
func (e Engine) Evaluate(ctx context.Context, opts EvaluateOptions) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin evaluate", err)
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, opts.BidID)
	if err != nil {
		return b, notFound("bid", opts.BidID, err)
	}
	if !b.Active() {
		return b, conflict("bid_terminal", "bid %s is %s and cannot be evaluated", b.ID, b.Status)
	}
	score := domain.EvaluationScore{
		Technical:  opts.Technical,
		Commercial: opts.Commercial,
		Delivery:   opts.Delivery,
		Overall:    e.Config.Evaluation.Overall(opts.Technical, opts.Commercial, opts.Delivery),
	}
	nowStr := e.nowString()
	b.Score = &score
	b.Status = domain.BidUnderReview
	if opts.Notes != "" {
		b.Notes = opts.Notes
	}
	b.ReviewedAt = &nowStr
	b.ReviewedBy = optionalString(opts.ActorID)
	b.UpdatedAt = nowStr
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return b, storeErr("evaluate bid", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.evaluated", "bid", b.ID, opts.ActorID, events.EventPayload{
		"overall": score.Overall,
	}); err != nil {
		return b, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return b, storeErr("commit evaluate", err)
	}
	e.invalidate(b.RFQID)
	return b, nil
}

// Shortlist promotes an evaluated bid into the award shortlist.
func (e Engine) Shortlist(ctx context.Context, bidID, actorID string) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, storeErr("begin shortlist", err)
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return b, notFound("bid", bidID, err)
	}
	if b.Status != domain.BidUnderReview {
		return b, conflict("bid_not_reviewed", "bid %s is %s, only under_review bids can be shortlisted", b.ID, b.Status)
	}
	b.Status = domain.BidShortlisted
	b.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return b, storeErr("shortlist bid", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.shortlisted", "bid", b.ID, actorID, nil); err != nil {
		return b, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return b, storeErr("commit shortlist", err)
	}
	e.invalidate(b.RFQID)
	return b, nil
}
