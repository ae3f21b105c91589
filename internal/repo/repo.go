package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"sourceline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a unique-constraint failure. The
// partial unique index on active bids surfaces concurrent duplicate
// submissions through this check.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const rfqColumns = `id,title,COALESCE(description,''),items_json,status,deadline,bid_count,awarded_bid_id,created_by,created_at,updated_at`

func scanRFQ(scan func(dest ...any) error) (domain.RFQ, error) {
	var r domain.RFQ
	var itemsJSON string
	var awarded sql.NullString
	err := scan(&r.ID, &r.Title, &r.Description, &itemsJSON, &r.Status, &r.Deadline, &r.BidCount, &awarded, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if awarded.Valid {
		r.AwardedBidID = &awarded.String
	}
	if err := json.Unmarshal([]byte(itemsJSON), &r.Items); err != nil {
		return r, fmt.Errorf("decode rfq items: %w", err)
	}
	return r, nil
}

func (r Repo) InsertRFQ(ctx context.Context, tx *sql.Tx, q domain.RFQ) error {
	items, err := json.Marshal(q.Items)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rfqs(id,title,description,items_json,status,deadline,bid_count,awarded_bid_id,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		q.ID, q.Title, nullable(q.Description), string(items), q.Status, q.Deadline, q.BidCount, nullableStringPtr(q.AwardedBidID), q.CreatedBy, q.CreatedAt, q.UpdatedAt)
	return err
}

func (r Repo) GetRFQ(ctx context.Context, id string) (domain.RFQ, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE id=?`, id)
	return scanRFQ(row.Scan)
}

func (r Repo) GetRFQTx(ctx context.Context, tx *sql.Tx, id string) (domain.RFQ, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE id=?`, id)
	return scanRFQ(row.Scan)
}

type RFQFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListRFQs(ctx context.Context, f RFQFilters) ([]domain.RFQ, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + rfqColumns + ` FROM rfqs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RFQ
	for rows.Next() {
		q, err := scanRFQ(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// IncrementBidCount bumps the advisory bid counter. The counter is owned by
// the RFQ row and only ever moves through this statement.
func (r Repo) IncrementBidCount(ctx context.Context, id, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE rfqs SET bid_count=bid_count+1, updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AwardRFQ performs the conditional open->awarded transition. It reports
// whether the update applied; zero rows means the RFQ was no longer open and
// the caller must re-read to decide between idempotent repeat and conflict.
func (r Repo) AwardRFQ(ctx context.Context, tx *sql.Tx, rfqID, bidID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE rfqs SET status='awarded', awarded_bid_id=?, updated_at=? WHERE id=? AND status='open'`,
		bidID, now, rfqID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CloseRFQ performs the conditional open->closed transition.
func (r Repo) CloseRFQ(ctx context.Context, tx *sql.Tx, rfqID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE rfqs SET status='closed', updated_at=? WHERE id=? AND status='open'`, now, rfqID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const bidColumns = `id,rfq_id,supplier_id,items_json,total_amount,status,technical,commercial,delivery,overall,notes,contact_email,submitted_at,reviewed_at,reviewed_by,reason,updated_at`

func scanBid(scan func(dest ...any) error) (domain.Bid, error) {
	var b domain.Bid
	var itemsJSON, total string
	var technical, commercial, delivery, overall sql.NullFloat64
	var notes, contact, reviewedAt, reviewedBy, reason sql.NullString
	err := scan(&b.ID, &b.RFQID, &b.SupplierID, &itemsJSON, &total, &b.Status,
		&technical, &commercial, &delivery, &overall,
		&notes, &contact, &b.SubmittedAt, &reviewedAt, &reviewedBy, &reason, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &b.Items); err != nil {
		return b, fmt.Errorf("decode bid items: %w", err)
	}
	b.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return b, fmt.Errorf("decode bid total: %w", err)
	}
	if overall.Valid {
		b.Score = &domain.EvaluationScore{
			Technical:  technical.Float64,
			Commercial: commercial.Float64,
			Delivery:   delivery.Float64,
			Overall:    overall.Float64,
		}
	}
	if notes.Valid {
		b.Notes = notes.String
	}
	if contact.Valid {
		b.ContactEmail = contact.String
	}
	if reviewedAt.Valid {
		b.ReviewedAt = &reviewedAt.String
	}
	if reviewedBy.Valid {
		b.ReviewedBy = &reviewedBy.String
	}
	if reason.Valid {
		b.Reason = reason.String
	}
	return b, nil
}

func bidArgs(b domain.Bid) ([]any, error) {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return nil, err
	}
	var technical, commercial, delivery, overall any
	if b.Score != nil {
		technical, commercial, delivery, overall = b.Score.Technical, b.Score.Commercial, b.Score.Delivery, b.Score.Overall
	}
	return []any{
		b.RFQID, b.SupplierID, string(items), b.TotalAmount.String(), b.Status,
		technical, commercial, delivery, overall,
		nullable(b.Notes), nullable(b.ContactEmail), b.SubmittedAt,
		nullableStringPtr(b.ReviewedAt), nullableStringPtr(b.ReviewedBy), nullable(b.Reason), b.UpdatedAt,
	}, nil
}

// InsertBid creates the bid row. A unique violation here is the losing side
// of a concurrent duplicate submission.
func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	args, err := bidArgs(b)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO bids(id,rfq_id,supplier_id,items_json,total_amount,status,technical,commercial,delivery,overall,notes,contact_email,submitted_at,reviewed_at,reviewed_by,reason,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, append([]any{b.ID}, args...)...)
	return err
}

func (r Repo) UpdateBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	args, err := bidArgs(b)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE bids SET rfq_id=?,supplier_id=?,items_json=?,total_amount=?,status=?,technical=?,commercial=?,delivery=?,overall=?,notes=?,contact_email=?,submitted_at=?,reviewed_at=?,reviewed_by=?,reason=?,updated_at=? WHERE id=?`,
		append(args, b.ID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id)
	return scanBid(row.Scan)
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bid, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id)
	return scanBid(row.Scan)
}

// ListBidsForRFQ returns all bids for an RFQ in submission order. The order
// is the stable key for anonymized disclosure labels.
func (r Repo) ListBidsForRFQ(ctx context.Context, rfqID string) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE rfq_id=? ORDER BY submitted_at ASC, id ASC`, rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBids(rows)
}

func (r Repo) ListBidsForRFQTx(ctx context.Context, tx *sql.Tx, rfqID string) ([]domain.Bid, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE rfq_id=? ORDER BY submitted_at ASC, id ASC`, rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBids(rows)
}

func (r Repo) ListBidsBySupplier(ctx context.Context, supplierID string) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE supplier_id=? ORDER BY submitted_at DESC, id DESC`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBids(rows)
}

func collectBids(rows *sql.Rows) ([]domain.Bid, error) {
	var res []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ActiveBidExists reports whether the supplier already holds an active bid on
// the RFQ. Advisory pre-check; the partial unique index is authoritative.
func (r Repo) ActiveBidExists(ctx context.Context, rfqID, supplierID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM bids WHERE rfq_id=? AND supplier_id=? AND status IN ('submitted','under_review','shortlisted') LIMIT 1`,
		rfqID, supplierID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. Used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
