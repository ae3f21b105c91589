package domain

import "github.com/shopspring/decimal"

// RFQ statuses.
const (
	RFQOpen    = "open"
	RFQClosed  = "closed"
	RFQAwarded = "awarded"
)

// Bid statuses. Submitted, under_review and shortlisted are "active";
// accepted, rejected and withdrawn are terminal.
const (
	BidSubmitted   = "submitted"
	BidUnderReview = "under_review"
	BidShortlisted = "shortlisted"
	BidAccepted    = "accepted"
	BidRejected    = "rejected"
	BidWithdrawn   = "withdrawn"
)

// ActiveBidStatuses lists the non-terminal bid statuses in transition order.
var ActiveBidStatuses = []string{BidSubmitted, BidUnderReview, BidShortlisted}

// RejectedCompeting is the reason stamped on bids force-rejected by an award.
const RejectedCompeting = "RFQ awarded to another bid"

type LineItem struct {
	ItemRef  string `json:"item_ref"`
	Quantity int64  `json:"quantity"`
	Unit     string `json:"unit"`
}

type RFQ struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Items        []LineItem `json:"items"`
	Status       string     `json:"status" enum:"open,closed,awarded"`
	Deadline     string     `json:"deadline" format:"date-time"`
	BidCount     int        `json:"bid_count"`
	AwardedBidID *string    `json:"awarded_bid_id,omitempty"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

type BidItem struct {
	ItemRef      string          `json:"item_ref"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int64           `json:"quantity"`
	LeadTimeDays int             `json:"lead_time_days,omitempty"`
}

// Amount is the priced line total.
func (i BidItem) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

type EvaluationScore struct {
	Technical  float64 `json:"technical"`
	Commercial float64 `json:"commercial"`
	Delivery   float64 `json:"delivery"`
	Overall    float64 `json:"overall"`
}

type Bid struct {
	ID           string           `json:"id"`
	RFQID        string           `json:"rfq_id"`
	SupplierID   string           `json:"supplier_id"`
	Items        []BidItem        `json:"items"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	Status       string           `json:"status" enum:"submitted,under_review,shortlisted,accepted,rejected,withdrawn"`
	Score        *EvaluationScore `json:"evaluation_score,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	ContactEmail string           `json:"contact_email,omitempty"`
	SubmittedAt  string           `json:"submitted_at" format:"date-time"`
	ReviewedAt   *string          `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewedBy   *string          `json:"reviewed_by,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	UpdatedAt    string           `json:"updated_at" format:"date-time"`
}

// Active reports whether the bid still counts against the
// one-active-bid-per-supplier invariant.
func (b Bid) Active() bool {
	switch b.Status {
	case BidSubmitted, BidUnderReview, BidShortlisted:
		return true
	}
	return false
}

// TotalOf sums unit_price x quantity over priced line items.
func TotalOf(items []BidItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount())
	}
	return total
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	SupplierID string `json:"supplier_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
