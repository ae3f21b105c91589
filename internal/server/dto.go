package server

import (
	"fmt"

	"github.com/shopspring/decimal"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
)

// Request payloads

type LineItemRequest struct {
	ItemRef  string `json:"item_ref"`
	Quantity int64  `json:"quantity" minimum:"1"`
	Unit     string `json:"unit,omitempty"`
}

type CreateRFQRequest struct {
	ID          *string           `json:"id,omitempty"`
	Title       string            `json:"title"`
	Description *string           `json:"description,omitempty"`
	Items       []LineItemRequest `json:"items"`
	Deadline    string            `json:"deadline" format:"date-time"`
}

type BidItemRequest struct {
	ItemRef      string `json:"item_ref"`
	UnitPrice    string `json:"unit_price" example:"19.90"`
	Quantity     int64  `json:"quantity" minimum:"1"`
	LeadTimeDays int    `json:"lead_time_days,omitempty" minimum:"0"`
}

type SubmitBidRequest struct {
	RFQID        string           `json:"rfq_id"`
	Items        []BidItemRequest `json:"items"`
	ContactEmail string           `json:"contact_email,omitempty" format:"email"`
}

type UpdateBidRequest struct {
	Items        []BidItemRequest `json:"items,omitempty"`
	ContactEmail *string          `json:"contact_email,omitempty"`
}

type EvaluateBidRequest struct {
	Technical  float64 `json:"technical" minimum:"0" maximum:"100"`
	Commercial float64 `json:"commercial" minimum:"0" maximum:"100"`
	Delivery   float64 `json:"delivery" minimum:"0" maximum:"100"`
	Notes      string  `json:"notes,omitempty"`
}

type RejectBidRequest struct {
	Reason string `json:"reason"`
}

// Response payloads

type RFQResponse struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Items        []LineItemRequest `json:"items"`
	Status       string            `json:"status" enum:"open,closed,awarded"`
	Deadline     string            `json:"deadline" format:"date-time"`
	BidCount     int               `json:"bid_count"`
	AwardedBidID *string           `json:"awarded_bid_id,omitempty"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

type BidItemResponse struct {
	ItemRef      string `json:"item_ref"`
	UnitPrice    string `json:"unit_price"`
	Quantity     int64  `json:"quantity"`
	LeadTimeDays int    `json:"lead_time_days,omitempty"`
}

type ScoreResponse struct {
	Technical  float64 `json:"technical"`
	Commercial float64 `json:"commercial"`
	Delivery   float64 `json:"delivery"`
	Overall    float64 `json:"overall"`
}

// BidResponse is the disclosed projection; supplier fields are present only
// for the owner and privileged callers.
type BidResponse struct {
	ID           string            `json:"id"`
	RFQID        string            `json:"rfq_id"`
	SupplierRef  string            `json:"supplier_ref"`
	SupplierID   string            `json:"supplier_id,omitempty"`
	Items        []BidItemResponse `json:"items"`
	TotalAmount  string            `json:"total_amount"`
	Status       string            `json:"status" enum:"submitted,under_review,shortlisted,accepted,rejected,withdrawn"`
	Score        *ScoreResponse    `json:"evaluation_score,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ContactEmail string            `json:"contact_email,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	SubmittedAt  string            `json:"submitted_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json,omitempty"`
}

func lineItemsFromRequest(in []LineItemRequest) []domain.LineItem {
	out := make([]domain.LineItem, len(in))
	for i, it := range in {
		out[i] = domain.LineItem{ItemRef: it.ItemRef, Quantity: it.Quantity, Unit: it.Unit}
	}
	return out
}

func bidItemsFromRequest(in []BidItemRequest) ([]domain.BidItem, error) {
	out := make([]domain.BidItem, len(in))
	for i, it := range in {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, newAPIError(400, "bad_request", fmt.Sprintf("items[%d].unit_price is not a valid amount", i), nil)
		}
		out[i] = domain.BidItem{
			ItemRef:      it.ItemRef,
			UnitPrice:    price,
			Quantity:     it.Quantity,
			LeadTimeDays: it.LeadTimeDays,
		}
	}
	return out, nil
}

func rfqResponse(q domain.RFQ) RFQResponse {
	items := make([]LineItemRequest, len(q.Items))
	for i, it := range q.Items {
		items[i] = LineItemRequest{ItemRef: it.ItemRef, Quantity: it.Quantity, Unit: it.Unit}
	}
	return RFQResponse{
		ID:           q.ID,
		Title:        q.Title,
		Description:  q.Description,
		Items:        items,
		Status:       q.Status,
		Deadline:     q.Deadline,
		BidCount:     q.BidCount,
		AwardedBidID: q.AwardedBidID,
		CreatedBy:    q.CreatedBy,
		CreatedAt:    q.CreatedAt,
		UpdatedAt:    q.UpdatedAt,
	}
}

func mapRFQs(in []domain.RFQ) []RFQResponse {
	out := make([]RFQResponse, len(in))
	for i, q := range in {
		out[i] = rfqResponse(q)
	}
	return out
}

func bidResponse(d engine.DisclosedBid) BidResponse {
	items := make([]BidItemResponse, len(d.Items))
	for i, it := range d.Items {
		items[i] = BidItemResponse{
			ItemRef:      it.ItemRef,
			UnitPrice:    it.UnitPrice.String(),
			Quantity:     it.Quantity,
			LeadTimeDays: it.LeadTimeDays,
		}
	}
	var score *ScoreResponse
	if d.Score != nil {
		score = &ScoreResponse{
			Technical:  d.Score.Technical,
			Commercial: d.Score.Commercial,
			Delivery:   d.Score.Delivery,
			Overall:    d.Score.Overall,
		}
	}
	return BidResponse{
		ID:           d.ID,
		RFQID:        d.RFQID,
		SupplierRef:  d.SupplierRef,
		SupplierID:   d.SupplierID,
		Items:        items,
		TotalAmount:  d.TotalAmount.String(),
		Status:       d.Status,
		Score:        score,
		Notes:        d.Notes,
		ContactEmail: d.ContactEmail,
		Reason:       d.Reason,
		SubmittedAt:  d.SubmittedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func mapBids(in []engine.DisclosedBid) []BidResponse {
	out := make([]BidResponse, len(in))
	for i, d := range in {
		out[i] = bidResponse(d)
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
