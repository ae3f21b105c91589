package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"sourceline/internal/domain"
	"sourceline/internal/engine/identity"
)

// DisclosedBid is the outward projection of a bid. SupplierRef is the stable
// anonymous label; SupplierID, ContactEmail and Notes are populated only for
// the bid's owner and privileged callers.
type DisclosedBid struct {
	ID           string                  `json:"id"`
	RFQID        string                  `json:"rfqId"`
	SupplierRef  string                  `json:"supplierRef"`
	SupplierID   string                  `json:"supplierId,omitempty"`
	Items        []domain.BidItem        `json:"items"`
	TotalAmount  decimal.Decimal         `json:"totalAmount"`
	Status       string                  `json:"status"`
	Score        *domain.EvaluationScore `json:"score,omitempty"`
	Notes        string                  `json:"notes,omitempty"`
	ContactEmail string                  `json:"contactEmail,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	SubmittedAt  string                  `json:"submittedAt"`
	UpdatedAt    string                  `json:"updatedAt"`
}

// supplierLabel maps a zero-based position to "Supplier A" … "Supplier Z",
// then "Supplier AA" onwards, spreadsheet-column style.
func supplierLabel(i int) string {
	n := i + 1
	buf := make([]byte, 0, 3)
	for n > 0 {
		n--
		buf = append(buf, byte('A'+n%26))
		n /= 26
	}
	for l, r := 0, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return "Supplier " + string(buf)
}

// Disclose projects a bid list for a caller. Ordering and labels are
// deterministic: bids sort by (submittedAt, id) and the label follows that
// position, so the same caller always sees the same alias for a supplier.
func Disclose(bids []domain.Bid, p identity.Principal) []DisclosedBid {
	sorted := make([]domain.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SubmittedAt != sorted[j].SubmittedAt {
			return sorted[i].SubmittedAt < sorted[j].SubmittedAt
		}
		return sorted[i].ID < sorted[j].ID
	})
	out := make([]DisclosedBid, len(sorted))
	for i, b := range sorted {
		out[i] = discloseAs(b, supplierLabel(i), identity.Classify(p, b.SupplierID))
	}
	return out
}

// DiscloseOne projects a single bid. The label is position-independent here;
// callers wanting list-consistent labels go through Disclose.
func DiscloseOne(b domain.Bid, p identity.Principal) DisclosedBid {
	return discloseAs(b, "Supplier", identity.Classify(p, b.SupplierID))
}

func discloseAs(b domain.Bid, label string, class identity.Class) DisclosedBid {
	d := DisclosedBid{
		ID:          b.ID,
		RFQID:       b.RFQID,
		SupplierRef: label,
		Items:       b.Items,
		TotalAmount: b.TotalAmount,
		Status:      b.Status,
		Score:       b.Score,
		Reason:      b.Reason,
		SubmittedAt: b.SubmittedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if class != identity.Other {
		d.SupplierID = b.SupplierID
		d.ContactEmail = b.ContactEmail
		d.Notes = b.Notes
	}
	return d
}
