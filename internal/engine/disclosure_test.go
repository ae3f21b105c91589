package engine_test

import (
	"fmt"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/engine/identity"
)

func sampleBids() []domain.Bid {
	return []domain.Bid{
		{
			ID: "b2", RFQID: "r1", SupplierID: "acme", Status: domain.BidSubmitted,
			SubmittedAt: "2026-03-01T10:30:00Z", ContactEmail: "sales@acme.test", Notes: "internal",
			TotalAmount: decimal.NewFromInt(200),
		},
		{
			ID: "b1", RFQID: "r1", SupplierID: "globex", Status: domain.BidSubmitted,
			SubmittedAt: "2026-03-01T10:00:00Z", ContactEmail: "rfp@globex.test",
			TotalAmount: decimal.NewFromInt(150),
		},
		{
			ID: "b3", RFQID: "r1", SupplierID: "initech", Status: domain.BidUnderReview,
			SubmittedAt: "2026-03-01T11:00:00Z",
			TotalAmount: decimal.NewFromInt(175),
		},
	}
}

func TestDiscloseAnonymizesForOtherCallers(t *testing.T) {
	out := engine.Disclose(sampleBids(), identity.Principal{ActorID: "viewer"})
	assert.Equal(t, 3, len(out))
	// ordered by submission time, not input order
	assert.Equal(t, "b1", out[0].ID)
	assert.Equal(t, "b2", out[1].ID)
	assert.Equal(t, "b3", out[2].ID)
	assert.Equal(t, "Supplier A", out[0].SupplierRef)
	assert.Equal(t, "Supplier B", out[1].SupplierRef)
	assert.Equal(t, "Supplier C", out[2].SupplierRef)
	for _, d := range out {
		assert.Equal(t, "", d.SupplierID)
		assert.Equal(t, "", d.ContactEmail)
		assert.Equal(t, "", d.Notes)
	}
	// totals and statuses remain visible
	assert.Equal(t, "150", out[0].TotalAmount.String())
	assert.Equal(t, domain.BidUnderReview, out[2].Status)
}

func TestDiscloseIsStableAcrossCallers(t *testing.T) {
	first := engine.Disclose(sampleBids(), identity.Principal{ActorID: "viewer-1"})
	second := engine.Disclose(sampleBids(), identity.Principal{ActorID: "viewer-2"})
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].SupplierRef, second[i].SupplierRef)
	}
}

func TestDiscloseOwnerSeesOwnBidOnly(t *testing.T) {
	out := engine.Disclose(sampleBids(), identity.Principal{ActorID: "acme-user", SupplierID: "acme"})
	byID := map[string]engine.DisclosedBid{}
	for _, d := range out {
		byID[d.ID] = d
	}
	assert.Equal(t, "acme", byID["b2"].SupplierID)
	assert.Equal(t, "sales@acme.test", byID["b2"].ContactEmail)
	assert.Equal(t, "internal", byID["b2"].Notes)
	// competitors stay anonymous
	assert.Equal(t, "", byID["b1"].SupplierID)
	assert.Equal(t, "", byID["b3"].SupplierID)
}

func TestDisclosePrivilegedSeesEverything(t *testing.T) {
	out := engine.Disclose(sampleBids(), identity.Principal{ActorID: "eva", Roles: []string{"evaluator"}})
	for _, d := range out {
		assert.NotEqual(t, "", d.SupplierID)
	}
}

func TestDiscloseLabelsBeyondZ(t *testing.T) {
	bids := make([]domain.Bid, 28)
	for i := range bids {
		bids[i] = domain.Bid{
			ID:          fmt.Sprintf("b%03d", i),
			SupplierID:  fmt.Sprintf("s%03d", i),
			Status:      domain.BidSubmitted,
			SubmittedAt: fmt.Sprintf("2026-03-01T10:%02d:00Z", i),
		}
	}
	out := engine.Disclose(bids, identity.Principal{ActorID: "viewer"})
	assert.Equal(t, "Supplier A", out[0].SupplierRef)
	assert.Equal(t, "Supplier Z", out[25].SupplierRef)
	assert.Equal(t, "Supplier AA", out[26].SupplierRef)
	assert.Equal(t, "Supplier AB", out[27].SupplierRef)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, identity.PrivilegedSystem, identity.Classify(identity.Principal{Roles: []string{"admin"}}, "acme"))
	assert.Equal(t, identity.Owner, identity.Classify(identity.Principal{SupplierID: "acme"}, "acme"))
	assert.Equal(t, identity.Other, identity.Classify(identity.Principal{SupplierID: "globex"}, "acme"))
	assert.Equal(t, identity.Other, identity.Classify(identity.Principal{ActorID: "anon"}, "acme"))
}
