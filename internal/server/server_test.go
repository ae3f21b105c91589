package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"sourceline/internal/cache"
	"sourceline/internal/config"
	"sourceline/internal/db"
	"sourceline/internal/engine"
	"sourceline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	clock  *time.Time
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	clock := time.Now().UTC()
	e.Now = func() time.Time { return clock }
	listings := cache.New(cfg.Cache)
	e.Cache = listings
	handler, err := New(Config{
		Engine:   e,
		Listings: listings,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowInsecureHeaders: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		clock:  &clock,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func evaluatorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "eva", "X-Roles": "evaluator"}
}

func supplierHeaders(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id + "-user", "X-Supplier-Id": id}
}

func createRFQ(t *testing.T, srv *testServer) RFQResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rfqs", map[string]any{
		"title":    "Steel brackets Q2",
		"deadline": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"items": []map[string]any{
			{"item_ref": "bracket-10", "quantity": 500, "unit": "pcs"},
		},
	}, evaluatorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rfq status %d: %s", res.StatusCode, string(data))
	}
	var q RFQResponse
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("unmarshal rfq: %v", err)
	}
	return q
}

func submitBid(t *testing.T, srv *testServer, rfqID, supplier, unitPrice string) BidResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/bids", map[string]any{
		"rfq_id": rfqID,
		"items": []map[string]any{
			{"item_ref": "bracket-10", "unit_price": unitPrice, "quantity": 500},
		},
		"contact_email": supplier + "@example.test",
	}, supplierHeaders(supplier))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit bid status %d: %s", res.StatusCode, string(data))
	}
	var b BidResponse
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal bid: %v", err)
	}
	return b
}

func TestFullAwardFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	q := createRFQ(t, srv)
	b1 := submitBid(t, srv, q.ID, "acme", "2.50")
	b2 := submitBid(t, srv, q.ID, "globex", "2.60")

	// evaluate the first bid
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b1.ID+"/evaluate", map[string]any{
		"technical": 80, "commercial": 70, "delivery": 90,
	}, evaluatorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status %d: %s", res.StatusCode, string(data))
	}
	var scored BidResponse
	if err := json.Unmarshal(data, &scored); err != nil {
		t.Fatal(err)
	}
	if scored.Score == nil || scored.Score.Overall != 80.0 {
		t.Fatalf("overall = %+v", scored.Score)
	}
	if scored.Status != "under_review" {
		t.Fatalf("status = %s", scored.Status)
	}

	// accept it
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b1.ID+"/accept", nil, evaluatorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}

	// rfq is awarded to b1
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rfqs/"+q.ID, nil, evaluatorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get rfq status %d", res.StatusCode)
	}
	var awarded RFQResponse
	if err := json.Unmarshal(data, &awarded); err != nil {
		t.Fatal(err)
	}
	if awarded.Status != "awarded" || awarded.AwardedBidID == nil || *awarded.AwardedBidID != b1.ID {
		t.Fatalf("rfq = %+v", awarded)
	}

	// competitor was force-rejected
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/bids/"+b2.ID, nil, evaluatorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get bid status %d", res.StatusCode)
	}
	var lost BidResponse
	if err := json.Unmarshal(data, &lost); err != nil {
		t.Fatal(err)
	}
	if lost.Status != "rejected" || lost.Reason != "RFQ awarded to another bid" {
		t.Fatalf("competitor = %+v", lost)
	}

	// accepting the loser conflicts
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b2.ID+"/accept", nil, evaluatorHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("accept loser status %d", res.StatusCode)
	}
}

func TestListingAnonymizesSuppliers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	q := createRFQ(t, srv)
	submitBid(t, srv, q.ID, "acme", "2.50")
	submitBid(t, srv, q.ID, "globex", "2.60")

	// a third supplier sees labels, not identities
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/rfqs/"+q.ID+"/bids", nil, supplierHeaders("initech"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listing []BidResponse
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing) != 2 {
		t.Fatalf("len = %d", len(listing))
	}
	if listing[0].SupplierRef != "Supplier A" || listing[1].SupplierRef != "Supplier B" {
		t.Fatalf("labels = %s, %s", listing[0].SupplierRef, listing[1].SupplierRef)
	}
	for _, b := range listing {
		if b.SupplierID != "" || b.ContactEmail != "" {
			t.Fatalf("leaked identity: %+v", b)
		}
	}

	// the owner sees its own identity, competitors stay anonymous
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rfqs/"+q.ID+"/bids", nil, supplierHeaders("acme"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner list status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatal(err)
	}
	var ownSeen bool
	for _, b := range listing {
		if b.SupplierID == "globex" {
			t.Fatalf("competitor identity leaked: %+v", b)
		}
		if b.SupplierID == "acme" {
			ownSeen = true
		}
	}
	if !ownSeen {
		t.Fatalf("owner cannot see own bid: %+v", listing)
	}

	// the evaluator sees everything
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rfqs/"+q.ID+"/bids", nil, evaluatorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("privileged list status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatal(err)
	}
	for _, b := range listing {
		if b.SupplierID == "" {
			t.Fatalf("privileged caller missing identity: %+v", b)
		}
	}
}

func TestAuthAndRoleEnforcement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no credentials: 401
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/rfqs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d", res.StatusCode)
	}

	q := createRFQ(t, srv)
	b := submitBid(t, srv, q.ID, "acme", "2.50")

	// suppliers cannot evaluate
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b.ID+"/evaluate", map[string]any{
		"technical": 50, "commercial": 50, "delivery": 50,
	}, supplierHeaders("acme"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supplier evaluate status %d", res.StatusCode)
	}

	// suppliers cannot create rfqs
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rfqs", map[string]any{
		"title": "x", "deadline": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"items": []map[string]any{{"item_ref": "a", "quantity": 1}},
	}, supplierHeaders("acme"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supplier create rfq status %d", res.StatusCode)
	}

	// another supplier cannot withdraw a foreign bid
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b.ID+"/withdraw", nil, supplierHeaders("globex"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign withdraw status %d", res.StatusCode)
	}

	// unknown ids are 404
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rfqs/missing", nil, evaluatorHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing rfq status %d", res.StatusCode)
	}

	// duplicate active bid is 409
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids", map[string]any{
		"rfq_id": q.ID,
		"items":  []map[string]any{{"item_ref": "bracket-10", "unit_price": "2.40", "quantity": 500}},
	}, supplierHeaders("acme"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate bid status %d", res.StatusCode)
	}
}

func TestMyBids(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	q1 := createRFQ(t, srv)
	older := submitBid(t, srv, q1.ID, "acme", "2.50")
	submitBid(t, srv, q1.ID, "globex", "2.60")

	*srv.clock = srv.clock.Add(time.Minute)
	q2 := createRFQ(t, srv)
	newer := submitBid(t, srv, q2.ID, "acme", "2.40")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/bids/my", nil, supplierHeaders("acme"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my bids status %d: %s", res.StatusCode, string(data))
	}
	var mine []BidResponse
	if err := json.Unmarshal(data, &mine); err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("mine = %+v", mine)
	}
	// newest first, identities intact, nobody else's bids
	if mine[0].ID != newer.ID || mine[1].ID != older.ID {
		t.Fatalf("order = %s, %s", mine[0].ID, mine[1].ID)
	}
	for _, b := range mine {
		if b.SupplierID != "acme" {
			t.Fatalf("foreign bid in listing: %+v", b)
		}
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}
