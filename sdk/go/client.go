package sourcelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sourceline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// LineItem is a requested RFQ line.
type LineItem struct {
	ItemRef  string `json:"item_ref"`
	Quantity int64  `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
}

// RFQ represents the API RFQ model.
type RFQ struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Items        []LineItem `json:"items"`
	Status       string     `json:"status"`
	Deadline     string     `json:"deadline"`
	BidCount     int        `json:"bid_count"`
	AwardedBidID *string    `json:"awarded_bid_id,omitempty"`
	CreatedAt    string     `json:"created_at"`
}

// BidItem is a priced line on a bid. Amounts are decimal strings.
type BidItem struct {
	ItemRef      string `json:"item_ref"`
	UnitPrice    string `json:"unit_price"`
	Quantity     int64  `json:"quantity"`
	LeadTimeDays int    `json:"lead_time_days,omitempty"`
}

// Score is an evaluation result.
type Score struct {
	Technical  float64 `json:"technical"`
	Commercial float64 `json:"commercial"`
	Delivery   float64 `json:"delivery"`
	Overall    float64 `json:"overall"`
}

// Bid represents the disclosed API bid model. SupplierID is empty when the
// server anonymizes the listing for the caller.
type Bid struct {
	ID          string    `json:"id"`
	RFQID       string    `json:"rfq_id"`
	SupplierRef string    `json:"supplier_ref"`
	SupplierID  string    `json:"supplier_id,omitempty"`
	Items       []BidItem `json:"items"`
	TotalAmount string    `json:"total_amount"`
	Status      string    `json:"status"`
	Score       *Score    `json:"evaluation_score,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	SubmittedAt string    `json:"submitted_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRFQ publishes an RFQ.
func (c *Client) CreateRFQ(ctx context.Context, title, deadline string, items []LineItem) (RFQ, error) {
	body := map[string]any{
		"title":    title,
		"deadline": deadline,
		"items":    items,
	}
	var resp RFQ
	err := c.do(ctx, http.MethodPost, "rfqs", body, &resp)
	return resp, err
}

// GetRFQ fetches one RFQ.
func (c *Client) GetRFQ(ctx context.Context, id string) (RFQ, error) {
	var resp RFQ
	err := c.do(ctx, http.MethodGet, "rfqs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListRFQs lists RFQs, optionally filtered by status.
func (c *Client) ListRFQs(ctx context.Context, status string) ([]RFQ, error) {
	endpoint := "rfqs"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []RFQ
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CloseRFQ closes an open RFQ.
func (c *Client) CloseRFQ(ctx context.Context, id string) (RFQ, error) {
	var resp RFQ
	err := c.do(ctx, http.MethodPost, "rfqs/"+url.PathEscape(id)+"/close", nil, &resp)
	return resp, err
}

// ListBids returns the disclosed bid listing for an RFQ.
func (c *Client) ListBids(ctx context.Context, rfqID string) ([]Bid, error) {
	var resp []Bid
	err := c.do(ctx, http.MethodGet, "rfqs/"+url.PathEscape(rfqID)+"/bids", nil, &resp)
	return resp, err
}

// SubmitBid submits a bid as the authenticated supplier.
func (c *Client) SubmitBid(ctx context.Context, rfqID string, items []BidItem, contactEmail string) (Bid, error) {
	body := map[string]any{
		"rfq_id": rfqID,
		"items":  items,
	}
	if contactEmail != "" {
		body["contact_email"] = contactEmail
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids", body, &resp)
	return resp, err
}

// GetBid fetches one bid through the disclosure view.
func (c *Client) GetBid(ctx context.Context, id string) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodGet, "bids/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// MyBids lists the caller's own bids.
func (c *Client) MyBids(ctx context.Context) ([]Bid, error) {
	var resp []Bid
	err := c.do(ctx, http.MethodGet, "bids/my", nil, &resp)
	return resp, err
}

// UpdateBid re-prices a submitted bid. Nil items leave the lines unchanged.
func (c *Client) UpdateBid(ctx context.Context, id string, items []BidItem, contactEmail string) (Bid, error) {
	body := map[string]any{}
	if len(items) > 0 {
		body["items"] = items
	}
	if contactEmail != "" {
		body["contact_email"] = contactEmail
	}
	var resp Bid
	err := c.do(ctx, http.MethodPatch, "bids/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// WithdrawBid withdraws an active bid.
func (c *Client) WithdrawBid(ctx context.Context, id string) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids/"+url.PathEscape(id)+"/withdraw", nil, &resp)
	return resp, err
}

// EvaluateBid scores a bid.
func (c *Client) EvaluateBid(ctx context.Context, id string, technical, commercial, delivery float64, notes string) (Bid, error) {
	body := map[string]any{
		"technical":  technical,
		"commercial": commercial,
		"delivery":   delivery,
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids/"+url.PathEscape(id)+"/evaluate", body, &resp)
	return resp, err
}

// AcceptBid accepts a bid and awards its RFQ.
func (c *Client) AcceptBid(ctx context.Context, id string) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids/"+url.PathEscape(id)+"/accept", nil, &resp)
	return resp, err
}

// RejectBid rejects a bid with a reason.
func (c *Client) RejectBid(ctx context.Context, id, reason string) (Bid, error) {
	body := map[string]any{"reason": reason}
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids/"+url.PathEscape(id)+"/reject", body, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
