package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"sourceline/internal/engine"
	"sourceline/internal/engine/identity"
	"sourceline/internal/repo"
)

// Listings is the optional cache for anonymized bid listings.
type Listings interface {
	Get(rfqID string) ([]engine.DisclosedBid, bool)
	Put(rfqID string, bids []engine.DisclosedBid)
}

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Listings Listings
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"rfq r1 deadline has passed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"invariant\":\"deadline\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Sourceline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Sourceline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRFQs(group, cfg.Engine)
	registerBids(group, cfg.Engine, cfg.Listings)
	registerEvaluation(group, cfg.Engine)
	registerAwards(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var fe identity.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"reason": fe.Reason})
	}
	var ne engine.NotFoundError
	if errors.As(err, &ne) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"invariant": ce.Invariant})
	}
	var se engine.StoreError
	if errors.As(err, &se) {
		details := map[string]any{"op": se.Op}
		if se.Fatal {
			details["reconciliation_required"] = true
		}
		return newAPIError(http.StatusInternalServerError, "store_error", "persistence failure", details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRFQs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rfq",
		Method:        http.MethodPost,
		Path:          "/rfqs",
		Summary:       "Publish an RFQ",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRFQRequest `json:"body"`
	}) (*struct {
		Body RFQResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrivileged(ctx)
		if authErr != nil {
			return nil, authErr
		}
		deadline, err := time.Parse(time.RFC3339, input.Body.Deadline)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "deadline must be RFC 3339", nil)
		}
		opts := engine.RFQCreateOptions{
			Title:    input.Body.Title,
			Items:    lineItemsFromRequest(input.Body.Items),
			Deadline: deadline,
			ActorID:  p.ActorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		q, err := e.CreateRFQ(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RFQResponse `json:"body"`
		}{Body: rfqResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rfqs",
		Method:      http.MethodGet,
		Path:        "/rfqs",
		Summary:     "List RFQs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"open,closed,awarded" required:"false"`
		Limit  int    `query:"limit" required:"false" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []RFQResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListRFQs(ctx, repo.RFQFilters{Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RFQResponse `json:"body"`
		}{Body: mapRFQs(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rfq",
		Method:      http.MethodGet,
		Path:        "/rfqs/{rfq_id}",
		Summary:     "Get RFQ",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFQID string `path:"rfq_id"`
	}) (*struct {
		Body RFQResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		q, err := e.GetRFQ(ctx, input.RFQID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RFQResponse `json:"body"`
		}{Body: rfqResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-rfq",
		Method:      http.MethodPost,
		Path:        "/rfqs/{rfq_id}/close",
		Summary:     "Close RFQ",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RFQID string `path:"rfq_id"`
	}) (*struct {
		Body RFQResponse `json:"body"`
	}, error) {
		p, authErr := requirePrivileged(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.CloseRFQ(ctx, input.RFQID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RFQResponse `json:"body"`
		}{Body: rfqResponse(q)}, nil
	})
}

func registerBids(api huma.API, e engine.Engine, listings Listings) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rfq-bids",
		Method:      http.MethodGet,
		Path:        "/rfqs/{rfq_id}/bids",
		Summary:     "List bids for an RFQ",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFQID string `path:"rfq_id"`
	}) (*struct {
		Body []BidResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// Only callers with no stake in the listing share the cached
		// anonymized projection.
		cacheable := listings != nil && p.SupplierID == "" && !p.Privileged()
		if cacheable {
			if disclosed, ok := listings.Get(input.RFQID); ok {
				return &struct {
					Body []BidResponse `json:"body"`
				}{Body: mapBids(disclosed)}, nil
			}
		}
		bids, err := e.ListForRFQ(ctx, input.RFQID)
		if err != nil {
			return nil, handleError(err)
		}
		disclosed := engine.Disclose(bids, p)
		if cacheable {
			listings.Put(input.RFQID, disclosed)
		}
		return &struct {
			Body []BidResponse `json:"body"`
		}{Body: mapBids(disclosed)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-bid",
		Method:        http.MethodPost,
		Path:          "/bids",
		Summary:       "Submit a bid",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitBidRequest `json:"body"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireSupplier(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := bidItemsFromRequest(input.Body.Items)
		if err != nil {
			return nil, err.(huma.StatusError)
		}
		b, err := e.Submit(ctx, engine.SubmitBidOptions{
			RFQID:        input.Body.RFQID,
			SupplierID:   p.SupplierID,
			Items:        items,
			ContactEmail: input.Body.ContactEmail,
			ActorID:      p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bid",
		Method:      http.MethodGet,
		Path:        "/bids/{bid_id}",
		Summary:     "Get bid",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BidID string `path:"bid_id"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBid(ctx, input.BidID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-bid",
		Method:      http.MethodPatch,
		Path:        "/bids/{bid_id}",
		Summary:     "Update a submitted bid",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string           `path:"bid_id"`
		Body  UpdateBidRequest `json:"body"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := bidItemsFromRequest(input.Body.Items)
		if err != nil {
			return nil, err.(huma.StatusError)
		}
		b, err := e.Update(ctx, engine.UpdateBidOptions{
			BidID:        input.BidID,
			SupplierID:   p.SupplierID,
			Items:        items,
			ContactEmail: input.Body.ContactEmail,
			ActorID:      p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/withdraw",
		Summary:     "Withdraw a bid",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string `path:"bid_id"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.Withdraw(ctx, input.BidID, p.SupplierID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-bids",
		Method:      http.MethodGet,
		Path:        "/bids/my",
		Summary:     "List the caller's own bids",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []BidResponse `json:"body"`
	}, error) {
		p, authErr := requireSupplier(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bids, err := e.MyBids(ctx, p.SupplierID)
		if err != nil {
			return nil, handleError(err)
		}
		// every bid here is the caller's own; project one by one to keep
		// the ledger's newest-first order instead of Disclose's re-sort
		disclosed := make([]engine.DisclosedBid, len(bids))
		for i, b := range bids {
			disclosed[i] = engine.DiscloseOne(b, p)
		}
		return &struct {
			Body []BidResponse `json:"body"`
		}{Body: mapBids(disclosed)}, nil
	})
}

func registerEvaluation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/evaluate",
		Summary:     "Score a bid",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string             `path:"bid_id"`
		Body  EvaluateBidRequest `json:"body"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrivileged(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.Evaluate(ctx, engine.EvaluateOptions{
			BidID:      input.BidID,
			Technical:  input.Body.Technical,
			Commercial: input.Body.Commercial,
			Delivery:   input.Body.Delivery,
			Notes:      input.Body.Notes,
			ActorID:    p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shortlist-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/shortlist",
		Summary:     "Shortlist a reviewed bid",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string `path:"bid_id"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		p, authErr := requirePrivileged(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.Shortlist(ctx, input.BidID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})
}

func registerAwards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "accept-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/accept",
		Summary:     "Accept a bid and award its RFQ",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		BidID string `path:"bid_id"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		p, authErr := requirePrivileged(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.Accept(ctx, input.BidID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/reject",
		Summary:     "Reject a bid",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string           `path:"bid_id"`
		Body  RejectBidRequest `json:"body"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrivileged(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.Reject(ctx, input.BidID, input.Body.Reason, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(engine.DiscloseOne(b, p))}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false" enum:"rfq,bid"`
		EntityID   string `query:"entity_id" required:"false"`
		Limit      int    `query:"limit" required:"false" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrivileged(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, len(items))
		for i, evt := range items {
			out[i] = eventResponse(evt)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

// registerDevAuth issues short-lived development tokens. Only mounted when
// insecure headers are already allowed, so it never widens a production
// deployment.
func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.AllowInsecureHeaders || strings.TrimSpace(cfg.JWTSecret) == "" {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID    string   `json:"actor_id"`
			SupplierID string   `json:"supplier_id,omitempty"`
			Roles      []string `json:"roles,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   input.Body.ActorID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
			},
			SupplierID: input.Body.SupplierID,
			Roles:      input.Body.Roles,
		})
		signed, err := token.SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"token": signed}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		ensureSlash(path.Join(basePath, "health")):         true,
		ensureSlash(path.Join(basePath, "auth/dev/login")): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func ensureSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Sourceline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
