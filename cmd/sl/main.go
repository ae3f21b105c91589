package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sourceline/internal/app"
	"sourceline/internal/cache"
	"sourceline/internal/config"
	"sourceline/internal/db"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/repo"
	"sourceline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Sourceline CLI",
	Long: `Sourceline runs a sourcing marketplace core: RFQs, bids and awards.
- Workspace: the .sourceline directory holding the database; sourceline.yml next to it configures weights and the server.
- RFQ: a solicitation with line items and a deadline; open -> awarded (or closed).
- Bid: a supplier's priced response; submitted -> under_review -> shortlisted -> accepted/rejected/withdrawn.
- Award: accepting one bid awards the RFQ and rejects every competing active bid, atomically.
- Event log: diary of changes, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SOURCELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(rfqCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default sourceline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func rfqCmd() *cobra.Command {
	rfq := &cobra.Command{Use: "rfq", Short: "Manage RFQs"}
	rfq.AddCommand(rfqCreateCmd())
	rfq.AddCommand(rfqListCmd())
	rfq.AddCommand(rfqShowCmd())
	rfq.AddCommand(rfqCloseCmd())
	return rfq
}

func rfqCreateCmd() *cobra.Command {
	var title, description, deadline string
	var items []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish an RFQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := time.Parse(time.RFC3339, deadline)
			if err != nil {
				if d, derr := time.ParseDuration(deadline); derr == nil {
					when = time.Now().Add(d)
				} else {
					return fmt.Errorf("--deadline must be RFC 3339 or a duration like 72h")
				}
			}
			lineItems, err := parseLineItems(items)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.CreateRFQ(ctx, engine.RFQCreateOptions{
					Title:       title,
					Description: description,
					Items:       lineItems,
					Deadline:    when,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "RFQ title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "submission deadline (RFC 3339 or duration)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "line item as ref:qty[:unit], repeatable")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("deadline")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func rfqListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List RFQs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRFQs(ctx, repo.RFQFilters{Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Deadline", "Bids"})
				for _, q := range items {
					tw.AppendRow(table.Row{q.ID, q.Title, q.Status, q.Deadline, q.BidCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (open, closed, awarded)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func rfqShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <rfq-id>",
		Short: "Show an RFQ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.GetRFQ(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
	return cmd
}

func rfqCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <rfq-id>",
		Short: "Close an open RFQ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.CloseRFQ(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
	return cmd
}

func bidCmd() *cobra.Command {
	bid := &cobra.Command{Use: "bid", Short: "Manage bids"}
	bid.AddCommand(bidSubmitCmd())
	bid.AddCommand(bidListCmd())
	bid.AddCommand(bidShowCmd())
	bid.AddCommand(bidWithdrawCmd())
	bid.AddCommand(bidEvaluateCmd())
	bid.AddCommand(bidShortlistCmd())
	bid.AddCommand(bidAcceptCmd())
	bid.AddCommand(bidRejectCmd())
	return bid
}

func bidSubmitCmd() *cobra.Command {
	var rfqID, supplierID, contact string
	var items []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a bid for a supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			bidItems, err := parseBidItems(items)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Submit(ctx, engine.SubmitBidOptions{
					RFQID:        rfqID,
					SupplierID:   supplierID,
					Items:        bidItems,
					ContactEmail: contact,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&rfqID, "rfq", "", "RFQ id")
	cmd.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	cmd.Flags().StringVar(&contact, "contact", "", "contact email")
	cmd.Flags().StringArrayVar(&items, "item", nil, "priced item as ref:unit_price:qty[:lead_days], repeatable")
	_ = cmd.MarkFlagRequired("rfq")
	_ = cmd.MarkFlagRequired("supplier")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func bidListCmd() *cobra.Command {
	var rfqID, supplierID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bids by RFQ or supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var bids []domain.Bid
				var err error
				switch {
				case rfqID != "":
					bids, err = e.ListForRFQ(ctx, rfqID)
				case supplierID != "":
					bids, err = e.MyBids(ctx, supplierID)
				default:
					return fmt.Errorf("--rfq or --supplier required")
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bids)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "RFQ", "Supplier", "Status", "Total", "Overall"})
				for _, b := range bids {
					overall := ""
					if b.Score != nil {
						overall = strconv.FormatFloat(b.Score.Overall, 'f', 1, 64)
					}
					tw.AppendRow(table.Row{b.ID, b.RFQID, b.SupplierID, b.Status, b.TotalAmount.String(), overall})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rfqID, "rfq", "", "RFQ id")
	cmd.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	return cmd
}

func bidShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <bid-id>",
		Short: "Show a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.GetBid(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	return cmd
}

func bidWithdrawCmd() *cobra.Command {
	var supplierID string
	cmd := &cobra.Command{
		Use:   "withdraw <bid-id>",
		Short: "Withdraw an active bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Withdraw(ctx, args[0], supplierID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&supplierID, "supplier", "", "acting supplier id (ownership check)")
	return cmd
}

func bidEvaluateCmd() *cobra.Command {
	var technical, commercial, delivery float64
	var notes string
	cmd := &cobra.Command{
		Use:   "evaluate <bid-id>",
		Short: "Score a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for name, v := range map[string]float64{"technical": technical, "commercial": commercial, "delivery": delivery} {
				if v < 0 || v > 100 {
					return fmt.Errorf("--%s must be between 0 and 100", name)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Evaluate(ctx, engine.EvaluateOptions{
					BidID:      args[0],
					Technical:  technical,
					Commercial: commercial,
					Delivery:   delivery,
					Notes:      notes,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().Float64Var(&technical, "technical", 0, "technical score (0-100)")
	cmd.Flags().Float64Var(&commercial, "commercial", 0, "commercial score (0-100)")
	cmd.Flags().Float64Var(&delivery, "delivery", 0, "delivery score (0-100)")
	cmd.Flags().StringVar(&notes, "notes", "", "evaluation notes")
	return cmd
}

func bidShortlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shortlist <bid-id>",
		Short: "Shortlist a reviewed bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Shortlist(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	return cmd
}

func bidAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <bid-id>",
		Short: "Accept a bid and award its RFQ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Accept(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	return cmd
}

func bidRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <bid-id>",
		Short: "Reject a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Reject(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Supplier API keys"}
	keys.AddCommand(keysIssueCmd())
	keys.AddCommand(keysListCmd())
	return keys
}

func keysIssueCmd() *cobra.Command {
	var supplierID, name string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key bound to a supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:         uuid.New().String(),
					SupplierID: supplierID,
					Name:       name,
					KeyHash:    repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSON(map[string]string{
					"id":          key.ID,
					"supplier_id": key.SupplierID,
					"api_key":     raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("supplier")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issued keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Supplier", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.SupplierID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: RFQ publications, bids, evaluations and awards.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (rfq, bid)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var insecureHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			listings := cache.New(cfg.Cache)
			e.Cache = listings
			authCfg := server.AuthConfig{
				JWTSecret:            os.Getenv("SOURCELINE_JWT_SECRET"),
				AllowInsecureHeaders: insecureHeaders,
			}
			if authCfg.JWTSecret == "" && !insecureHeaders {
				return fmt.Errorf("SOURCELINE_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Address
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Listings: listings,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Sourceline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&insecureHeaders, "insecure-headers", false, "accept X-Actor-Id/X-Supplier-Id headers without credentials (development)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.NewEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLineItems(specs []string) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid --item %q, expected ref:qty[:unit]", s)
		}
		qty, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in --item %q", s)
		}
		it := domain.LineItem{ItemRef: parts[0], Quantity: qty}
		if len(parts) == 3 {
			it.Unit = parts[2]
		}
		items = append(items, it)
	}
	return items, nil
}

func parseBidItems(specs []string) ([]domain.BidItem, error) {
	items := make([]domain.BidItem, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("invalid --item %q, expected ref:unit_price:qty[:lead_days]", s)
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid unit price in --item %q", s)
		}
		qty, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in --item %q", s)
		}
		it := domain.BidItem{ItemRef: parts[0], UnitPrice: price, Quantity: qty}
		if len(parts) == 4 {
			lead, err := strconv.Atoi(parts[3])
			if err != nil {
				return nil, fmt.Errorf("invalid lead days in --item %q", s)
			}
			it.LeadTimeDays = lead
		}
		items = append(items, it)
	}
	return items, nil
}
