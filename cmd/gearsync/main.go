package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oakvale/gearsync/internal/config"
	"github.com/oakvale/gearsync/internal/handlers"
	"github.com/oakvale/gearsync/internal/logger"
	"github.com/oakvale/gearsync/internal/middleware"
	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/platform/auctionhouse"
	"github.com/oakvale/gearsync/internal/platform/gearexchange"
	"github.com/oakvale/gearsync/internal/platform/vintagemart"
	"github.com/oakvale/gearsync/internal/platform/webstore"
	"github.com/oakvale/gearsync/internal/repository"
	"github.com/oakvale/gearsync/internal/secrets"
	"github.com/oakvale/gearsync/internal/services"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		if errors.Is(err, services.ErrRunTimeout) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "gearsync",
		Short:         "Differential inventory synchronization across marketplaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")

	root.AddCommand(newRunCommand(&configFile))
	root.AddCommand(newReconcileCommand(&configFile))
	root.AddCommand(newEventsCommand(&configFile))
	root.AddCommand(newServeCommand(&configFile))
	return root
}

// app holds the wired dependency graph
type app struct {
	cfg         *config.Config
	log         *zap.Logger
	db          *gorm.DB
	resolver    *secrets.Resolver
	runs        *repository.RunRepository
	events      *repository.EventRepository
	links       *repository.LinkRepository
	products    *repository.ProductRepository
	registry    *platform.Registry
	coordinator *services.Coordinator
}

func (a *app) close() {
	if a.resolver != nil {
		a.resolver.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// buildApp loads configuration, connects the database, resolves
// credentials and wires the sync engine
func buildApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	log := logger.New(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := repository.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}

	if cfg.GCPProjectID != "" {
		resolver, err := secrets.NewResolver(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize secret resolver: %w", err)
		}
		a.resolver = resolver
		if err := resolveCredentials(ctx, resolver, cfg); err != nil {
			return nil, err
		}
	}

	a.products = repository.NewProductRepository(db)
	a.links = repository.NewLinkRepository(db)
	a.events = repository.NewEventRepository(db)
	a.runs = repository.NewRunRepository(db)

	a.registry = buildRegistry(cfg, log)

	matcher := services.NewMatcher(a.products, cfg.Sync.MatcherConfidenceThreshold, log)
	diff := services.NewDiffEngine(cfg.Sync.PriceMatchEpsilon)
	writer := services.NewEventWriter(a.events, matcher, log)
	reconciler := services.NewReconciler(a.products, a.links, a.events, services.PricePolicy{
		Authority:         cfg.Sync.DefaultPriceAuthority,
		AuthorityPlatform: models.PlatformTag(cfg.Sync.PriceAuthorityPlatform),
	}, cfg.Sync.PriceMatchEpsilon, log)
	dispatcher := services.NewDispatcher(a.registry, a.links, a.events,
		cfg.Sync.DispatchConcurrency,
		time.Duration(cfg.Sync.PerCallTimeoutSeconds)*time.Second,
		log)

	a.coordinator = services.NewCoordinator(services.CoordinatorConfig{
		DetectionConcurrency: cfg.Sync.DetectionConcurrency,
		DetectionTimeout:     time.Duration(cfg.Sync.PerDetectionTimeoutSeconds) * time.Second,
		RunTimeout:           time.Duration(cfg.Sync.RunTimeoutSeconds) * time.Second,
	}, a.runs, a.links, a.events, a.registry, diff, writer, reconciler, dispatcher, log)

	return a, nil
}

// resolveCredentials swaps gcp-secret:// references for plaintext before any
// adapter is constructed
func resolveCredentials(ctx context.Context, resolver *secrets.Resolver, cfg *config.Config) error {
	return resolver.ResolveAll(ctx,
		&cfg.AuctionHouse.AppID,
		&cfg.AuctionHouse.CertID,
		&cfg.AuctionHouse.DevID,
		&cfg.AuctionHouse.AuthToken,
		&cfg.GearExchange.APIToken,
		&cfg.WebStore.AdminToken,
		&cfg.VintageMart.Password,
		&cfg.VintageMart.SessionCookie,
	)
}

// buildRegistry constructs an adapter per enabled marketplace
func buildRegistry(cfg *config.Config, log *zap.Logger) *platform.Registry {
	var adapters []platform.Adapter
	if cfg.AuctionHouse.Enabled {
		adapters = append(adapters, auctionhouse.New(auctionhouse.Config{
			APIURL:      cfg.AuctionHouse.APIURL,
			AppID:       cfg.AuctionHouse.AppID,
			CertID:      cfg.AuctionHouse.CertID,
			DevID:       cfg.AuctionHouse.DevID,
			AuthToken:   cfg.AuctionHouse.AuthToken,
			SiteID:      cfg.AuctionHouse.SiteID,
			RateLimitPS: cfg.AuctionHouse.RateLimitPS,
		}, log))
	}
	if cfg.GearExchange.Enabled {
		adapters = append(adapters, gearexchange.New(gearexchange.Config{
			APIURL:   cfg.GearExchange.APIURL,
			APIToken: cfg.GearExchange.APIToken,
			ShopSlug: cfg.GearExchange.ShopSlug,
		}, log))
	}
	if cfg.WebStore.Enabled {
		adapters = append(adapters, webstore.New(webstore.Config{
			GraphQLURL: cfg.WebStore.GraphQLURL,
			AdminToken: cfg.WebStore.AdminToken,
		}, log))
	}
	if cfg.VintageMart.Enabled {
		adapters = append(adapters, vintagemart.New(vintagemart.Config{
			BaseURL:       cfg.VintageMart.BaseURL,
			Username:      cfg.VintageMart.Username,
			Password:      cfg.VintageMart.Password,
			SessionCookie: cfg.VintageMart.SessionCookie,
			UseBrowser:    cfg.VintageMart.UseBrowser,
		}, log))
	}
	return platform.NewRegistry(adapters...)
}

// newRunCommand executes one full sync run. Exit code 0 means FINALIZED,
// 1 ABORTED, 2 run timeout.
func newRunCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one full sync run across all enabled marketplaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.coordinator.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s finished in state %s\n", run.ID, run.State)
			return nil
		},
	}
}

// newReconcileCommand re-runs reconciliation and dispatch over the open
// events without a new detection pass
func newReconcileCommand(configFile *string) *cobra.Command {
	var runIDStr string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reprocess open events for an existing run without re-detecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(runIDStr)
			if err != nil {
				return fmt.Errorf("invalid --run-id: %w", err)
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.coordinator.Reprocess(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s reprocessed, state %s\n", run.ID, run.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&runIDStr, "run-id", "", "id of the run to reprocess")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

// newEventsCommand lists sync events for operator inspection
func newEventsCommand(configFile *string) *cobra.Command {
	var status string
	var platformName string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List sync events by status and platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			events, total, err := a.events.List(ctx, repository.EventListOptions{
				Status:       models.EventStatus(status),
				PlatformName: models.PlatformTag(platformName),
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range events {
				fmt.Fprintf(out, "%s  %-14s %-16s %-16s %s  %s\n",
					e.DetectedAt.Format(time.RFC3339),
					e.Status, e.PlatformName, e.ChangeType, e.ExternalID, e.ID)
			}
			fmt.Fprintf(out, "%d of %d events\n", len(events), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|partial|error|processed|skipped)")
	cmd.Flags().StringVar(&platformName, "platform", "", "filter by platform tag")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to print")
	return cmd
}

// newServeCommand starts the read-only ops API
func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only operations API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			router := setupRouter(a)
			a.log.Info("ops API listening",
				zap.String("port", a.cfg.Port),
				zap.String("environment", a.cfg.Environment))
			return router.Run(":" + a.cfg.Port)
		},
	}
}

// setupRouter configures the HTTP router
func setupRouter(a *app) *gin.Engine {
	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(a.log.Named("http")))

	healthHandler := handlers.NewHealthHandler(a.db)
	runHandler := handlers.NewRunHandler(a.runs, a.events)
	eventHandler := handlers.NewEventHandler(a.events)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", runHandler.List)
		v1.GET("/runs/:id", runHandler.Get)
		v1.GET("/events", eventHandler.List)
		v1.GET("/events/:id", eventHandler.Get)
	}
	return router
}
