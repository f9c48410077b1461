package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hamburg-family-events-scraper/internal/config"
	"hamburg-family-events-scraper/internal/models"
	"hamburg-family-events-scraper/internal/pipeline"
	"hamburg-family-events-scraper/internal/services"
	"hamburg-family-events-scraper/internal/storage"
)

var (
	cfg      *config.Config
	log      = logrus.New()
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "scraper",
		Short: "Discovers, normalizes and stores family events",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			log.SetLevel(level)
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			cfg = config.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInitDBCmd(),
		newSourcesCmd(),
		newScrapeCmd(),
		newScrapeAllCmd(),
		newDiscoverCmd(),
		newCleanupCmd(),
		newPublishCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStores opens the configured storage backend. Sources always live in the
// local SQLite database; events go to SQLite or DynamoDB per configuration.
func openStores(ctx context.Context) (storage.EventStore, storage.SourceStore, func(), error) {
	sqlite, err := storage.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch cfg.StorageBackend {
	case "sqlite":
		return sqlite, sqlite, func() { sqlite.Close() }, nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			sqlite.Close()
			return nil, nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		dynamo := storage.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
		return dynamo, sqlite, func() { sqlite.Close() }, nil
	default:
		sqlite.Close()
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// buildPipeline wires the adapters, normalizer and geocoder into a pipeline.
func buildPipeline(events storage.EventStore, sources storage.SourceStore) (*pipeline.Pipeline, *storage.GeoCache, error) {
	timezone, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	fetcher := services.NewPageFetcher(cfg.FetchTimeout, cfg.MaxRetries, log)

	var llm *openai.Client
	if cfg.OpenAIAPIKey != "" {
		llm = openai.NewClient(cfg.OpenAIAPIKey)
	}
	navigator := services.NewNavigator(fetcher, llm, cfg.OpenAIModel, log)
	extractor := services.NewExtractor(llm, cfg.OpenAIModel, log)
	site := services.NewSitePipeline(navigator, fetcher, extractor, log)

	discoverers := map[string]pipeline.Discoverer{
		models.SourceKindSite: site,
	}
	if cfg.GeminiAPIKey != "" {
		discoverers[models.SourceKindSearch] = services.NewGroundedSearch(
			cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Region,
			cfg.SearchDaysAhead, cfg.SearchLimit, cfg.LLMTimeout, log)
	}

	var geocoder pipeline.CoordinateResolver
	var cache *storage.GeoCache
	if cfg.GeocodingEnabled {
		cache = storage.NewGeoCache(cfg.GeocodeCacheSize, cfg.GeocodeCachePath)
		geocoder = services.NewGeocoder(cfg.Region, cfg.GeocodeUserAgent, cache,
			cfg.GeocodeMinDelay, cfg.GeocodeTimeout, log)
	}

	normalizer := pipeline.NewNormalizer(cfg.Region, timezone)
	return pipeline.New(discoverers, normalizer, events, sources, geocoder, log), cache, nil
}

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the local database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.OpenSQLite(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()
			log.WithField("path", cfg.DatabasePath).Info("database initialized")
			return nil
		},
	}
}

func newSourcesCmd() *cobra.Command {
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage scraping sources",
	}

	var name, inputURL, region, kind, query string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, sources, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			var source *models.Source
			if kind == models.SourceKindSearch {
				source = models.NewSearchSource(name, query, region)
			} else {
				source = models.NewSource(name, inputURL, region)
			}
			if err := sources.CreateSource(ctx, source); err != nil {
				return fmt.Errorf("failed to create source: %w", err)
			}
			log.WithFields(logrus.Fields{"id": source.ID, "name": source.Name}).Info("source created")
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "source display name")
	addCmd.Flags().StringVar(&inputURL, "url", "", "root URL of the operator website (site sources)")
	addCmd.Flags().StringVar(&region, "region", "", "region code (defaults to configured region)")
	addCmd.Flags().StringVar(&kind, "kind", models.SourceKindSite, "source kind (site or search)")
	addCmd.Flags().StringVar(&query, "query", "", "natural-language search query (search sources)")
	addCmd.MarkFlagRequired("name")

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, sources, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			list, err := sources.ListSources(ctx, !all)
			if err != nil {
				return fmt.Errorf("failed to list sources: %w", err)
			}
			return printJSON(list)
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "include inactive sources")

	sourcesCmd.AddCommand(addCmd, listCmd)
	return sourcesCmd
}

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <source-id>",
		Short: "Run the pipeline for one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			events, sources, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			source, err := sources.GetSource(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load source: %w", err)
			}

			pipe, cache, err := buildPipeline(events, sources)
			if err != nil {
				return err
			}
			defer saveCache(cache)

			report, _ := pipe.Run(ctx, source)
			return printJSON(report)
		},
	}
}

func newScrapeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape-all",
		Short: "Run the pipeline for every active source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			events, sources, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			list, err := sources.ListSources(ctx, true)
			if err != nil {
				return fmt.Errorf("failed to list sources: %w", err)
			}
			if len(list) == 0 {
				log.Warn("no active sources configured")
				return nil
			}

			pipe, cache, err := buildPipeline(events, sources)
			if err != nil {
				return err
			}
			defer saveCache(cache)

			runner := pipeline.NewRunner(pipe, cfg.MaxConcurrentRuns, log)
			reports := runner.RunAll(ctx, list)
			total := pipeline.Totals(reports)
			return printJSON(struct {
				Runs  []*models.RunReport `json:"runs"`
				Total models.RunReport    `json:"total"`
			}{reports, total})
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	var query, model string
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a one-off grounded search discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if cfg.GeminiAPIKey == "" {
				return fmt.Errorf("GEMINI_API_KEY is required for grounded search")
			}
			if model != "" {
				cfg.GeminiModel = model
			}

			events, sources, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			pipe, cache, err := buildPipeline(events, sources)
			if err != nil {
				return err
			}
			defer saveCache(cache)

			source := models.NewSearchSource("grounded-search", query, cfg.Region)
			report, _ := pipe.Run(ctx, source)
			return printJSON(report)
		},
	}
	discoverCmd.Flags().StringVar(&query, "query", "", "natural-language search query (defaults to a general family-events query)")
	discoverCmd.Flags().StringVar(&model, "model", "", "override the configured Gemini model for this run")
	return discoverCmd
}

func newCleanupCmd() *cobra.Command {
	var days int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events that started more than N days ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			events, _, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			cutoff := time.Now().AddDate(0, 0, -days)
			deleted, err := events.DeleteEventsBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			log.WithFields(logrus.Fields{"deleted": deleted, "cutoff": cutoff.Format("2006-01-02")}).
				Info("cleanup completed")
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&days, "days", 30, "delete events that started this many days ago or earlier")
	return cleanupCmd
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish the current event set as a JSON snapshot to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			events, _, closeStores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer closeStores()

			list, err := events.ListEvents(ctx, storage.ListFilter{
				Region: cfg.Region,
				From:   time.Now().Truncate(24 * time.Hour),
			})
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			publisher, err := storage.NewSnapshotPublisher(ctx, cfg.SnapshotBucket, cfg.SnapshotKey)
			if err != nil {
				return err
			}
			if err := publisher.Publish(ctx, cfg.Region, list); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"events": len(list), "bucket": cfg.SnapshotBucket}).
				Info("snapshot published")
			return nil
		},
	}
}

func saveCache(cache *storage.GeoCache) {
	if cache == nil {
		return
	}
	if err := cache.Save(); err != nil {
		log.WithError(err).Warn("failed to save geocode cache")
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
