package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"property-sync/api"
	"property-sync/config"
	"property-sync/ingest"
	"property-sync/models"
	"property-sync/parser"
	"property-sync/services"
	"property-sync/storage"
	"property-sync/utils"
)

// app holds what every command shares once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	redis  *redis.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "property-sync",
		Short:         "Ingest property listings and resolve broker selections",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.redis != nil {
				a.redis.Close()
			}
		},
	}

	root.AddCommand(a.syncCmd(), a.resolveCmd(), a.serveCmd())
	return root
}

func (a *app) setup() error {
	a.cfg = config.Load()
	if err := a.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return err
	}
	a.logger = utils.NewLoggerWithOptions(utils.LoggerOptions{
		Level:  a.cfg.LogLevel,
		Format: a.cfg.LogFormat,
	})

	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			a.logger.Error("[main] Invalid REDIS_URL: %v", err)
			return err
		}
		a.redis = redis.NewClient(opts)
	}
	return nil
}

func (a *app) retry() *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts: a.cfg.MaxRetries,
		BaseDelay:   time.Second,
		Logger:      a.logger,
	}
}

// newCache wires the configured sources, normalizer and optional Redis
// mirror into a Cache.
func (a *app) newCache(extra ...ingest.Option) (*ingest.Cache, error) {
	sources, err := ingest.ParseSources(a.cfg.DatasetSources, ingest.SourceDeps{
		Redis:     a.redis,
		Retry:     a.retry(),
		ChromeBin: a.cfg.ChromeBin,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}

	normalizer := services.NewNormalizer(a.logger, services.NormalizerOptions{
		Photos: parser.PhotoOptions{
			ThumbnailWidth: a.cfg.PhotoThumbWidth,
			Max:            a.cfg.PhotoMax,
			ProxyURL:       a.cfg.PhotoProxyURL,
		},
		Placeholder: a.cfg.PlaceholderPhotoURL,
	})

	opts := []ingest.Option{ingest.WithTimeout(a.cfg.SyncTimeout)}
	if a.redis != nil {
		opts = append(opts, ingest.WithMirror(&ingest.RedisMirror{
			Client: a.redis,
			Key:    a.cfg.RedisDatasetKey,
			TTL:    a.cfg.RedisTTL,
		}))
	}
	opts = append(opts, extra...)

	return ingest.NewCache(a.logger, normalizer, sources, opts...), nil
}

func (a *app) openStore(ctx context.Context) (*storage.PostgresStore, error) {
	store, err := storage.NewPostgresStore(ctx, a.cfg.DSN(), a.retry(), a.logger)
	if err != nil {
		a.logger.Error("[main] Failed to connect to PostgreSQL: %v", err)
		a.logger.Error("[main] Make sure Docker is running: docker compose up -d")
		return nil, err
	}
	return store, nil
}

func (a *app) syncCmd() *cobra.Command {
	var (
		export  bool
		outPath string
		upload  bool
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch and normalize the dataset, then print insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if upload && !export {
				return errors.New("--upload needs --export")
			}
			if outPath == "" {
				outPath = a.cfg.CSVOutputPath
			}

			cache, err := a.newCache()
			if err != nil {
				return err
			}

			a.logger.Info("=== Property sync starting (%d sources) ===", len(a.cfg.DatasetSources))
			res := cache.Sync(ctx)
			if res.Err != nil {
				return res.Err
			}
			props := cache.GetAll()

			if export {
				if err := exportCSV(ctx, outPath, props); err != nil {
					a.logger.Error("[main] CSV export failed: %v", err)
					return err
				}
				a.logger.Info("[main] %d properties exported to %s", len(props), outPath)
			}

			if upload {
				err := storage.UploadFile(ctx, storage.SFTPConfig{
					Host:      a.cfg.SFTPHost,
					Port:      a.cfg.SFTPPort,
					User:      a.cfg.SFTPUser,
					Pass:      a.cfg.SFTPPassword,
					RemoteDir: a.cfg.SFTPRemoteDir,
				}, outPath, filepath.Base(outPath))
				if err != nil {
					a.logger.Error("[main] SFTP upload failed: %v", err)
					return err
				}
				a.logger.Info("[main] Uploaded %s to %s:%s", filepath.Base(outPath), a.cfg.SFTPHost, a.cfg.SFTPRemoteDir)
			}

			report := props
			if persist {
				stored, err := a.persist(ctx, props)
				if err != nil {
					return err
				}
				report = stored
			}

			insights := services.NewInsightService(a.logger).WithOutput(cmd.OutOrStdout())
			insights.Print(insights.Generate(report))

			fmt.Fprintf(cmd.OutOrStdout(), "  Done. %d properties from %s (skipped %d, duplicates %d)\n\n",
				res.Count, res.Source, res.Skipped, res.Duplicates)
			return nil
		},
	}

	cmd.Flags().BoolVar(&export, "export", false, "write the normalized dataset as CSV")
	cmd.Flags().StringVar(&outPath, "out", "", "CSV output path (default CSV_OUTPUT_PATH)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the exported CSV via SFTP")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the dataset in PostgreSQL")
	return cmd
}

func exportCSV(ctx context.Context, path string, props []models.Property) error {
	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.Write(ctx, props); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// persist writes props to PostgreSQL and reads them back for the report.
func (a *app) persist(ctx context.Context, props []models.Property) ([]models.Property, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.Write(ctx, props); err != nil {
		a.logger.Error("[main] PostgreSQL write failed: %v", err)
		return nil, err
	}
	a.logger.Info("[main] Properties stored in PostgreSQL (table: properties)")

	stored, err := store.FetchAll(ctx)
	if err != nil {
		a.logger.Error("[main] Failed to fetch properties from DB for insights: %v", err)
		return props, nil
	}
	return stored, nil
}

func (a *app) resolveCmd() *cobra.Command {
	var (
		ids    []string
		token  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a selection against the dataset, keeping its order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if (len(ids) == 0) == (token == "") {
				return errors.New("pass exactly one of --ids or --token")
			}

			cache, err := a.newCache()
			if err != nil {
				return err
			}
			if res := cache.Sync(ctx); res.Err != nil {
				return res.Err
			}

			var res services.Resolution
			if token != "" {
				pres, err := a.presentToken(ctx, token, cache.GetAll())
				if err != nil {
					return err
				}
				res = pres.Resolution
			} else {
				res = services.Resolve(ids, cache.GetAll())
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResolution(cmd.OutOrStdout(), res)
			if !res.OK() && res.Outcome != services.OutcomeEmptySelection {
				return fmt.Errorf("selection %s: %s", res.Outcome, res.Diagnostics.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma-separated property ids, in display order")
	cmd.Flags().StringVar(&token, "token", "", "share token of a stored selection")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolution as JSON")
	return cmd
}

func (a *app) presentToken(ctx context.Context, token string, dataset []models.Property) (*services.Presentation, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	sel, err := store.SelectionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return services.NewPresenter(a.logger, services.ReviewedFromReactions(store)).Present(ctx, sel, dataset)
}

func printResolution(w io.Writer, res services.Resolution) {
	d := res.Diagnostics
	fmt.Fprintf(w, "\n  Outcome: %s", res.Outcome)
	if res.Stage != services.StageNone {
		fmt.Fprintf(w, " (matched %s)", res.Stage)
	}
	fmt.Fprintf(w, "\n  Found %d of %d requested, dataset has %d properties\n\n", d.Found, d.Expected, d.DatasetSize)

	for i, p := range res.Properties {
		fmt.Fprintf(w, "  %2d. %-16s %-36s %s\n", i+1, p.ID, p.Title, p.Price)
	}
	if len(res.Unresolved) > 0 {
		fmt.Fprintf(w, "\n  Unresolved: %v\n", d.SampleUnresolved)
	}
	if d.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", d.Reason)
	}
	fmt.Fprintln(w)
}

func (a *app) serveCmd() *cobra.Command {
	var (
		withDB  bool
		refresh time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog and selection API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cache, err := a.newCache(ingest.WithObserver(api.ObserveSync))
			if err != nil {
				return err
			}

			var store storage.SelectionStore
			if withDB {
				pg, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer pg.Close()
				store = pg
			}

			go func() {
				if res := cache.AutoSync(ctx); res.Err != nil {
					a.logger.Warn("[main] Initial sync failed, will retry on demand: %v", res.Err)
				}
			}()
			if refresh > 0 {
				go a.refreshLoop(ctx, cache, refresh)
			}

			return api.NewServer(a.logger, cache, store, a.cfg.CORSOrigins).ListenAndServe(ctx, a.cfg.HTTPAddr)
		},
	}

	cmd.Flags().BoolVar(&withDB, "db", false, "store selections and reactions in PostgreSQL")
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "re-sync the dataset at this interval (0 disables)")
	return cmd
}

func (a *app) refreshLoop(ctx context.Context, cache *ingest.Cache, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Sync(ctx)
		}
	}
}
