package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/fieldaudit/internal/config"
	"github.com/zulandar/fieldaudit/internal/db"
	"github.com/zulandar/fieldaudit/internal/links"
	"github.com/zulandar/fieldaudit/internal/logging"
	"github.com/zulandar/fieldaudit/internal/records"
	"github.com/zulandar/fieldaudit/internal/replica"
	"github.com/zulandar/fieldaudit/internal/sheets"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/telegraph"
	"github.com/zulandar/fieldaudit/internal/telegraph/discord"
	"github.com/zulandar/fieldaudit/internal/telegraph/slack"
	"github.com/zulandar/fieldaudit/internal/telegraph/telegram"
	"github.com/zulandar/fieldaudit/internal/templates"
	"github.com/zulandar/fieldaudit/internal/watermark"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// loadConfig loads the env file, then the YAML config.
func loadConfig(configPath, envPath string) (*config.Config, error) {
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level, Production: cfg.Log.Production})
}

// needsDB reports whether any configured backend is SQL.
func needsDB(cfg *config.Config) bool {
	return cfg.Storage.Backend == "sql" || cfg.Links.Backend == "sql"
}

// openDB connects and migrates the SQL database, or returns nil when no
// backend uses it.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	if !needsDB(cfg) {
		return nil, nil
	}
	gormDB, err := db.Connect(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}

// catalogFrom overlays the configured option data on the built-in catalog.
func catalogFrom(w config.WorkflowConfig) (supervision.Catalog, error) {
	c := supervision.DefaultCatalog()
	if len(w.Supervisors) > 0 {
		c.Supervisors = w.Supervisors
	}
	if len(w.Operators) > 0 {
		c.Operators = w.Operators
	}
	if w.TypeLabels.Hot != "" {
		c.HotLabel = w.TypeLabels.Hot
	}
	if w.TypeLabels.Cold != "" {
		c.ColdLabel = w.TypeLabels.Cold
	}
	c.Wiring = sectionFrom(c.Wiring, w.Wiring)
	c.Crew = sectionFrom(c.Crew, w.Crew)
	if err := c.Validate(); err != nil {
		return supervision.Catalog{}, err
	}
	return c, nil
}

func sectionFrom(def supervision.SectionCatalog, s config.SectionConfig) supervision.SectionCatalog {
	if s.Finish != "" {
		def.Finish = s.Finish
	}
	if len(s.Items) == 0 {
		return def
	}
	def.Items = make([]supervision.Item, 0, len(s.Items))
	for _, it := range s.Items {
		col := it.Column
		if col == "" {
			col = supervision.ObservationColumn(it.Label)
		}
		def.Items = append(def.Items, supervision.Item{Code: it.Code, Label: it.Label, Column: col})
	}
	return def
}

// backend is the storage wiring for one storage.backend setting. Unset
// fields stay nil interfaces so the consumers see "not configured".
type backend struct {
	table     supervision.TabularStore
	lookup    supervision.TemplateLookup
	templates templates.Store
	cache     telegraph.CacheClearer
}

func newBackend(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, loc *time.Location, log *zap.Logger) (backend, error) {
	switch cfg.Storage.Backend {
	case "sheets":
		sc := cfg.Storage.Sheets
		if !sc.Ready() {
			log.Warn("google sheets not configured, records and templates disabled")
			return backend{}, nil
		}
		client, err := sheets.New(ctx, sheets.ClientOpts{
			SpreadsheetID:   sc.SpreadsheetID,
			TemplatesTab:    sc.TemplatesTab,
			CredentialsJSON: sc.CredentialsJSON,
			CredentialsFile: sc.CredentialsFile,
			HeaderTTL:       sc.HeaderTTL,
			Location:        loc,
			Logger:          log.Named("sheets"),
		})
		if err != nil {
			return backend{}, err
		}
		return backend{table: client, lookup: client, templates: client, cache: client}, nil
	case "sql":
		if gormDB == nil {
			return backend{}, fmt.Errorf("storage: sql backend without a database")
		}
		store := records.New(gormDB)
		return backend{table: store, lookup: store, templates: store}, nil
	case "none":
		return backend{}, nil
	}
	return backend{}, fmt.Errorf("storage: unsupported backend %q", cfg.Storage.Backend)
}

// newLinkStore returns the registry store and, for the file backend, the
// FileStore so it can be watched.
func newLinkStore(cfg *config.Config, gormDB *gorm.DB, log *zap.Logger) (links.Store, *links.FileStore, error) {
	switch cfg.Links.Backend {
	case "file":
		fs := links.NewFileStore(cfg.Links.Path, log.Named("links"))
		return fs, fs, nil
	case "sql":
		if gormDB == nil {
			return nil, nil, fmt.Errorf("links: sql backend without a database")
		}
		return links.NewDBStore(gormDB), nil, nil
	}
	return nil, nil, fmt.Errorf("links: unsupported backend %q", cfg.Links.Backend)
}

func newRegistry(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, log *zap.Logger) (*links.Registry, *links.FileStore, error) {
	store, fileStore, err := newLinkStore(cfg, gormDB, log)
	if err != nil {
		return nil, nil, err
	}
	registry, err := links.NewRegistry(links.RegistryOpts{Store: store, Keys: cfg.Links.Keys, Logger: log.Named("links")})
	if err != nil {
		return nil, nil, err
	}
	if err := registry.Load(ctx); err != nil {
		return nil, nil, err
	}
	return registry, fileStore, nil
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log *zap.Logger) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case "telegram":
		return telegram.New(telegram.AdapterOpts{
			Token:   cfg.Telegram.Token,
			Timeout: cfg.Telegram.Timeout,
			Debug:   cfg.Telegram.Debug,
			Logger:  log.Named("telegram"),
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken: cfg.Discord.BotToken,
			Logger:   log.Named("discord"),
		})
	case "slack":
		return slack.New(slack.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
			Logger:   log.Named("slack"),
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// app is a fully wired bot.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	registry  *links.Registry
	fileStore *links.FileStore // nil unless links.backend is file
	store     *supervision.Store
	daemon    *telegraph.Daemon
	sweeper   *replica.Sweeper
}

// buildApp wires the whole bot on top of adapter.
func buildApp(ctx context.Context, cfg *config.Config, adapter telegraph.Adapter, log *zap.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.Workflow.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	catalog, err := catalogFrom(cfg.Workflow)
	if err != nil {
		return nil, err
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	be, err := newBackend(ctx, cfg, gormDB, loc, log)
	if err != nil {
		return nil, err
	}
	registry, fileStore, err := newRegistry(ctx, cfg, gormDB, log)
	if err != nil {
		return nil, err
	}

	replicas := replica.NewDir(cfg.Replica.Dir)
	proc, err := watermark.NewProcessor(watermark.ProcessorOpts{
		Fetcher:   adapter,
		Dir:       replicas,
		Enabled:   cfg.Watermark.On(),
		FontScale: cfg.Watermark.FontScale,
		Quality:   cfg.Watermark.Quality,
		Logger:    log.Named("watermark"),
	})
	if err != nil {
		return nil, err
	}

	store := supervision.NewStore(log.Named("store"))
	collector := supervision.NewCollector(supervision.CollectorOpts{
		MaxMedia:  cfg.Workflow.MaxMedia,
		Processor: proc,
		Location:  loc,
		Logger:    log.Named("collector"),
	})
	machine := supervision.NewMachine(catalog, collector, be.lookup, log.Named("machine"))
	pipeline, err := supervision.NewPipeline(supervision.PipelineOpts{
		Store:    store,
		Catalog:  catalog,
		Resolver: registry,
		Delivery: telegraph.NewDelivery(adapter),
		Table:    be.table,
		TabName:  cfg.Storage.Sheets.SupervisionsTab,
		Replicas: replicas,
		Location: loc,
		Logger:   log.Named("finalize"),
	})
	if err != nil {
		return nil, err
	}
	capture := templates.NewCapture(templates.CaptureOpts{Store: be.templates, Logger: log.Named("templates")})
	engine, err := supervision.NewEngine(supervision.EngineOpts{
		Store:    store,
		Machine:  machine,
		Pipeline: pipeline,
		Extra:    []supervision.Recognizer{capture},
		Logger:   log.Named("engine"),
	})
	if err != nil {
		return nil, err
	}
	commands, err := telegraph.NewCommandHandler(telegraph.CommandHandlerOpts{
		Engine:   engine,
		Registry: registry,
		Capture:  capture,
		Cache:    be.cache,
		Logger:   log.Named("commands"),
	})
	if err != nil {
		return nil, err
	}
	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Adapter:  adapter,
		Engine:   engine,
		Commands: commands,
		Logger:   log.Named("telegraph"),
	})
	if err != nil {
		return nil, err
	}
	sweeper, err := replica.NewSweeper(replica.SweeperOpts{
		Dir:      replicas,
		MaxAge:   cfg.Replica.MaxAge,
		Schedule: cfg.Replica.SweepCron,
		Owned:    store.Owned,
		Logger:   log.Named("sweep"),
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		fileStore: fileStore,
		store:     store,
		daemon:    daemon,
		sweeper:   sweeper,
	}, nil
}
