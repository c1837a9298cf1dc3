package main

import (
	"time"

	"rumblebot/internal/browser"
	"rumblebot/internal/bus"
	"rumblebot/internal/config"
	"rumblebot/internal/domain"
	"rumblebot/internal/history"
	"rumblebot/internal/media"
	"rumblebot/internal/metadata"
	"rumblebot/internal/metrics"
	"rumblebot/internal/site"
	"rumblebot/internal/upload"
	"rumblebot/internal/workflow"
)

// pipeline holds everything an upload needs, independent of where the
// video comes from.
type pipeline struct {
	cfg       *config.Config
	bus       *bus.InMemoryBus
	events    *bus.EventBus
	collector *metrics.Collector
	store     *history.Store // nil when history is disabled
	retriever *media.Retriever
	orch      *workflow.Orchestrator
}

func (p *pipeline) Close() {
	p.bus.Close()
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			logger.Warn("close history", "err", err)
		}
	}
}

func credentials(cfg *config.Config) domain.Credentials {
	return domain.Credentials{
		Email:    cfg.Site.Email,
		Password: cfg.Site.Password,
		Channel:  cfg.Site.Channel,
	}
}

func timings(cfg *config.Config) upload.Timings {
	u := cfg.Upload
	return upload.Timings{
		Step:               time.Duration(u.StepTimeoutSeconds) * time.Second,
		Login:              time.Duration(u.LoginTimeoutSeconds) * time.Second,
		Poll:               time.Duration(u.PollIntervalMillis) * time.Millisecond,
		CompletionAttempts: u.CompletionAttempts,
		CompletionInterval: time.Duration(u.CompletionIntervalSecond) * time.Second,
	}
}

func newBridge(cfg *config.Config) *browser.Bridge {
	return browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		ExecPath:   cfg.Browser.ExecPath,
		UserAgent:  cfg.Browser.UserAgent,
		Logger:     logger,
	})
}

// newPipeline wires the upload path. resolver may be nil for local uploads.
func newPipeline(cfg *config.Config, resolver media.FileURLResolver) (*pipeline, error) {
	profile, err := site.Load(cfg.Site.Name, cfg.Site.ProfileFile, logger)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:       cfg,
		bus:       bus.New(100, logger),
		events:    bus.NewEventBus(logger),
		collector: metrics.NewCollector("rumblebot"),
	}
	metrics.NewUploads(p.collector).Subscribe(p.events)

	var recorder workflow.Recorder
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.DBPath, logger)
		if err != nil {
			p.bus.Close()
			return nil, err
		}
		p.store = store
		recorder = store
	}

	p.retriever = media.NewRetriever(media.Config{
		Dir:          cfg.Upload.DownloadDir,
		MaxBytes:     int64(cfg.Upload.MaxFileSizeMB) << 20,
		MinFreeBytes: uint64(cfg.Upload.MinFreeDiskMB) << 20,
		Resolver:     resolver,
		Logger:       logger,
	})

	synth := metadata.NewSynthesizer(metadata.Options{
		Seed:               cfg.Metadata.Seed,
		RandomTitles:       cfg.Metadata.RandomTitles,
		RandomDescriptions: cfg.Metadata.RandomDescriptions,
		RandomTags:         cfg.Metadata.RandomTags,
		MinTags:            cfg.Metadata.MinTags,
		MaxTags:            cfg.Metadata.MaxTags,
		Category:           cfg.Metadata.Category,
		Logger:             logger,
	})

	opener := &upload.BrowserOpener{
		Bridge:  newBridge(cfg),
		Profile: profile,
		Creds:   credentials(cfg),
		Timings: timings(cfg),
		Logger:  logger,
	}

	w := workflow.Config{
		Bus:            p.bus,
		Events:         p.events,
		Opener:         opener,
		Retriever:      p.retriever,
		Synth:          synth,
		Channel:        cfg.Site.Channel,
		Category:       cfg.Site.Category,
		Debug:          cfg.General.Debug,
		Progress:       cfg.General.Progress,
		ChoiceTTL:      time.Duration(cfg.Upload.ChoiceTTLMinutes) * time.Minute,
		OverallTimeout: time.Duration(cfg.Upload.OverallTimeoutSeconds) * time.Second,
		Logger:         logger,
	}
	if recorder != nil {
		w.History = recorder
	}
	p.orch = workflow.New(w)
	return p, nil
}
