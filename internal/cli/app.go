package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/config"
	"github.com/KRYPTOHAUS/hyperfeed/internal/database"
	"github.com/KRYPTOHAUS/hyperfeed/internal/feed"
	"github.com/KRYPTOHAUS/hyperfeed/internal/hub"
	"github.com/KRYPTOHAUS/hyperfeed/internal/logging"
	"github.com/KRYPTOHAUS/hyperfeed/internal/rss"
	"github.com/KRYPTOHAUS/hyperfeed/internal/scrap"
)

// app bundles the resources a command needs.
type app struct {
	cfg    *config.Config
	log    logging.Logger
	store  database.Store
	hub    *hub.Hub
	syncer *rss.Syncer
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.DatabaseDSN = opts.Database
	}
	if opts.Archive != "" {
		cfg.ArchiveDSN = opts.Archive
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// openApp loads configuration and opens the catalog, archive backend and hub.
// Logs go to logOut.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := logging.New(logOut, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	store, err := database.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	deps := archive.Deps{DB: store.Conn(), Dialect: store.Dialect()}
	if archive.IsS3(cfg.ArchiveDSN) {
		client, err := archive.NewS3Client(ctx, archive.S3Options{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		deps.S3 = client
	}
	opener, err := archive.NewOpener(cfg.ArchiveDSN, deps)
	if err != nil {
		store.Close()
		return nil, err
	}

	limiter := scrap.NewDomainLimiter(scrap.MaxConcurrencyPerDomain, scrap.DelayBetweenDomainRequests)
	h := hub.New(store, opener, feed.Options{
		Fetcher:     scrap.NewHTTPFetcher(cfg.FetchTimeout, limiter),
		Scrap:       cfg.Scrap,
		RenderLimit: cfg.RenderLimit,
		Logger:      log,
	}, log)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		hub:    h,
		syncer: rss.NewSyncer(h, cfg.FetchTimeout, limiter, log),
	}, nil
}

// feed opens the catalogued feed with the hex key arg.
func (a *app) feed(ctx context.Context, arg string) (*feed.Feed, error) {
	key, err := archive.ParseKey(arg)
	if err != nil {
		return nil, err
	}
	return a.hub.Get(ctx, key)
}

func (a *app) Close() error {
	return errors.Join(a.hub.Close(), a.store.Close())
}
