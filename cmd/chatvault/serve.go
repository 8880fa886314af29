package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatvault/chatvault/internal/archive"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/devicecache"
	"github.com/chatvault/chatvault/internal/event"
	"github.com/chatvault/chatvault/internal/handlers"
	"github.com/chatvault/chatvault/internal/history"
	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/logger"
	"github.com/chatvault/chatvault/internal/mediacache"
	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideFetcher,
			provideMediaCache,
			provideDeviceCache,
			providePipeline,
			platform.NewRegistry,
			event.NewHub,
			history.NewService,
			provideServerHandler(provideChatHandler),
			provideServerHandler(handlers.NewMediaHandler),
			provideServerHandler(handlers.NewEventsHandler),
			provideServerHandler(handlers.NewPayloadHandler),
			provideServerHandler(handlers.NewPingHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeps,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.New(cfg.Log)
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *archive.Store {
	store := archive.NewStore(log, filepath.Join(cfg.Data.Root, "chat.json"), archive.Options{
		MaxMessagesPerChannel: cfg.Archive.MaxMessagesPerChannel,
		DebounceInterval:      config.Duration(cfg.Archive.Debounce, config.DefaultDebounce),
	})
	// Dispose flushes the pending queue, so no appended message is lost on
	// shutdown.
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		store.Dispose()
		return nil
	}})
	return store
}

func provideFetcher(cfg config.Config) platform.Fetcher {
	return platform.NewHTTPFetcher(config.Duration(cfg.MediaCache.FetchTimeout, config.DefaultFetchTimeout))
}

func provideMediaCache(log *slog.Logger, cfg config.Config, fetcher platform.Fetcher) *mediacache.Service {
	return mediacache.NewService(log, filepath.Join(cfg.Data.Root, "cache"), fetcher, mediacache.Options{
		ImageCap: cfg.MediaCache.ImageCap,
		MediaCap: cfg.MediaCache.MediaCap,
	})
}

func provideDeviceCache(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, fetcher platform.Fetcher) (*devicecache.Service, error) {
	svc, err := devicecache.NewService(log, filepath.Join(cfg.Data.Root, "device_cache.db"), fetcher, devicecache.Options{
		MemoryHandleCap: cfg.DeviceCache.MemoryHandleCap,
		MemoryByteCap:   int64(cfg.DeviceCache.MemoryCapMiB) << 20,
		ItemByteCeiling: int64(cfg.DeviceCache.ItemCeilingMiB) << 20,
		PersistentCap:   cfg.DeviceCache.PersistentCap,
	})
	if err != nil {
		return nil, fmt.Errorf("init device cache: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.DeviceCache.ResetOnStart {
				return svc.Reset(ctx)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error { return svc.Close() },
	})
	return svc, nil
}

func providePipeline(log *slog.Logger, cfg config.Config, store *archive.Store, media *mediacache.Service, registry *platform.Registry, hub *event.Hub) *ingest.Pipeline {
	blocked := make([]ingest.BlockedPlatform, 0, len(cfg.Ingest.BlockedPlatforms))
	for _, b := range cfg.Ingest.BlockedPlatforms {
		blocked = append(blocked, ingest.BlockedPlatform{Name: b.Name, Exact: b.Exact})
	}
	return ingest.NewPipeline(log, store, media, registry, hub, ingest.Options{BlockedPlatforms: blocked})
}

func provideChatHandler(log *slog.Logger, cfg config.Config, store *archive.Store, historyService *history.Service, pipeline *ingest.Pipeline) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, store, historyService, pipeline, cfg.Archive.KeepOnClear)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// startSweeps prunes every channel at startup and schedules the periodic
// retention and media cache sweeps.
func startSweeps(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, store *archive.Store, media *mediacache.Service) {
	scheduler := cron.New()
	archiveEvery := config.Duration(cfg.Archive.SweepInterval, config.DefaultSweepInterval)
	mediaEvery := config.Duration(cfg.MediaCache.SweepInterval, config.DefaultSweepInterval)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if dropped := store.PruneAll(); dropped > 0 {
				log.Info("startup retention sweep", slog.Int("dropped", dropped))
			}
			if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", archiveEvery), func() {
				if dropped := store.PruneAll(); dropped > 0 {
					log.Info("retention sweep", slog.Int("dropped", dropped))
				}
			}); err != nil {
				return err
			}
			if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", mediaEvery), func() {
				media.Sweep()
			}); err != nil {
				return err
			}
			scheduler.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-scheduler.Stop().Done()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
