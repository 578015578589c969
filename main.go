package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/idejanristic/tierListMaker/api"
	"github.com/idejanristic/tierListMaker/config"
	"github.com/idejanristic/tierListMaker/domain"
	"github.com/idejanristic/tierListMaker/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	catalog := domain.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err = domain.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			log.Fatalf("catalog: %v", err)
		}
	}
	boards, err := storage.NewBoards(catalog, cfg.BoardIdleTTL, logger)
	if err != nil {
		log.Fatalf("boards: %v", err)
	}

	var (
		rc        *redis.Client
		deduper   api.Deduper
		snapshots *storage.SnapshotCache
	)
	if cfg.RedisURL != "" {
		rc = redis.NewClient(parseRedisOptions(cfg.RedisURL))
		defer rc.Close()
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		snapshots = storage.NewSnapshotCache(rc, cfg.SnapshotTTL, cfg.UpdatesChannel)
		boards.OnEvict = func(userID string) { snapshots.Evict(context.Background(), userID) }
	} else {
		log.Warn("REDIS_URL not set; snapshots are not published and retried events are not deduplicated")
	}

	auth, err := newAuthenticator(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	broker := api.NewBroker()
	var store api.SnapshotStore
	if snapshots != nil {
		store = snapshots
	}
	dispatcher := api.NewDispatcher(cfg.EventWorkers, cfg.EventBuffer, cfg.HandoffTimeout, logger,
		api.PublishCommits(broker, store, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go boards.RunEviction(ctx, cfg.EvictInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, api.Deps{
		Boards:     boards,
		Auth:       auth,
		Deduper:    deduper,
		Dispatcher: dispatcher,
		Broker:     broker,
		Logger:     logger,
		Heartbeat:  cfg.SSEHeartbeat,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()

	logger.WithFields(log.Fields{"addr": cfg.Addr, "auth": cfg.AuthMode, "items": len(catalog.Items)}).Info("tier list service starting")
	if err := e.Start(cfg.Addr); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
	dispatcher.Close()
}

func newAuthenticator(cfg config.Config) (api.Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthHS256:
		return api.NewSharedSecretAuth([]byte(cfg.AuthSecret)), nil
	case config.AuthAuth0:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", cfg.JWKSCacheTTL), nil
	default:
		return api.NoAuth{}, nil
	}
}

// parseRedisOptions accepts a redis:// URL or the "host:port,password=...,ssl=True"
// form used by managed Redis connection strings.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
