package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fuelcart/vouch/cachestore"
	"github.com/fuelcart/vouch/internal/ticker"
	"github.com/fuelcart/vouch/ledger"
	"github.com/fuelcart/vouch/platform"
	"github.com/fuelcart/vouch/platform/rest"
	"github.com/fuelcart/vouch/util/cliutil"
	"github.com/fuelcart/vouch/vouch"
	"github.com/fuelcart/vouch/watermark"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = time.Hour

type Server struct {
	Engine     *vouch.Engine
	Ledger     ledger.Ledger
	Dispatcher *Dispatcher
	Consumer   *Consumer
	Webhook    *Webhook
	Client     *rest.Client
	logger     *slog.Logger
	config     Config

	// member cache client, when it is not the ledger's own
	redis *redis.Client
}

type Config struct {
	LedgerURL          string
	MaxDBConnections   int
	PerCommunity       bool
	DefaultCommunity   string
	SubmissionChannel  string
	ReviewChannel      string
	PointsPerApproval  int64
	MarkPath           string
	MarkText           string
	MarkOpacity        float64
	ServerName         string
	StaffRole          string
	BotUserID          string
	RedisURL           string
	PlatformAPIHost    string
	PlatformToken      string
	ApplicationID      string
	GatewayURL         string
	WebhookSecret      string
	Bind               string
	TempDir            string
	MaxAttachmentBytes int64
	EventConcurrency   int
	EventTimeout       time.Duration
	CaseTTL            time.Duration
	RateLimit          float64
	PublicOnlyDownload bool
	Logger             *slog.Logger
}

func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.GatewayURL == "" && config.WebhookSecret == "" {
		return nil, fmt.Errorf("no event source configured: set a gateway URL or a webhook secret")
	}

	scope := ledger.Scope{PerCommunity: config.PerCommunity}
	l, err := openLedger(ctx, config.LedgerURL, config.MaxDBConnections, scope, config.DefaultCommunity, logger)
	if err != nil {
		return nil, err
	}

	mark, err := watermark.LoadMark(config.MarkPath)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("loading watermark: %w", err)
	}
	if mark == nil {
		logger.Warn("watermark image not found, using text mark", "path", config.MarkPath, "text", config.MarkText)
	}
	pipeline := &watermark.Pipeline{
		Mark:    mark,
		Opacity: config.MarkOpacity,
		Text:    config.MarkText,
	}

	var rdb, ownRedis *redis.Client
	if rl, ok := l.(*ledger.RedisLedger); ok && config.RedisURL == "" {
		rdb = rl.Client
	} else if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to parse redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(ctx).Result()
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to connect to redis: %v", err)
		}
		ownRedis = rdb
	}

	var cache cachestore.CacheStore
	if rdb != nil {
		cache = cachestore.NewRedisCacheStore(rdb, 30*time.Minute)
	} else {
		cache = cachestore.NewMemCacheStore(5_000, 30*time.Minute)
	}

	client := rest.NewClient(rest.ClientConfig{
		Host:                config.PlatformAPIHost,
		Token:               config.PlatformToken,
		RateLimit:           config.RateLimit,
		Logger:              logger,
		PublicOnlyDownloads: config.PublicOnlyDownload,
		ApplicationID:       config.ApplicationID,
	})
	sink := platform.NewCachingSink(client, cache, logger)

	eng := vouch.NewEngine(vouch.Config{
		SubmissionChannel:  config.SubmissionChannel,
		ReviewChannel:      config.ReviewChannel,
		PointsPerApproval:  config.PointsPerApproval,
		ServerName:         config.ServerName,
		StaffRole:          config.StaffRole,
		BotUserID:          config.BotUserID,
		MaxAttachmentBytes: config.MaxAttachmentBytes,
		TempDir:            config.TempDir,
		CaseTTL:            config.CaseTTL,
	}, l, scope, pipeline, sink, logger.With("component", "engine"))

	disp := NewDispatcher(eng, config.EventConcurrency, config.EventTimeout, logger)

	s := &Server{
		Engine:     eng,
		Ledger:     l,
		Dispatcher: disp,
		Client:     client,
		logger:     logger,
		config:     config,
		redis:      ownRedis,
	}
	if config.GatewayURL != "" {
		s.Consumer = NewConsumer(config.GatewayURL, config.PlatformToken, disp, logger)
	}
	s.Webhook = NewWebhook(config.WebhookSecret, disp, logger)
	return s, nil
}

// openLedger selects the ledger adapter from the URL scheme. Persistent
// ledgers are migrated to the configured scope before use.
func openLedger(ctx context.Context, ledgerURL string, maxConns int, scope ledger.Scope, defaultCommunity string, logger *slog.Logger) (ledger.Ledger, error) {
	logger = logger.With("component", "ledger")
	switch {
	case ledgerURL == "memory://" || ledgerURL == "memory":
		return ledger.NewMemLedger(), nil
	case strings.HasPrefix(ledgerURL, "redis://") || strings.HasPrefix(ledgerURL, "rediss://"):
		rl, err := ledger.NewRedisLedger(ledgerURL)
		if err != nil {
			return nil, err
		}
		rl.Logger = logger
		if err := rl.Migrate(ctx, defaultCommunity, scope); err != nil {
			rl.Close()
			return nil, fmt.Errorf("migrating ledger: %w", err)
		}
		return rl, nil
	default:
		db, err := cliutil.SetupDatabase(ledgerURL, maxConns)
		if err != nil {
			return nil, err
		}
		gl := ledger.NewGormLedger(db, scope)
		gl.Logger = logger
		if err := gl.Migrate(ctx, defaultCommunity); err != nil {
			gl.Close()
			return nil, fmt.Errorf("migrating ledger: %w", err)
		}
		return gl, nil
	}
}

// Run serves inbound events until ctx is cancelled, then drains in-flight
// events and releases resources.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.config.WebhookSecret != "" {
		e := s.Webhook.Echo()
		g.Go(func() error {
			s.logger.Info("starting webhook listener", "bind", s.config.Bind)
			if err := e.Start(s.config.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("webhook listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}

	if s.Consumer != nil {
		g.Go(func() error {
			return s.Consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		return ticker.Periodically(gctx, sweepInterval, s.logger, "case-sweep", func(ctx context.Context) error {
			s.Engine.Sweep(ctx)
			return nil
		})
	})

	err := g.Wait()
	s.logger.Info("shutting down")
	s.Dispatcher.Wait()
	s.Engine.Close()
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	s.Client.Close(flushCtx)
	cancel()
	if cerr := s.Ledger.Close(); cerr != nil {
		s.logger.Error("failed to close ledger", "err", cerr)
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}
