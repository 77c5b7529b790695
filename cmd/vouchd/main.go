package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fuelcart/vouch/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "vouchd",
		Usage:   "image vouch moderation and points daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "ledger-url",
			Usage:   "points ledger location: memory://, sqlite://path, postgres://..., or redis://...",
			Value:   "sqlite://data/vouch/ledger.db",
			EnvVars: []string{"DATABASE_URL", "VOUCH_LEDGER_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"VOUCH_MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "per-community",
			Usage:   "track balances separately for each community (guild)",
			Value:   true,
			EnvVars: []string{"PER_GUILD", "VOUCH_PER_COMMUNITY"},
		},
		&cli.StringFlag{
			Name:    "community",
			Usage:   "default community id; pre-existing global balances are merged into it",
			EnvVars: []string{"VOUCH_COMMUNITY", "GUILD_ID"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"VOUCH_LOG_LEVEL", "GOLOG_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			EnvVars: []string{"VOUCH_LOG_FMT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		return err
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
		pointsCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "submission-channel",
			Usage:    "channel id where members post vouch images",
			Required: true,
			EnvVars:  []string{"VOUCH_SUBMISSION_CHANNEL", "TARGET_CHANNEL_ID"},
		},
		&cli.StringFlag{
			Name:     "review-channel",
			Usage:    "staff channel id receiving review cases",
			Required: true,
			EnvVars:  []string{"VOUCH_REVIEW_CHANNEL", "REVIEW_CHANNEL_ID"},
		},
		&cli.Int64Flag{
			Name:    "points-per-approval",
			Value:   1,
			EnvVars: []string{"VOUCH_POINTS_PER_APPROVAL"},
		},
		&cli.StringFlag{
			Name:    "mark-path",
			Usage:   "watermark image; when missing, a text mark is used",
			Value:   "logo.png",
			EnvVars: []string{"VOUCH_MARK_PATH"},
		},
		&cli.StringFlag{
			Name:    "mark-text",
			Usage:   "text mark used when no mark image is available",
			Value:   "VERIFIED",
			EnvVars: []string{"VOUCH_MARK_TEXT"},
		},
		&cli.Float64Flag{
			Name:    "mark-opacity",
			Value:   1.0,
			EnvVars: []string{"VOUCH_MARK_OPACITY"},
		},
		&cli.StringFlag{
			Name:    "server-name",
			Usage:   "community name shown in messages",
			Value:   "Fuel Cart",
			EnvVars: []string{"VOUCH_SERVER_NAME", "SERVER_NAME"},
		},
		&cli.StringFlag{
			Name:    "staff-role",
			Usage:   "role id allowed to approve or reject submissions (administrators always can)",
			EnvVars: []string{"VOUCH_STAFF_ROLE", "ALLOWED_ROLE_ID"},
		},
		&cli.StringFlag{
			Name:    "bot-user-id",
			Usage:   "platform user id of the bot, so that mentions work as a command prefix",
			EnvVars: []string{"VOUCH_BOT_USER_ID"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis for the member display cache (the ledger's redis is reused when it has one)",
			EnvVars: []string{"VOUCH_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "platform-api-host",
			Value:   "https://discord.com/api/v10",
			EnvVars: []string{"VOUCH_PLATFORM_API_HOST"},
		},
		&cli.StringFlag{
			Name:     "platform-token",
			Required: true,
			EnvVars:  []string{"BOT_TOKEN", "VOUCH_PLATFORM_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "platform-application-id",
			Usage:   "bot application id, for interaction follow-ups that do not carry one",
			EnvVars: []string{"VOUCH_PLATFORM_APPLICATION_ID", "APPLICATION_ID"},
		},
		&cli.StringFlag{
			Name:    "gateway-url",
			Usage:   "websocket URL of the event gateway; empty disables the gateway consumer",
			EnvVars: []string{"VOUCH_GATEWAY_URL"},
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "shared secret expected on POST /events; empty disables the webhook",
			EnvVars: []string{"VOUCH_WEBHOOK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3900",
			EnvVars: []string{"VOUCH_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3901",
			EnvVars: []string{"VOUCH_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "temp-dir",
			Usage:   "directory for watermarked images awaiting review",
			Value:   "temp",
			EnvVars: []string{"VOUCH_TEMP_DIR"},
		},
		&cli.Int64Flag{
			Name:    "max-attachment-bytes",
			Value:   25 << 20,
			EnvVars: []string{"VOUCH_MAX_ATTACHMENT_BYTES"},
		},
		&cli.IntFlag{
			Name:    "event-concurrency",
			Usage:   "max events processed in parallel",
			Value:   16,
			EnvVars: []string{"VOUCH_EVENT_CONCURRENCY"},
		},
		&cli.DurationFlag{
			Name:    "event-timeout",
			Value:   time.Minute,
			EnvVars: []string{"VOUCH_EVENT_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "case-ttl",
			Usage:   "pending review cases older than this are expired",
			Value:   7 * 24 * time.Hour,
			EnvVars: []string{"VOUCH_CASE_TTL"},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "max platform API requests per second",
			Value:   40,
			EnvVars: []string{"VOUCH_RATE_LIMIT"},
		},
		&cli.BoolFlag{
			Name:    "public-only-downloads",
			Usage:   "refuse attachment downloads from private network addresses",
			Value:   true,
			EnvVars: []string{"VOUCH_PUBLIC_ONLY_DOWNLOADS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger := slog.Default().With("system", "vouchd")

		shutdownOTEL := configOTEL("vouchd")
		defer shutdownOTEL()

		srv, err := NewServer(ctx, Config{
			LedgerURL:          cctx.String("ledger-url"),
			MaxDBConnections:   cctx.Int("max-db-connections"),
			PerCommunity:       cctx.Bool("per-community"),
			DefaultCommunity:   cctx.String("community"),
			SubmissionChannel:  cctx.String("submission-channel"),
			ReviewChannel:      cctx.String("review-channel"),
			PointsPerApproval:  cctx.Int64("points-per-approval"),
			MarkPath:           cctx.String("mark-path"),
			MarkText:           cctx.String("mark-text"),
			MarkOpacity:        cctx.Float64("mark-opacity"),
			ServerName:         cctx.String("server-name"),
			StaffRole:          cctx.String("staff-role"),
			BotUserID:          cctx.String("bot-user-id"),
			RedisURL:           cctx.String("redis-url"),
			PlatformAPIHost:    cctx.String("platform-api-host"),
			PlatformToken:      cctx.String("platform-token"),
			ApplicationID:      cctx.String("platform-application-id"),
			GatewayURL:         cctx.String("gateway-url"),
			WebhookSecret:      cctx.String("webhook-secret"),
			Bind:               cctx.String("bind"),
			TempDir:            cctx.String("temp-dir"),
			MaxAttachmentBytes: cctx.Int64("max-attachment-bytes"),
			EventConcurrency:   cctx.Int("event-concurrency"),
			EventTimeout:       cctx.Duration("event-timeout"),
			CaseTTL:            cctx.Duration("case-ttl"),
			RateLimit:          cctx.Float64("rate-limit"),
			PublicOnlyDownload: cctx.Bool("public-only-downloads"),
			Logger:             logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run vouch service: %w", err)
		}
		return nil
	},
}
