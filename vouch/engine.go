// Package vouch is the moderation core: image submissions are watermarked and
// opened as review cases, staff decisions on those cases credit the points
// ledger, and a small chat command surface administers balances directly.
package vouch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fuelcart/vouch/ledger"
	"github.com/fuelcart/vouch/platform"
	"github.com/fuelcart/vouch/watermark"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vouch")

const (
	ControlApprove = "vouch:approve"
	ControlReject  = "vouch:reject"
)

type Config struct {
	// channel where members post submissions; approvals and rejections are announced here too
	SubmissionChannel string
	// staff channel which receives review cases
	ReviewChannel     string
	PointsPerApproval int64
	// community name used in user-facing text
	ServerName string
	// role allowed to resolve review cases, in addition to administrators
	StaffRole string
	// platform user id of the bot itself, accepted as a command prefix when mentioned
	BotUserID          string
	MaxAttachmentBytes int64
	TempDir            string
	// lifetime of the error replies sent to submitters
	ErrorReplyTTL time.Duration
	// pending cases older than this are expired by Sweep
	CaseTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.PointsPerApproval <= 0 {
		c.PointsPerApproval = 1
	}
	if c.ServerName == "" {
		c.ServerName = "Community"
	}
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = 25 << 20
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "vouch")
	}
	if c.ErrorReplyTTL <= 0 {
		c.ErrorReplyTTL = 10 * time.Second
	}
	if c.CaseTTL <= 0 {
		c.CaseTTL = 7 * 24 * time.Hour
	}
}

// Engine routes platform events to intake, review cases and chat commands.
type Engine struct {
	Logger   *slog.Logger
	Config   Config
	Ledger   ledger.Ledger
	Scope    ledger.Scope
	Pipeline *watermark.Pipeline
	Sink     platform.Sink
	Commands *Commands

	// review cases, by review message id
	cases *xsync.MapOf[string, *Case]
}

func NewEngine(cfg Config, l ledger.Ledger, scope ledger.Scope, pipeline *watermark.Pipeline, sink platform.Sink, logger *slog.Logger) *Engine {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if pipeline == nil {
		pipeline = &watermark.Pipeline{}
	}
	return &Engine{
		Logger:   logger,
		Config:   cfg,
		Ledger:   l,
		Scope:    scope,
		Pipeline: pipeline,
		Sink:     sink,
		Commands: &Commands{Ledger: l, Scope: scope},
		cases:    xsync.NewMapOf[string, *Case](),
	}
}

// HandleEvent processes a single inbound event. Message events go to intake
// first and fall through to command processing when they are not a
// submission.
func (eng *Engine) HandleEvent(ctx context.Context, evt *platform.Event) (err error) {
	typ := string(evt.Type)
	start := time.Now()
	// similar to an HTTP server, we want to recover any panics from event handling
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("vouch event execution exception", "err", r, "type", typ)
			err = fmt.Errorf("panic handling %s event: %v", typ, r)
		}
		eventProcessDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
		eventProcessCount.WithLabelValues(typ).Inc()
		if err != nil {
			eventErrorCount.WithLabelValues(typ).Inc()
		}
	}()

	switch evt.Type {
	case platform.EventMessageCreated:
		if evt.Message == nil {
			return fmt.Errorf("message event without message")
		}
		if eng.HandleMessage(ctx, evt.Message) {
			return nil
		}
		_, err := eng.HandleCommand(ctx, evt.Message)
		return err
	case platform.EventInteraction:
		if evt.Interaction == nil {
			return fmt.Errorf("interaction event without interaction")
		}
		return eng.HandleInteraction(ctx, evt.Interaction)
	default:
		eng.Logger.Debug("ignoring event", "type", typ)
		return nil
	}
}

func (eng *Engine) isStaff(u platform.User) bool {
	if u.IsAdmin {
		return true
	}
	return eng.Config.StaffRole != "" && u.HasRole(eng.Config.StaffRole)
}

// Case returns the review case for a review message id. Resolved cases stay
// registered until swept, so late clicks are answered as duplicates.
func (eng *Engine) Case(reviewMessageID string) (*Case, bool) {
	return eng.cases.Load(reviewMessageID)
}

// OpenCases counts cases still awaiting a decision.
func (eng *Engine) OpenCases() int {
	n := 0
	eng.cases.Range(func(id string, c *Case) bool {
		if s := c.Status(); s == StatusPending || s == StatusResolving {
			n++
		}
		return true
	})
	return n
}

// closeCase releases the artifact of a terminal case.
func (eng *Engine) closeCase(c *Case) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	openCases.Dec()
	if err := c.Artifact.Release(); err != nil {
		eng.Logger.Warn("failed to remove case artifact", "case", c.ID, "path", c.Artifact.Path, "err", err)
	}
}

// Sweep expires pending cases older than the configured case TTL, disabling
// their review controls, and forgets resolved cases older than that.
func (eng *Engine) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-eng.Config.CaseTTL)
	var stale []*Case
	eng.cases.Range(func(id string, c *Case) bool {
		if c.OpenedAt.Before(cutoff) {
			stale = append(stale, c)
		}
		return true
	})

	n := 0
	for _, c := range stale {
		if err := c.acquire(); err != nil {
			// resolved (or resolving right now); only drop settled tombstones
			if _, at := c.ResolvedBy(); !at.IsZero() && at.Before(cutoff) {
				eng.cases.Delete(c.ID)
			}
			continue
		}
		c.finish(StatusExpired, "")
		eng.closeCase(c)
		n++
		err := eng.Sink.EditMessage(ctx, c.ChannelID, c.ID, platform.MessageEdit{
			Content: fmt.Sprintf("⌛ This %s vouch submission for %s expired before review.", eng.Config.ServerName, platform.Mention(c.Submission.SubmitterID)),
		})
		if err != nil {
			eng.Logger.Warn("failed to disable expired review message", "case", c.ID, "err", err)
		}
	}
	if n > 0 {
		eng.Logger.Info("expired stale review cases", "count", n)
	}
	return n
}

// Close releases the artifacts of every case. Cases are process-local, so
// after a restart their review messages are handled as expired.
func (eng *Engine) Close() {
	eng.cases.Range(func(id string, c *Case) bool {
		eng.closeCase(c)
		return true
	})
	eng.cases.Clear()
}
