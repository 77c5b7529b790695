package vouch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/fuelcart/vouch/ledger"
	"github.com/fuelcart/vouch/platform"

	"go.opentelemetry.io/otel/attribute"
)

type Status int32

const (
	StatusPending Status = iota
	// a decision holds the latch and is executing
	StatusResolving
	StatusApproved
	StatusRejected
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolving:
		return "resolving"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Submission is the member post a case was opened for.
type Submission struct {
	MessageID   string
	SubmitterID string
	CommunityID string
	Caption     string
	CreatedAt   time.Time
}

// Case is one submission under review, identified by its review message id.
//
// The status field is the single-resolution latch: a decision must move it
// from pending to resolving before any side effect, and only a ledger failure
// during approval moves it back.
type Case struct {
	ID         string
	ChannelID  string
	Submission Submission
	Artifact   *Artifact
	OpenedAt   time.Time

	status atomic.Int32
	closed atomic.Bool
	// written by the latch holder only
	resolvedBy string
	resolvedAt time.Time
}

func (c *Case) Status() Status {
	return Status(c.status.Load())
}

// ResolvedBy is the actor id of the decision, once the case is terminal.
func (c *Case) ResolvedBy() (string, time.Time) {
	if s := c.Status(); s == StatusPending || s == StatusResolving {
		return "", time.Time{}
	}
	return c.resolvedBy, c.resolvedAt
}

func (c *Case) acquire() error {
	if !c.status.CompareAndSwap(int32(StatusPending), int32(StatusResolving)) {
		return ErrDuplicateResolution
	}
	return nil
}

func (c *Case) reopen() {
	c.status.Store(int32(StatusPending))
}

// reopenOnPanic returns a latched case to pending when the decision holding
// it panics before reaching a terminal status. The panic is propagated.
func (c *Case) reopenOnPanic() {
	if r := recover(); r != nil {
		c.status.CompareAndSwap(int32(StatusResolving), int32(StatusPending))
		panic(r)
	}
}

func (c *Case) finish(s Status, actor string) {
	c.resolvedBy = actor
	c.resolvedAt = time.Now()
	c.status.Store(int32(s))
}

// Outcome describes a completed decision. Notes lists follow-up steps which
// failed after the decision itself took effect.
type Outcome struct {
	Status Status
	// submitter balance after an approval
	Total int64
	Notes []string
}

// HandleInteraction resolves a review control click and answers the actor.
// The interaction is acknowledged before the decision runs, and the reply
// follows once it completes.
func (eng *Engine) HandleInteraction(ctx context.Context, in *platform.Interaction) (err error) {
	var decide func(context.Context, *platform.Interaction) (*Outcome, error)
	switch in.ControlID {
	case ControlApprove:
		decide = eng.Approve
	case ControlReject:
		decide = eng.Reject
	default:
		return nil
	}

	deferred := true
	if derr := eng.Sink.Defer(ctx, *in); derr != nil {
		eng.Logger.Warn("failed to acknowledge interaction", "interaction", in.ID, "err", derr)
		deferred = false
	}
	answer := func(text string) {
		var rerr error
		if deferred {
			rerr = eng.Sink.Followup(ctx, *in, text)
		} else {
			rerr = eng.Sink.Respond(ctx, *in, text)
		}
		if rerr != nil {
			eng.Logger.Warn("failed to answer interaction", "interaction", in.ID, "err", rerr)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("panic resolving review decision", "interaction", in.ID, "control", in.ControlID, "panic", r, "stack", string(debug.Stack()))
			answer("Something went wrong. Please try again.")
			err = fmt.Errorf("panic resolving %s on %s: %v", in.ControlID, in.MessageID, r)
		}
	}()

	out, err := decide(ctx, in)
	reply, logErr := eng.decisionReply(in, out, err)
	answer(reply)
	return logErr
}

// decisionReply maps a decision result to the actor-facing text, and to the
// error worth reporting upstream (benign outcomes are not errors).
func (eng *Engine) decisionReply(in *platform.Interaction, out *Outcome, err error) (string, error) {
	name := eng.Config.ServerName
	switch {
	case err == nil:
		var reply string
		if out.Status == StatusApproved {
			reply = name + " vouch verified and posted."
		} else {
			reply = name + " vouch rejected."
		}
		for _, n := range out.Notes {
			reply += "\n" + n
		}
		return reply, nil
	case errors.Is(err, ErrDuplicateResolution):
		return "Already processed.", nil
	case errors.Is(err, ErrNotAuthorized):
		return "You are not allowed to review submissions.", nil
	case errors.Is(err, ErrCaseNotFound):
		return "This submission has expired. Ask the member to post it again.", nil
	case errors.Is(err, ledger.ErrUnavailable):
		return "Could not record the approval right now. Please try again.", err
	default:
		eng.Logger.Error("review decision failed", "interaction", in.ID, "control", in.ControlID, "err", err)
		return "Something went wrong. Please try again.", err
	}
}

// lookupCase authorizes the actor and latches the referenced case.
func (eng *Engine) lookupCase(ctx context.Context, in *platform.Interaction) (*Case, error) {
	if !eng.isStaff(in.Actor) {
		return nil, ErrNotAuthorized
	}
	c, ok := eng.cases.Load(in.MessageID)
	if !ok {
		eng.expireStaleControls(ctx, in)
		return nil, ErrCaseNotFound
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	return c, nil
}

// expireStaleControls disables the controls of a review message the engine
// holds no case for.
func (eng *Engine) expireStaleControls(ctx context.Context, in *platform.Interaction) {
	err := eng.Sink.EditMessage(ctx, in.ChannelID, in.MessageID, platform.MessageEdit{
		Content: "⌛ This submission expired before review.",
	})
	if err != nil {
		eng.Logger.Warn("failed to disable stale review controls", "message", in.MessageID, "err", err)
	}
}

// Approve credits the submitter, republishes the watermarked image and
// closes the case.
func (eng *Engine) Approve(ctx context.Context, in *platform.Interaction) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "Approve")
	defer span.End()

	c, err := eng.lookupCase(ctx, in)
	if err != nil {
		return nil, err
	}
	defer c.reopenOnPanic()
	sub := c.Submission
	span.SetAttributes(attribute.String("case", c.ID), attribute.String("submitter", sub.SubmitterID))
	logger := eng.Logger.With("case", c.ID, "submitter", sub.SubmitterID, "actor", in.Actor.ID)

	key := eng.Scope.Key(sub.CommunityID, sub.SubmitterID)
	total, err := eng.Ledger.Add(ctx, key, eng.Config.PointsPerApproval)
	if err != nil {
		// nothing has happened yet; the case goes back to pending for a retry
		c.reopen()
		resolutionCount.WithLabelValues("ledger_error").Inc()
		return nil, fmt.Errorf("crediting %s: %w", key, err)
	}
	c.finish(StatusApproved, in.Actor.ID)
	defer eng.closeCase(c)
	resolutionCount.WithLabelValues("approved").Inc()
	logger.Info("submission approved", "total", total)

	out := &Outcome{Status: StatusApproved, Total: total}
	mention := platform.Mention(sub.SubmitterID)

	display := mention
	m, err := eng.Sink.FetchMember(ctx, sub.CommunityID, sub.SubmitterID)
	if err != nil {
		logger.Warn("failed to resolve submitter for display", "err", err)
		out.Notes = append(out.Notes, "Points were credited, but the member could not be found for display.")
	} else {
		display = m.DisplayName
	}

	msg := platform.OutgoingMessage{
		ChannelID: eng.Config.SubmissionChannel,
		Content:   fmt.Sprintf("✅ Verified %s vouch for %s! They now have %d points.", eng.Config.ServerName, mention, total),
		Embed: &platform.Embed{
			Title:       fmt.Sprintf("%s Vouch by %s", eng.Config.ServerName, display),
			Description: captionText(sub.Caption),
			Color:       embedColor,
		},
	}
	if data, err := c.Artifact.Read(); err != nil {
		logger.Error("watermarked image missing", "path", c.Artifact.Path, "err", err)
		out.Notes = append(out.Notes, "The watermarked image was lost and could not be posted.")
	} else {
		msg.Embed.ImageFile = artifactFilename
		msg.File = &platform.File{Name: artifactFilename, ContentType: "image/jpeg", Data: data}
	}
	if _, err := eng.Sink.SendMessage(ctx, msg); err != nil {
		logger.Error("failed to publish approved vouch", "err", err)
		out.Notes = append(out.Notes, "Could not post the vouch to the public channel.")
	}

	err = eng.Sink.EditMessage(ctx, c.ChannelID, c.ID, platform.MessageEdit{
		Content: fmt.Sprintf("✅ **Verified by %s** for %s.", in.Actor.Mention(), mention),
	})
	if err != nil {
		logger.Error("failed to finalize review message", "err", err)
		out.Notes = append(out.Notes, "Could not update the review message.")
	}
	return out, nil
}

// Reject announces the rejection and closes the case. The ledger is not touched.
func (eng *Engine) Reject(ctx context.Context, in *platform.Interaction) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "Reject")
	defer span.End()

	c, err := eng.lookupCase(ctx, in)
	if err != nil {
		return nil, err
	}
	defer c.reopenOnPanic()
	sub := c.Submission
	span.SetAttributes(attribute.String("case", c.ID), attribute.String("submitter", sub.SubmitterID))
	logger := eng.Logger.With("case", c.ID, "submitter", sub.SubmitterID, "actor", in.Actor.ID)

	c.finish(StatusRejected, in.Actor.ID)
	defer eng.closeCase(c)
	resolutionCount.WithLabelValues("rejected").Inc()
	logger.Info("submission rejected")

	out := &Outcome{Status: StatusRejected}
	mention := platform.Mention(sub.SubmitterID)

	_, err = eng.Sink.SendMessage(ctx, platform.OutgoingMessage{
		ChannelID: eng.Config.SubmissionChannel,
		Content:   fmt.Sprintf("❌ A %s vouch submission for %s was rejected.", eng.Config.ServerName, mention),
	})
	if err != nil {
		logger.Error("failed to publish rejection notice", "err", err)
		out.Notes = append(out.Notes, "Could not post the rejection notice.")
	}

	err = eng.Sink.EditMessage(ctx, c.ChannelID, c.ID, platform.MessageEdit{
		Content: fmt.Sprintf("❌ **Rejected by %s** for %s.", in.Actor.Mention(), mention),
	})
	if err != nil {
		logger.Error("failed to finalize review message", "err", err)
		out.Notes = append(out.Notes, "Could not update the review message.")
	}
	return out, nil
}
