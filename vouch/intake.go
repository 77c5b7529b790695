package vouch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fuelcart/vouch/platform"
	"github.com/fuelcart/vouch/watermark"

	"go.opentelemetry.io/otel/attribute"
)

const (
	artifactFilename = "processed.jpg"
	embedColor       = 0x5c19ae
)

func captionText(caption string) string {
	if caption == "" {
		return ""
	}
	return "**" + caption + "**"
}

// IsSubmission reports whether a message qualifies as an image submission:
// posted by a human in the submission channel, with an image as first
// attachment.
func (eng *Engine) IsSubmission(msg *platform.Message) bool {
	if msg.Author.Bot || msg.ChannelID != eng.Config.SubmissionChannel {
		return false
	}
	if len(msg.Attachments) == 0 {
		return false
	}
	return platform.IsImage(msg.Attachments[0])
}

// HandleMessage runs intake for a submission. It returns false, without any
// side effect, for messages which are not submissions so the caller can
// continue with command processing.
func (eng *Engine) HandleMessage(ctx context.Context, msg *platform.Message) bool {
	if !eng.IsSubmission(msg) {
		return false
	}
	if _, err := eng.Intake(ctx, msg); err != nil {
		eng.Logger.Warn("submission intake failed", "message", msg.ID, "author", msg.Author.ID, "err", err)
	}
	return true
}

// Intake watermarks a submission and opens its review case. Pipeline and
// fetch failures are answered with a short-lived reply to the submitter; no
// case is opened for them.
func (eng *Engine) Intake(ctx context.Context, msg *platform.Message) (*Case, error) {
	ctx, span := tracer.Start(ctx, "Intake")
	defer span.End()
	span.SetAttributes(attribute.String("message", msg.ID), attribute.String("author", msg.Author.ID))

	logger := eng.Logger.With("message", msg.ID, "author", msg.Author.ID)
	sub := Submission{
		MessageID:   msg.ID,
		SubmitterID: msg.Author.ID,
		CommunityID: msg.CommunityID,
		Caption:     strings.TrimSpace(msg.Content),
		CreatedAt:   msg.CreatedAt,
	}

	out, err := eng.processAttachment(ctx, msg.Attachments[0])
	if err != nil {
		submissionCount.WithLabelValues(intakeOutcome(err)).Inc()
		eng.replyError(ctx, msg, fmt.Sprintf("%s, error processing your image.", msg.Author.Mention()))
		return nil, err
	}

	art, err := writeArtifact(eng.Config.TempDir, out)
	if err != nil {
		submissionCount.WithLabelValues("artifact_error").Inc()
		eng.replyError(ctx, msg, fmt.Sprintf("%s, error processing your image.", msg.Author.Mention()))
		return nil, fmt.Errorf("storing watermarked image: %w", err)
	}

	// the controls are attached once the case is registered, so that no click
	// can arrive for a review message the engine does not know yet
	review := platform.OutgoingMessage{
		ChannelID: eng.Config.ReviewChannel,
		Content:   "⏳ Preparing review...",
		Embed: &platform.Embed{
			Title:         fmt.Sprintf("New %s Vouch Submission", eng.Config.ServerName),
			Description:   captionText(sub.Caption),
			Color:         embedColor,
			AuthorName:    msg.Author.DisplayName,
			AuthorIconURL: msg.Author.AvatarURL,
			ImageFile:     artifactFilename,
		},
		File: &platform.File{Name: artifactFilename, ContentType: "image/jpeg", Data: out},
	}
	reviewID, err := eng.Sink.SendMessage(ctx, review)
	if err != nil {
		if rerr := art.Release(); rerr != nil {
			logger.Warn("failed to remove artifact", "path", art.Path, "err", rerr)
		}
		submissionCount.WithLabelValues("publish_error").Inc()
		return nil, fmt.Errorf("publishing review case: %w", err)
	}

	c := &Case{
		ID:         reviewID,
		ChannelID:  eng.Config.ReviewChannel,
		Submission: sub,
		Artifact:   art,
		OpenedAt:   time.Now(),
	}
	eng.cases.Store(c.ID, c)
	openCases.Inc()

	err = eng.Sink.EditMessage(ctx, c.ChannelID, c.ID, platform.MessageEdit{
		Embed:    review.Embed,
		Controls: reviewControls(),
	})
	if err != nil {
		if c.acquire() == nil {
			// never reviewable; withdraw the case and keep the original post
			c.finish(StatusExpired, "")
			eng.cases.Delete(c.ID)
			eng.closeCase(c)
			if derr := eng.Sink.DeleteMessage(ctx, c.ChannelID, c.ID); derr != nil && !errors.Is(derr, platform.ErrNotFound) {
				logger.Warn("failed to delete unusable review message", "case", c.ID, "err", derr)
			}
			submissionCount.WithLabelValues("publish_error").Inc()
			return nil, fmt.Errorf("attaching review controls: %w", err)
		}
		// a decision is already underway, so the controls did land
		logger.Warn("review controls edit reported an error", "case", c.ID, "err", err)
	}
	submissionCount.WithLabelValues("opened").Inc()
	logger.Info("review case opened", "case", c.ID)

	if err := eng.Sink.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		logger.Warn("failed to delete original submission", "err", err)
	}
	return c, nil
}

// processAttachment fetches the attachment and runs the pipeline. The raw bytes do
// not outlive this call.
func (eng *Engine) processAttachment(ctx context.Context, att platform.Attachment) ([]byte, error) {
	raw, err := eng.Sink.FetchAttachment(ctx, att, eng.Config.MaxAttachmentBytes)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment: %w", err)
	}
	return eng.Pipeline.Apply(raw)
}

func reviewControls() []platform.Control {
	return []platform.Control{
		{ID: ControlApprove, Label: "✅ Verify", Style: platform.StyleSuccess},
		{ID: ControlReject, Label: "❌ Reject", Style: platform.StyleDanger},
	}
}

func intakeOutcome(err error) string {
	var de *watermark.DecodeError
	var pe *watermark.PipelineError
	switch {
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &pe):
		return "pipeline_error"
	default:
		return "fetch_error"
	}
}

func (eng *Engine) replyError(ctx context.Context, msg *platform.Message, text string) {
	_, err := eng.Sink.SendMessage(ctx, platform.OutgoingMessage{
		ChannelID:   msg.ChannelID,
		Content:     text,
		DeleteAfter: eng.Config.ErrorReplyTTL,
	})
	if err != nil {
		eng.Logger.Warn("failed to send error reply", "message", msg.ID, "err", err)
	}
}
