package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// The referenced message, channel or member does not exist (or is no longer visible).
	ErrNotFound = errors.New("platform: not found")
	// An attachment exceeded the caller's size limit.
	ErrTooLarge = errors.New("platform: attachment too large")
)

type ControlStyle int

const (
	StylePrimary ControlStyle = iota + 1
	StyleSecondary
	StyleSuccess
	StyleDanger
)

// Control is a clickable button attached to a message.
type Control struct {
	ID       string
	Label    string
	Style    ControlStyle
	Disabled bool
}

type Embed struct {
	Title         string
	Description   string
	Color         int
	AuthorName    string
	AuthorIconURL string
	// name of the attached file rendered as the embed image
	ImageFile string
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type OutgoingMessage struct {
	ChannelID string
	Content   string
	Embed     *Embed
	File      *File
	Controls  []Control
	// when non-zero, the message is deleted again after this long
	DeleteAfter time.Duration
}

// MessageEdit replaces the content of an existing message. A nil Embed or
// empty Controls removes them from the message.
type MessageEdit struct {
	Content  string
	Embed    *Embed
	Controls []Control
}

// Member is the display data for a community member.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Sink is the outbound side of the chat platform.
type Sink interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, edit MessageEdit) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMember(ctx context.Context, communityID, memberID string) (*Member, error)
	// Downloads the attachment payload, failing with ErrTooLarge past maxBytes.
	FetchAttachment(ctx context.Context, att Attachment, maxBytes int64) ([]byte, error)
	// Replies privately to the actor of an interaction. Only valid while the
	// interaction is unanswered.
	Respond(ctx context.Context, in Interaction, text string) error
	// Acknowledges an interaction without a reply yet, so that the platform
	// does not time it out while the work runs. The reply is then sent with
	// Followup.
	Defer(ctx context.Context, in Interaction) error
	// Replies privately to the actor of a deferred interaction.
	Followup(ctx context.Context, in Interaction, text string) error
}
