// Package platform describes the chat platform as seen by the moderation
// core: an inbound stream of events and an outbound command sink.
//
// Concrete transports live elsewhere (see the rest sub-package and
// cmd/vouchd); everything in this package is transport-agnostic.
package platform

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventInteraction    EventType = "interaction"
)

// Event is the envelope delivered by every inbound transport. Exactly one of
// Message or Interaction is set, matching Type.
type Event struct {
	Type        EventType    `json:"type"`
	Message     *Message     `json:"message,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
	// administrator-equivalent permission in the community the event came from
	IsAdmin bool     `json:"is_admin,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

func (u User) Mention() string {
	return Mention(u.ID)
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Mention renders the platform's inline reference to a member id.
func Mention(id string) string {
	return "<@" + id + ">"
}

type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	// inline bytes, for transports which deliver the payload with the event
	Data []byte `json:"data,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	CommunityID string       `json:"community_id"`
	Author      User         `json:"author"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Interaction is a click on a message control.
type Interaction struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
	// application the interaction was sent to; follow-ups are posted as it
	ApplicationID string `json:"application_id,omitempty"`
	ControlID     string `json:"control_id"`
	Actor         User   `json:"actor"`
	// the message carrying the control
	MessageID   string `json:"message_id"`
	ChannelID   string `json:"channel_id"`
	CommunityID string `json:"community_id"`
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImage reports whether an attachment should be treated as an image. A
// declared content type always wins; the filename extension is only
// consulted when no content type was declared.
func IsImage(att Attachment) bool {
	if att.ContentType != "" {
		mt, _, err := mime.ParseMediaType(att.ContentType)
		if err != nil {
			mt = att.ContentType
		}
		return strings.HasPrefix(strings.ToLower(mt), "image/")
	}
	return imageExtensions[strings.ToLower(filepath.Ext(att.Filename))]
}
