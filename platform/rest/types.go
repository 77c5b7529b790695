package rest

import (
	"github.com/fuelcart/vouch/platform"
)

type messagePayload struct {
	Content         string              `json:"content"`
	Embeds          []embedPayload      `json:"embeds"`
	Components      []actionRow         `json:"components"`
	Attachments     []attachmentPayload `json:"attachments,omitempty"`
	AllowedMentions *allowedMentions    `json:"allowed_mentions,omitempty"`
}

// embeds and components are always sent, so that an empty list clears them
type editPayload struct {
	Content    string         `json:"content"`
	Embeds     []embedPayload `json:"embeds"`
	Components []actionRow    `json:"components"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type attachmentPayload struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type embedPayload struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Image       *embedImage  `json:"image,omitempty"`
}

type embedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

const (
	componentActionRow = 1
	componentButton    = 2
)

type actionRow struct {
	Type       int      `json:"type"`
	Components []button `json:"components"`
}

type button struct {
	Type     int    `json:"type"`
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
	Disabled bool   `json:"disabled,omitempty"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

type apiUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

type guildMember struct {
	Nick string  `json:"nick"`
	User apiUser `json:"user"`
}

func (gm guildMember) displayName() string {
	switch {
	case gm.Nick != "":
		return gm.Nick
	case gm.User.GlobalName != "":
		return gm.User.GlobalName
	default:
		return gm.User.Username
	}
}

type interactionResponse struct {
	Type int              `json:"type"`
	Data *interactionData `json:"data,omitempty"`
}

type interactionData struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

func toEmbeds(e *platform.Embed) []embedPayload {
	if e == nil {
		return []embedPayload{}
	}
	out := embedPayload{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		out.Author = &embedAuthor{Name: e.AuthorName, IconURL: e.AuthorIconURL}
	}
	if e.ImageFile != "" {
		out.Image = &embedImage{URL: "attachment://" + e.ImageFile}
	}
	return []embedPayload{out}
}

func toComponents(controls []platform.Control) []actionRow {
	if len(controls) == 0 {
		return []actionRow{}
	}
	row := actionRow{Type: componentActionRow}
	for _, c := range controls {
		row.Components = append(row.Components, button{
			Type:     componentButton,
			Style:    int(c.Style),
			Label:    c.Label,
			CustomID: c.ID,
			Disabled: c.Disabled,
		})
	}
	return []actionRow{row}
}
