// Package rest implements platform.Sink against the chat platform's HTTP API
// (v10-style bot endpoints: channels, messages, guild members, interactions).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/fuelcart/vouch/platform"
	"github.com/fuelcart/vouch/util"
	"github.com/fuelcart/vouch/util/ssrf"
	"golang.org/x/time/rate"
)

const DefaultHost = "https://discord.com/api/v10"

// Client talks to the platform API with a bot token. All requests share one
// client-side rate limiter; server-side 429s are retried by the HTTP client.
type Client struct {
	Host      string
	Token     string
	UserAgent string
	// API requests
	HTTP *http.Client
	// attachment downloads, which go to arbitrary CDN hosts
	Download *http.Client
	Limiter  *rate.Limiter
	Logger   *slog.Logger
	// base for member avatar URLs
	CDNHost string
	// used for follow-ups when an interaction does not carry its own
	ApplicationID string

	mu sync.Mutex
	// messages scheduled for deletion, by timer
	transient map[*time.Timer]transientMessage
}

type transientMessage struct {
	ChannelID string
	MessageID string
}

var _ platform.Sink = (*Client)(nil)

type ClientConfig struct {
	Host      string
	Token     string
	RateLimit float64
	Logger    *slog.Logger
	// bot application id, the fallback for interaction follow-ups
	ApplicationID string
	// restrict attachment downloads to public addresses
	PublicOnlyDownloads bool
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Limit(40)
	}
	var dlTransport http.RoundTripper
	if cfg.PublicOnlyDownloads {
		dlTransport = ssrf.PublicOnlyTransport()
	}
	return &Client{
		Host:      host,
		Token:     cfg.Token,
		UserAgent: "vouchd/" + versioninfo.Short(),
		HTTP:      util.RobustHTTPClient(logger, nil),
		Download:  util.RobustHTTPClient(logger, dlTransport),
		Limiter:   rate.NewLimiter(limit, int(max(1, cfg.RateLimit))),
		Logger:    logger.With("component", "platform-rest"),
		CDNHost:   "https://cdn.discordapp.com",

		ApplicationID: cfg.ApplicationID,
		transient:     make(map[*time.Timer]transientMessage),
	}
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return platform.ErrNotFound
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	if err := c.Limiter.Wait(ctx); err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	req.Header.Set("User-Agent", c.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	ct := ""
	if body != nil {
		ct = "application/json"
	}
	return c.do(ctx, method, path, ct, body, out)
}

func (c *Client) SendMessage(ctx context.Context, msg platform.OutgoingMessage) (string, error) {
	payload := messagePayload{
		Content:         msg.Content,
		Embeds:          toEmbeds(msg.Embed),
		Components:      toComponents(msg.Controls),
		AllowedMentions: &allowedMentions{Parse: []string{"users"}},
	}
	path := "/channels/" + msg.ChannelID + "/messages"

	var created messageResponse
	if msg.File == nil {
		if err := c.doJSON(ctx, http.MethodPost, path, payload, &created); err != nil {
			return "", err
		}
	} else {
		payload.Attachments = []attachmentPayload{{ID: 0, Filename: msg.File.Name}}
		body, ct, err := multipartBody(payload, msg.File)
		if err != nil {
			return "", err
		}
		if err := c.do(ctx, http.MethodPost, path, ct, body, &created); err != nil {
			return "", err
		}
	}

	if msg.DeleteAfter > 0 {
		c.scheduleDelete(transientMessage{ChannelID: msg.ChannelID, MessageID: created.ID}, msg.DeleteAfter)
	}
	return created.ID, nil
}

func (c *Client) scheduleDelete(m transientMessage, after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transient == nil {
		c.transient = make(map[*time.Timer]transientMessage)
	}
	var t *time.Timer
	t = time.AfterFunc(after, func() {
		c.mu.Lock()
		delete(c.transient, t)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.deleteTransient(ctx, m)
	})
	c.transient[t] = m
}

func (c *Client) deleteTransient(ctx context.Context, m transientMessage) {
	if err := c.DeleteMessage(ctx, m.ChannelID, m.MessageID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		c.Logger.Warn("failed to delete transient message", "channel", m.ChannelID, "message", m.MessageID, "err", err)
	}
}

// PendingDeletes counts transient messages still waiting for deletion.
func (c *Client) PendingDeletes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transient)
}

// Close deletes every transient message whose timer has not fired yet, so
// that none outlives the process.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	var flush []transientMessage
	for t, m := range c.transient {
		// a timer which already fired deletes its own message
		if t.Stop() {
			flush = append(flush, m)
		}
		delete(c.transient, t)
	}
	c.mu.Unlock()

	for _, m := range flush {
		c.deleteTransient(ctx, m)
	}
	if len(flush) > 0 {
		c.Logger.Info("deleted pending transient messages", "count", len(flush))
	}
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, edit platform.MessageEdit) error {
	payload := editPayload{
		Content:    edit.Content,
		Embeds:     toEmbeds(edit.Embed),
		Components: toComponents(edit.Controls),
	}
	return c.doJSON(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, payload, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, "", nil, nil)
}

func (c *Client) FetchMember(ctx context.Context, communityID, memberID string) (*platform.Member, error) {
	var gm guildMember
	if err := c.doJSON(ctx, http.MethodGet, "/guilds/"+communityID+"/members/"+memberID, nil, &gm); err != nil {
		return nil, err
	}
	m := &platform.Member{
		ID:          gm.User.ID,
		DisplayName: gm.displayName(),
	}
	if gm.User.Avatar != "" {
		m.AvatarURL = fmt.Sprintf("%s/avatars/%s/%s.png", c.CDNHost, gm.User.ID, gm.User.Avatar)
	}
	return m, nil
}

func (c *Client) FetchAttachment(ctx context.Context, att platform.Attachment, maxBytes int64) ([]byte, error) {
	if att.Data != nil {
		if maxBytes > 0 && int64(len(att.Data)) > maxBytes {
			return nil, platform.ErrTooLarge
		}
		return att.Data, nil
	}
	if maxBytes > 0 && att.Size > maxBytes {
		return nil, platform.ErrTooLarge
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.Download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, platform.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching attachment: status %d", resp.StatusCode)
	}

	rdr := io.Reader(resp.Body)
	if maxBytes > 0 {
		rdr = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(rdr)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, platform.ErrTooLarge
	}
	return data, nil
}

// interaction callback types
const (
	// channel message with source
	callbackMessage = 4
	// deferred channel message with source; the reply follows as a webhook message
	callbackDeferred = 5
)

// message flag: only the invoking user sees it
const flagEphemeral = 1 << 6

func (c *Client) Respond(ctx context.Context, in platform.Interaction, text string) error {
	payload := interactionResponse{
		Type: callbackMessage,
		Data: &interactionData{Content: text, Flags: flagEphemeral},
	}
	return c.doJSON(ctx, http.MethodPost, "/interactions/"+in.ID+"/"+in.Token+"/callback", payload, nil)
}

func (c *Client) Defer(ctx context.Context, in platform.Interaction) error {
	payload := interactionResponse{
		Type: callbackDeferred,
		Data: &interactionData{Flags: flagEphemeral},
	}
	return c.doJSON(ctx, http.MethodPost, "/interactions/"+in.ID+"/"+in.Token+"/callback", payload, nil)
}

func (c *Client) Followup(ctx context.Context, in platform.Interaction, text string) error {
	app := in.ApplicationID
	if app == "" {
		app = c.ApplicationID
	}
	if app == "" {
		return fmt.Errorf("follow-up to interaction %s: no application id", in.ID)
	}
	payload := interactionData{Content: text, Flags: flagEphemeral}
	return c.doJSON(ctx, http.MethodPost, "/webhooks/"+app+"/"+in.Token, payload, nil)
}

func multipartBody(payload messagePayload, f *platform.File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	pj, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("payload_json", string(pj)); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[0]"; filename=%q`, f.Name))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
