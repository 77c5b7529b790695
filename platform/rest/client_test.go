package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fuelcart/vouch/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method      string
	Path        string
	ContentType string
	Auth        string
	Body        []byte
}

type fakeAPI struct {
	mu   sync.Mutex
	reqs []recorded
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.reqs = append(f.reqs, recorded{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Auth:        r.Header.Get("Authorization"),
		Body:        body,
	})
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m100","channel_id":"c1"}`))
	case r.URL.Path == "/guilds/g1/members/u1":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nick":"","user":{"id":"u1","username":"ada","global_name":"Ada L","avatar":"abc"}}`))
	case r.URL.Path == "/files/big.png":
		w.Write(make([]byte, 2048))
	case r.URL.Path == "/files/small.png":
		w.Write([]byte("tiny"))
	case strings.HasPrefix(r.URL.Path, "/channels/") && r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/gone"):
		http.Error(w, `{"message":"Unknown Message"}`, http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func testClient(t *testing.T) (*Client, *fakeAPI, *httptest.Server) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{Host: srv.URL, Token: "sekrit", RateLimit: 1000})
	c.CDNHost = "https://cdn.example"
	return c, api, srv
}

func TestSendMessageJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, api, _ := testClient(t)

	id, err := c.SendMessage(ctx, platform.OutgoingMessage{
		ChannelID: "c1",
		Content:   "hello",
		Controls: []platform.Control{
			{ID: "vouch:approve", Label: "Approve", Style: platform.StyleSuccess},
			{ID: "vouch:reject", Label: "Reject", Style: platform.StyleDanger},
		},
	})
	require.NoError(t, err)
	assert.Equal("m100", id)

	req := api.last()
	assert.Equal("/channels/c1/messages", req.Path)
	assert.Equal("Bot sekrit", req.Auth)
	assert.Equal("application/json", req.ContentType)

	var p messagePayload
	require.NoError(t, json.Unmarshal(req.Body, &p))
	assert.Equal("hello", p.Content)
	require.Len(t, p.Components, 1)
	require.Len(t, p.Components[0].Components, 2)
	assert.Equal("vouch:approve", p.Components[0].Components[0].CustomID)
	assert.Equal(3, p.Components[0].Components[0].Style)
}

func TestSendMessageWithFile(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, api, _ := testClient(t)

	_, err := c.SendMessage(ctx, platform.OutgoingMessage{
		ChannelID: "c1",
		Embed:     &platform.Embed{Title: "New submission", ImageFile: "proof.jpg"},
		File:      &platform.File{Name: "proof.jpg", ContentType: "image/jpeg", Data: []byte("jpegbytes")},
	})
	require.NoError(t, err)

	req := api.last()
	assert.True(strings.HasPrefix(req.ContentType, "multipart/form-data"))
	assert.Contains(string(req.Body), `name="payload_json"`)
	assert.Contains(string(req.Body), `filename="proof.jpg"`)
	assert.Contains(string(req.Body), "attachment://proof.jpg")
	assert.Contains(string(req.Body), "jpegbytes")
}

func TestEditClearsControls(t *testing.T) {
	assert := assert.New(t)
	c, api, _ := testClient(t)

	require.NoError(t, c.EditMessage(context.Background(), "c1", "m1", platform.MessageEdit{Content: "Approved"}))
	req := api.last()
	assert.Equal(http.MethodPatch, req.Method)
	assert.Equal("/channels/c1/messages/m1", req.Path)
	assert.JSONEq(`{"content":"Approved","embeds":[],"components":[]}`, string(req.Body))
}

func TestDeleteNotFound(t *testing.T) {
	c, _, _ := testClient(t)

	err := c.DeleteMessage(context.Background(), "c1", "gone")
	assert.ErrorIs(t, err, platform.ErrNotFound)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestFetchMember(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := testClient(t)

	m, err := c.FetchMember(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Equal("Ada L", m.DisplayName)
	assert.Equal("https://cdn.example/avatars/u1/abc.png", m.AvatarURL)

	assert.Equal("nick", guildMember{Nick: "nick", User: apiUser{Username: "x"}}.displayName())
	assert.Equal("x", guildMember{User: apiUser{Username: "x"}}.displayName())
}

func TestFetchAttachmentLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, _, srv := testClient(t)

	data, err := c.FetchAttachment(ctx, platform.Attachment{URL: srv.URL + "/files/small.png"}, 1024)
	assert.NoError(err)
	assert.Equal("tiny", string(data))

	// declared size is trusted up front
	_, err = c.FetchAttachment(ctx, platform.Attachment{URL: srv.URL + "/files/small.png", Size: 4096}, 1024)
	assert.ErrorIs(err, platform.ErrTooLarge)

	// and the body is bounded regardless
	_, err = c.FetchAttachment(ctx, platform.Attachment{URL: srv.URL + "/files/big.png"}, 1024)
	assert.ErrorIs(err, platform.ErrTooLarge)

	data, err = c.FetchAttachment(ctx, platform.Attachment{Data: []byte("inline")}, 1024)
	assert.NoError(err)
	assert.Equal("inline", string(data))
}

func TestRespondEphemeral(t *testing.T) {
	assert := assert.New(t)
	c, api, _ := testClient(t)

	err := c.Respond(context.Background(), platform.Interaction{ID: "i1", Token: "tok"}, "Already handled.")
	require.NoError(t, err)
	req := api.last()
	assert.Equal("/interactions/i1/tok/callback", req.Path)
	assert.JSONEq(`{"type":4,"data":{"content":"Already handled.","flags":64}}`, string(req.Body))
}

func TestDeferAndFollowup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, api, _ := testClient(t)
	in := platform.Interaction{ID: "i1", Token: "tok", ApplicationID: "app1"}

	require.NoError(t, c.Defer(ctx, in))
	req := api.last()
	assert.Equal("/interactions/i1/tok/callback", req.Path)
	assert.JSONEq(`{"type":5,"data":{"flags":64}}`, string(req.Body))

	require.NoError(t, c.Followup(ctx, in, "Vouch approved."))
	req = api.last()
	assert.Equal(http.MethodPost, req.Method)
	assert.Equal("/webhooks/app1/tok", req.Path)
	assert.JSONEq(`{"content":"Vouch approved.","flags":64}`, string(req.Body))

	// falls back to the configured application
	in.ApplicationID = ""
	assert.Error(c.Followup(ctx, in, "x"))
	c.ApplicationID = "app2"
	require.NoError(t, c.Followup(ctx, in, "x"))
	assert.Equal("/webhooks/app2/tok", api.last().Path)
}

func (f *fakeAPI) deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reqs {
		if r.Method == http.MethodDelete {
			out = append(out, r.Path)
		}
	}
	return out
}

func TestTransientMessageDeleted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, api, _ := testClient(t)

	_, err := c.SendMessage(ctx, platform.OutgoingMessage{ChannelID: "c1", Content: "oops", DeleteAfter: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Eventually(func() bool {
		return len(api.deletes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal([]string{"/channels/c1/messages/m100"}, api.deletes())
	assert.Equal(0, c.PendingDeletes())
}

func TestCloseFlushesTransientMessages(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, api, _ := testClient(t)

	_, err := c.SendMessage(ctx, platform.OutgoingMessage{ChannelID: "c1", Content: "oops", DeleteAfter: time.Hour})
	require.NoError(t, err)
	assert.Equal(1, c.PendingDeletes())
	assert.Empty(api.deletes())

	c.Close(ctx)
	assert.Equal(0, c.PendingDeletes())
	assert.Equal([]string{"/channels/c1/messages/m100"}, api.deletes())

	// nothing left to flush
	c.Close(ctx)
	assert.Len(api.deletes(), 1)
}
