package platform

import (
	"context"
	"fmt"
	"sync"
)

type SentMessage struct {
	ID string
	OutgoingMessage
}

type EditedMessage struct {
	ChannelID string
	MessageID string
	Edit      MessageEdit
}

type Response struct {
	Interaction Interaction
	Text        string
	// sent as a follow-up to a deferred interaction
	Followup bool
}

// MockSink records every outbound call. Failures can be injected per
// operation through the Fail* fields.
type MockSink struct {
	mu sync.Mutex

	Sent      []SentMessage
	Edits     []EditedMessage
	Deleted   []string
	Responses []Response
	// ids of deferred interactions
	Deferred []string

	// community/member -> member
	Members map[string]Member
	// attachment URL -> payload, for attachments without inline Data
	Files map[string][]byte

	FailSend   error
	FailEdit   error
	FailDelete error
	FailFetch  error
	FailDefer  error

	seq int
}

var _ Sink = (*MockSink)(nil)

func NewMockSink() *MockSink {
	return &MockSink{
		Members: make(map[string]Member),
		Files:   make(map[string][]byte),
	}
}

func (s *MockSink) AddMember(communityID string, m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Members[communityID+"/"+m.ID] = m
}

func (s *MockSink) SendMessage(ctx context.Context, msg OutgoingMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSend != nil {
		return "", s.FailSend
	}
	s.seq++
	id := fmt.Sprintf("msg-%d", s.seq)
	s.Sent = append(s.Sent, SentMessage{ID: id, OutgoingMessage: msg})
	return id, nil
}

func (s *MockSink) EditMessage(ctx context.Context, channelID, messageID string, edit MessageEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailEdit != nil {
		return s.FailEdit
	}
	s.Edits = append(s.Edits, EditedMessage{ChannelID: channelID, MessageID: messageID, Edit: edit})
	return nil
}

func (s *MockSink) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return s.FailDelete
	}
	s.Deleted = append(s.Deleted, messageID)
	return nil
}

func (s *MockSink) FetchMember(ctx context.Context, communityID, memberID string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Members[communityID+"/"+memberID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MockSink) FetchAttachment(ctx context.Context, att Attachment, maxBytes int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFetch != nil {
		return nil, s.FailFetch
	}
	data := att.Data
	if data == nil {
		var ok bool
		data, ok = s.Files[att.URL]
		if !ok {
			return nil, ErrNotFound
		}
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (s *MockSink) Respond(ctx context.Context, in Interaction, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, Response{Interaction: in, Text: text})
	return nil
}

func (s *MockSink) Defer(ctx context.Context, in Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDefer != nil {
		return s.FailDefer
	}
	s.Deferred = append(s.Deferred, in.ID)
	return nil
}

func (s *MockSink) Followup(ctx context.Context, in Interaction, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, Response{Interaction: in, Text: text, Followup: true})
	return nil
}

// SentTo returns the messages sent to a channel, in order.
func (s *MockSink) SentTo(channelID string) []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SentMessage
	for _, m := range s.Sent {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

func (s *MockSink) EditsOf(messageID string) []MessageEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MessageEdit
	for _, e := range s.Edits {
		if e.MessageID == messageID {
			out = append(out, e.Edit)
		}
	}
	return out
}

func (s *MockSink) WasDeleted(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.Deleted {
		if id == messageID {
			return true
		}
	}
	return false
}

func (s *MockSink) ResponseTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Responses))
	for i, r := range s.Responses {
		out[i] = r.Text
	}
	return out
}
