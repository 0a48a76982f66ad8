package convstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/fitmate-chat/internal/chatclient"
)

var errUnavailable = errors.New("service unavailable")

type sendCall struct {
	Message        string
	ConversationID string
}

// fakeService is an in-memory Conversation Service. Setting a gate makes the
// matching call block until the gate is closed or receives a value.
type fakeService struct {
	mu sync.Mutex

	list    []chatclient.ConversationSummary
	listErr error

	details  map[string]*chatclient.ConversationDetail
	getErr   error
	getGate  chan struct{}
	getCalls []string

	sendResult *chatclient.SendResult
	sendFn     func(message, conversationID string) *chatclient.SendResult
	sendErr    error
	sendGate   chan struct{}
	sendCalls  []sendCall

	deleteErr error
	deleted   []string
}

func newFakeService() *fakeService {
	return &fakeService{details: map[string]*chatclient.ConversationDetail{}}
}

func (f *fakeService) ListConversations(ctx context.Context) ([]chatclient.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chatclient.ConversationSummary(nil), f.list...), nil
}

func (f *fakeService) GetConversation(ctx context.Context, id string) (*chatclient.ConversationDetail, error) {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, id)
	gate := f.getGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.details[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: not found", id)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeService) SendMessage(ctx context.Context, message, conversationID string) (*chatclient.SendResult, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, sendCall{Message: message, ConversationID: conversationID})
	gate := f.sendGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendFn != nil {
		return f.sendFn(message, conversationID), nil
	}
	if f.sendResult != nil {
		r := *f.sendResult
		return &r, nil
	}
	id := conversationID
	if id == "" {
		id = "p1"
	}
	return &chatclient.SendResult{ConversationID: id, Response: "reply to " + message}, nil
}

func (f *fakeService) DeleteConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) gets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.getCalls...)
}

func (f *fakeService) sends() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sendCalls...)
}

// stepClock returns a clock advancing one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("m%d", n)
	}
}

func newTestStore(svc Service, opts ...Option) *Store {
	base := []Option{WithClock(stepClock()), WithMessageIDs(seqIDs())}
	return New(svc, append(base, opts...)...)
}

func history(id string, msgs ...string) *chatclient.ConversationDetail {
	d := &chatclient.ConversationDetail{ID: id, UpdatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}
	for i, text := range msgs {
		role := chatclient.RoleUser
		if i%2 == 1 {
			role = chatclient.RoleAssistant
		}
		d.Messages = append(d.Messages, chatclient.HistoryMessage{
			ID:      fmt.Sprintf("%s-%d", id, i),
			Content: text,
			Role:    role,
		})
	}
	return d
}

func texts(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

func ids(convs []Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}
