package convstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/fitmate-chat/internal/chatclient"
)

func TestSend_RoundTripPromotesTemporaryID(t *testing.T) {
	svc := newFakeService()
	svc.sendResult = &chatclient.SendResult{ConversationID: "p1", Response: "hi there"}
	s := newTestStore(svc)
	t1 := s.CreateNewConversation()
	chat := NewChat(s)

	reply, err := chat.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply.Text)
	assert.Equal(t, SenderBot, reply.Sender)

	assert.Equal(t, []sendCall{{Message: "hello"}}, svc.sends(), "temporary id must not be sent")

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "p1", convs[0].ID)
	assert.NotEqual(t, t1, convs[0].ID)
	assert.Equal(t, "p1", s.CurrentID())

	msgs := convs[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{Greeting, "hello", "hi there"}, texts(msgs))
	assert.Equal(t, []Sender{SenderBot, SenderUser, SenderBot},
		[]Sender{msgs[0].Sender, msgs[1].Sender, msgs[2].Sender})
}

func TestSend_PermanentIDIsSent(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	s.CreateNewConversation()
	require.True(t, s.UpdateConversationID(s.CurrentID(), "p7"))
	chat := NewChat(s)

	_, err := chat.Send(context.Background(), "  rest days?  ")
	require.NoError(t, err)

	assert.Equal(t, []sendCall{{Message: "rest days?", ConversationID: "p7"}}, svc.sends())
	assert.Equal(t, "p7", s.CurrentID())
	assert.Equal(t, []string{Greeting, "rest days?", "reply to rest days?"}, texts(s.CurrentMessages()))
}

func TestSend_ServerStartsNewConversation(t *testing.T) {
	svc := newFakeService()
	svc.sendResult = &chatclient.SendResult{ConversationID: "p9", Response: "fresh start"}
	s := newTestStore(svc)
	s.CreateNewConversation()
	require.True(t, s.UpdateConversationID(s.CurrentID(), "p-gone"))
	chat := NewChat(s)

	_, err := chat.Send(context.Background(), "still there?")
	require.NoError(t, err)

	assert.Equal(t, "p9", s.CurrentID())
	_, ok := s.Conversation("p-gone")
	assert.False(t, ok)
	assert.Equal(t, "fresh start", s.CurrentMessages()[2].Text)
}

func TestSend_FailureAppendsFallback(t *testing.T) {
	svc := newFakeService()
	svc.sendErr = errUnavailable
	s := newTestStore(svc)
	tmp := s.CreateNewConversation()
	chat := NewChat(s)

	reply, err := chat.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply.Text)

	assert.Equal(t, tmp, s.CurrentID(), "no promotion on failure")
	assert.Equal(t, []string{Greeting, "hello", FallbackReply}, texts(s.CurrentMessages()))
	assert.Len(t, svc.sends(), 1, "no retry")
	assert.False(t, chat.Sending())
}

func TestSend_Guards(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	s := newTestStore(svc)
	s.CreateNewConversation()
	chat := NewChat(s)

	_, err := chat.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = chat.Send(context.Background(), "first")
	}()
	require.Eventually(t, chat.Sending, time.Second, 5*time.Millisecond)

	_, err = chat.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSendInProgress)

	// another surface sharing the store is not blocked
	other := NewChat(s)
	assert.False(t, other.Sending())

	close(svc.sendGate)
	<-done
	assert.False(t, chat.Sending())
	assert.Len(t, svc.sends(), 1)
}

func TestSend_ReplyLandsInOriginalConversation(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	s := newTestStore(svc)
	s.CreateNewConversation()
	require.True(t, s.UpdateConversationID(s.CurrentID(), "pA"))
	chat := NewChat(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = chat.Send(context.Background(), "m1")
	}()
	require.Eventually(t, func() bool { return len(svc.sends()) == 1 }, time.Second, 5*time.Millisecond)

	b := s.CreateNewConversation()
	require.Equal(t, b, s.CurrentID())

	close(svc.sendGate)
	<-done

	a, ok := s.Conversation("pA")
	require.True(t, ok)
	assert.Equal(t, []string{Greeting, "m1", "reply to m1"}, texts(a.Messages))

	cur, _ := s.Current()
	assert.Equal(t, b, cur.ID)
	assert.Equal(t, []string{Greeting}, texts(cur.Messages))
}

func TestSend_TemporaryTargetRenamedWhileAway(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	svc.sendResult = &chatclient.SendResult{ConversationID: "p1", Response: "done"}
	s := newTestStore(svc)
	t1 := s.CreateNewConversation()
	chat := NewChat(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = chat.Send(context.Background(), "plan my week")
	}()
	require.Eventually(t, func() bool { return len(svc.sends()) == 1 }, time.Second, 5*time.Millisecond)

	b := s.CreateNewConversation()
	close(svc.sendGate)
	<-done

	assert.Equal(t, b, s.CurrentID(), "rename of a non-current entry keeps the pointer")
	_, ok := s.Conversation(t1)
	assert.False(t, ok)
	p1, ok := s.Conversation("p1")
	require.True(t, ok)
	assert.Equal(t, []string{Greeting, "plan my week", "done"}, texts(p1.Messages))
}

func TestSend_WithoutCurrentSeedsConversation(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	chat := NewChat(s)

	_, err := chat.Send(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "p1", s.CurrentID())
	assert.Equal(t, []string{Greeting, "hello", "reply to hello"}, texts(s.CurrentMessages()))
}

func TestSend_TwoChatsShareTemporaryConversation(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	n := 0
	svc.sendFn = func(message, conversationID string) *chatclient.SendResult {
		n++ // guarded by svc.mu
		return &chatclient.SendResult{ConversationID: fmt.Sprintf("p%d", n), Response: "reply to " + message}
	}
	s := newTestStore(svc)
	tmp := s.CreateNewConversation()
	first, second := NewChat(s), NewChat(s)

	done := make(chan struct{}, 2)
	for _, c := range []struct {
		chat *Chat
		text string
	}{{first, "squats"}, {second, "deadlifts"}} {
		c := c
		go func() {
			_, _ = c.chat.Send(context.Background(), c.text)
			done <- struct{}{}
		}()
	}
	require.Eventually(t, func() bool { return len(svc.sends()) == 2 }, time.Second, 5*time.Millisecond)
	for _, call := range svc.sends() {
		assert.Empty(t, call.ConversationID)
	}

	close(svc.sendGate)
	<-done
	<-done

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.NotEqual(t, tmp, convs[0].ID)
	assert.Contains(t, []string{"p1", "p2"}, convs[0].ID)
	assert.Equal(t, convs[0].ID, s.CurrentID())
	assert.ElementsMatch(t,
		[]string{Greeting, "squats", "deadlifts", "reply to squats", "reply to deadlifts"},
		texts(convs[0].Messages))
}

func TestSend_ReplyForDeletedConversationDropped(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	s := newTestStore(svc)
	tmp := s.CreateNewConversation()
	chat := NewChat(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = chat.Send(context.Background(), "hello")
	}()
	require.Eventually(t, func() bool { return len(svc.sends()) == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, s.DeleteConversation(context.Background(), tmp))
	close(svc.sendGate)
	<-done

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.NotEqual(t, "p1", convs[0].ID)
	assert.Equal(t, []string{Greeting}, texts(convs[0].Messages))
}
