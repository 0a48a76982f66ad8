package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/fitmate-chat/internal/ai"
	"gorm.io/gorm"
)

type recordingProvider struct {
	reply string
	err   error
	last  []ai.Message
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	if p.err != nil {
		return "", p.err
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

type memCache struct {
	mu          sync.Mutex
	lists       map[uint64][]Summary
	invalidated int
}

func (c *memCache) GetConversationList(_ context.Context, userID uint64) ([]Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lists[userID]
	return l, ok, nil
}

func (c *memCache) SetConversationList(_ context.Context, userID uint64, list []Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lists == nil {
		c.lists = map[uint64][]Summary{}
	}
	c.lists[userID] = list
	return nil
}

func (c *memCache) InvalidateConversationList(_ context.Context, userID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, userID)
	c.invalidated++
	return nil
}

type recordingPublisher struct {
	jobs []string
	err  error
}

func (p *recordingPublisher) PublishJob(_ context.Context, jobID string) error {
	p.jobs = append(p.jobs, jobID)
	return p.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, prov ai.Provider, window int, opts ...Option) (*Service, *Repo, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	reg := ai.NewRegistry()
	reg.RegisterStatic("fake", prov)
	opts = append([]Option{WithDefaultProvider("fake", "default")}, opts...)
	return NewService(repo, reg, window, opts...), repo, db
}

func TestSendMessage_NewConversationWritesUserAndAssistant(t *testing.T) {
	prov := &recordingProvider{reply: "Start with 3 full-body sessions a week."}
	svc, repo, _ := newTestService(t, prov, 20)
	ctx := context.Background()

	convID, reply, err := svc.SendMessage(ctx, 1, "", "  How often should I train?  ")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if convID == "" || len(convID) != 26 {
		t.Fatalf("expected ULID conversation id, got %q", convID)
	}
	if reply != "Start with 3 full-body sessions a week." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	conv, err := repo.GetConversation(ctx, 1, convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Title != "How often should I train?" {
		t.Fatalf("unexpected title: %q", conv.Title)
	}

	msgs, err := repo.ListMessages(ctx, convID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "How often should I train?" {
		t.Fatalf("unexpected user msg: role=%q content=%q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != reply {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", msgs[1].Role, msgs[1].Content)
	}

	if prov.last[0].Role != RoleSystem {
		t.Fatalf("expected system prompt first, got role=%q", prov.last[0].Role)
	}
}

func TestSendMessage_ExistingConversationIsReused(t *testing.T) {
	svc, repo, _ := newTestService(t, &recordingProvider{}, 20)
	ctx := context.Background()

	first, _, err := svc.SendMessage(ctx, 1, "", "hello")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, _, err := svc.SendMessage(ctx, 1, first, "again")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if first != second {
		t.Fatalf("expected same conversation, got %q then %q", first, second)
	}
	msgs, _ := repo.ListMessages(ctx, first)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
}

func TestSendMessage_UnknownOrForeignConversationStartsNew(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingProvider{}, 20)
	ctx := context.Background()

	owned, _, err := svc.SendMessage(ctx, 1, "", "mine")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got, _, err := svc.SendMessage(ctx, 2, owned, "not yours")
	if err != nil {
		t.Fatalf("send foreign: %v", err)
	}
	if got == owned {
		t.Fatalf("user 2 must not write into user 1's conversation")
	}

	got, _, err = svc.SendMessage(ctx, 1, "01UNKNOWNCONVERSATION00000", "lost")
	if err != nil {
		t.Fatalf("send unknown: %v", err)
	}
	if got == owned || got == "01UNKNOWNCONVERSATION00000" {
		t.Fatalf("expected a fresh conversation id, got %q", got)
	}
}

func TestSendMessage_UsesContextWindow(t *testing.T) {
	prov := &recordingProvider{}
	window := 3
	svc, repo, _ := newTestService(t, prov, window)
	ctx := context.Background()

	convID, _, err := svc.SendMessage(ctx, 2, "", "seed")
	if err != nil {
		t.Fatalf("seed send: %v", err)
	}
	// seed messages: history grows beyond the window
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := repo.InsertMessage(ctx, &Message{ConversationID: convID, UserID: 2, Role: role, Content: "seed"}); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	if _, _, err := svc.SendMessage(ctx, 2, convID, "new"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// system prompt + window
	if len(prov.last) != window+1 {
		t.Fatalf("expected provider to receive %d messages, got %d", window+1, len(prov.last))
	}
	last := prov.last[len(prov.last)-1]
	if last.Role != RoleUser || last.Content != "new" {
		t.Fatalf("expected last provider msg to be new user msg, got role=%q content=%q", last.Role, last.Content)
	}
}

func TestSendMessage_ProviderFailureKeepsUserMessage(t *testing.T) {
	prov := &recordingProvider{}
	svc, _, db := newTestService(t, prov, 20)
	ctx := context.Background()

	convID, _, err := svc.SendMessage(ctx, 1, "", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	prov.err = errors.New("model offline")
	if _, _, err := svc.SendMessage(ctx, 1, convID, "still there?"); err == nil {
		t.Fatalf("expected error")
	}

	var msgs []Message
	if err := db.Where("conversation_id = ?", convID).Order("id asc").Find(&msgs).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Role != RoleUser || msgs[2].Content != "still there?" {
		t.Fatalf("expected the failed user message to stay recorded, got %+v", msgs)
	}
}

func TestSendMessage_ProviderFailureDiscardsNewConversation(t *testing.T) {
	prov := &recordingProvider{err: errors.New("model offline")}
	svc, repo, db := newTestService(t, prov, 20)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		convID, _, err := svc.SendMessage(ctx, 1, "", "hello")
		if err == nil {
			t.Fatalf("expected error")
		}
		if convID != "" {
			t.Fatalf("expected no conversation id on failure, got %q", convID)
		}
	}

	convs, err := repo.ListConversations(ctx, 1)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("expected failed sends to leave no conversations, got %d", len(convs))
	}
	var n int64
	if err := db.Model(&Message{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no stored messages, got %d", n)
	}
}

func TestSendMessage_RejectsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingProvider{}, 20)
	if _, _, err := svc.SendMessage(context.Background(), 1, "", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestListConversations_NewestFirstAndCached(t *testing.T) {
	cache := &memCache{}
	svc, _, _ := newTestService(t, &recordingProvider{}, 20, WithListCache(cache))
	ctx := context.Background()

	a, _, _ := svc.SendMessage(ctx, 1, "", "first")
	b, _, _ := svc.SendMessage(ctx, 1, "", "second")
	if _, _, err := svc.SendMessage(ctx, 1, a, "bump first"); err != nil {
		t.Fatalf("bump: %v", err)
	}

	list, err := svc.ListConversations(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != a || list[1].ID != b {
		t.Fatalf("unexpected order: %+v", list)
	}
	if _, ok, _ := cache.GetConversationList(ctx, 1); !ok {
		t.Fatalf("expected list to be cached")
	}

	if err := svc.DeleteConversation(ctx, 1, b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := cache.GetConversationList(ctx, 1); ok {
		t.Fatalf("expected cache invalidated after delete")
	}
	list, _ = svc.ListConversations(ctx, 1)
	if len(list) != 1 || list[0].ID != a {
		t.Fatalf("unexpected list after delete: %+v", list)
	}
}

func TestGetHistoryAndDelete(t *testing.T) {
	svc, _, db := newTestService(t, &recordingProvider{reply: "hi there"}, 20)
	ctx := context.Background()

	convID, _, _ := svc.SendMessage(ctx, 1, "", "hello")

	h, err := svc.GetHistory(ctx, 1, convID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.ID != convID || len(h.Messages) != 2 {
		t.Fatalf("unexpected history: %+v", h)
	}
	if h.Messages[0].Role != RoleUser || h.Messages[1].Content != "hi there" || h.Messages[0].ID == "" {
		t.Fatalf("unexpected messages: %+v", h.Messages)
	}

	if _, err := svc.GetHistory(ctx, 2, convID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for foreign user, got %v", err)
	}
	if err := svc.DeleteConversation(ctx, 2, convID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found deleting foreign conversation, got %v", err)
	}

	if err := svc.DeleteConversation(ctx, 1, convID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var n int64
	db.Model(&Message{}).Where("conversation_id = ?", convID).Count(&n)
	if n != 0 {
		t.Fatalf("expected messages removed, %d left", n)
	}
	if err := svc.DeleteConversation(ctx, 1, convID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestTitleJobs(t *testing.T) {
	prov := &recordingProvider{reply: "ok"}
	pub := &recordingPublisher{}
	svc, repo, _ := newTestService(t, prov, 20, WithJobPublisher(pub))
	ctx := context.Background()

	convID, _, _ := svc.SendMessage(ctx, 1, "", "I want to run a marathon next spring")
	if _, _, err := svc.SendMessage(ctx, 1, convID, "what about shoes?"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("expected exactly one title job, got %d", len(pub.jobs))
	}
	job, err := repo.GetJobByID(ctx, pub.jobs[0])
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Kind != JobTitle || job.Status != JobQueued || job.ConversationID != convID {
		t.Fatalf("unexpected job: %+v", job)
	}

	prov.reply = "\"Marathon Prep Plan\"\nextra"
	title, err := svc.GenerateTitle(ctx, 1, convID)
	if err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if title != "Marathon Prep Plan" {
		t.Fatalf("unexpected title %q", title)
	}
	conv, _ := repo.GetConversation(ctx, 1, convID)
	if conv.Title != "Marathon Prep Plan" {
		t.Fatalf("title not stored: %q", conv.Title)
	}
}

func TestTitleJobs_PublishFailureMarksJobFailed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, repo, _ := newTestService(t, &recordingProvider{}, 20, WithJobPublisher(pub))

	if _, _, err := svc.SendMessage(context.Background(), 1, "", "hello"); err != nil {
		t.Fatalf("send must not fail on enqueue errors: %v", err)
	}
	job, err := repo.GetJobByID(context.Background(), pub.jobs[0])
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobFailed || job.Error == nil {
		t.Fatalf("expected failed job, got %+v", job)
	}
}

func TestTitleFromMessage(t *testing.T) {
	cases := map[string]string{
		"":                              "New Chat",
		"  bench   press form \n more ": "bench press form",
		strings.Repeat("a", 80):         strings.Repeat("a", 57) + "...",
	}
	for in, want := range cases {
		if got := TitleFromMessage(in); got != want {
			t.Errorf("TitleFromMessage(%q) = %q, want %q", in, got, want)
		}
	}
}
