package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/fitmate-chat/internal/chat"
)

type Store struct {
	rdb     *redis.Client
	listTTL time.Duration
}

func New(addr, password string, db int, listTTL time.Duration) *Store {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), listTTL)
}

func NewFromClient(rdb *redis.Client, listTTL time.Duration) *Store {
	if listTTL <= 0 {
		listTTL = 5 * time.Minute
	}
	return &Store{rdb: rdb, listTTL: listTTL}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func conversationListKey(userID uint64) string {
	return fmt.Sprintf("chat:conversations:%d", userID)
}

// GetConversationList reports ok=false on a cache miss.
func (s *Store) GetConversationList(ctx context.Context, userID uint64) ([]chat.Summary, bool, error) {
	b, err := s.rdb.Get(ctx, conversationListKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var list []chat.Summary
	if err := json.Unmarshal(b, &list); err != nil {
		// corrupt entry behaves like a miss
		_ = s.rdb.Del(ctx, conversationListKey(userID)).Err()
		return nil, false, nil
	}
	return list, true, nil
}

func (s *Store) SetConversationList(ctx context.Context, userID uint64, list []chat.Summary) error {
	if list == nil {
		list = []chat.Summary{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, conversationListKey(userID), b, s.listTTL).Err()
}

func (s *Store) InvalidateConversationList(ctx context.Context, userID uint64) error {
	return s.rdb.Del(ctx, conversationListKey(userID)).Err()
}
