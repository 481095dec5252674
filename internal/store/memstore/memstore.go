// Package memstore is an in-process implementation of store.Store, used for
// tests and for running the engine without a Redis dependency: a lazily
// expired entry map guarded by a single mutex, carrying KV, hash,
// sorted-set, list, and pub/sub shapes.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/store"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type zmember struct {
	member string
	score  float64
}

// Store is an in-memory Store implementation safe for concurrent use.
type Store struct {
	mu sync.Mutex

	kv    map[string]*entry
	hash  map[string]map[string]string
	hTTL  map[string]time.Time
	zset  map[string][]zmember
	lists map[string][]string
	lTTL  map[string]time.Time

	subs map[string][]chan store.Message
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		kv:    make(map[string]*entry),
		hash:  make(map[string]map[string]string),
		hTTL:  make(map[string]time.Time),
		zset:  make(map[string][]zmember),
		lists: make(map[string][]string),
		lTTL:  make(map[string]time.Time),
		subs:  make(map[string][]chan store.Message),
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok || e.expired(time.Now()) {
		return "", store.ErrMiss
	}
	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.kv[key] = e
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.kv, k)
		delete(s.hash, k)
		delete(s.hTTL, k)
		delete(s.zset, k)
		delete(s.lists, k)
		delete(s.lTTL, k)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.kv[key]; ok && !e.expired(time.Now()) {
		return true, nil
	}
	if h, ok := s.hash[key]; ok && len(h) > 0 {
		return true, nil
	}
	return false, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hash[key]
	if !ok {
		h = make(map[string]string)
		s.hash[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	if ttl > 0 {
		s.hTTL[key] = time.Now().Add(ttl)
	}
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.hTTL[key]; ok && time.Now().After(exp) {
		delete(s.hash, key)
		delete(s.hTTL, key)
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(s.hash[key]))
	for k, v := range s.hash[key] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HDelete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hash, key)
	delete(s.hTTL, key)
	return nil
}

func (s *Store) ZAdd(ctx context.Context, key string, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.zset[key]
	for i, m := range members {
		if m.member == member {
			members[i].score = score
			s.sortZSet(key)
			return nil
		}
	}
	s.zset[key] = append(members, zmember{member: member, score: score})
	s.sortZSet(key)
	return nil
}

func (s *Store) sortZSet(key string) {
	members := s.zset[key]
	sort.Slice(members, func(i, j int) bool { return members[i].score < members[j].score })
	s.zset[key] = members
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.zset[key] {
		if m.score >= min && m.score <= max {
			out = append(out, m.member)
		}
	}
	return out, nil
}

func (s *Store) ZRangeByRank(ctx context.Context, key string, start, stop int64, reverse bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := append([]zmember(nil), s.zset[key]...)
	if reverse {
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	}
	n := int64(len(members))
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, members[i].member)
	}
	return out, nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zset[key])), nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []zmember
	for _, m := range s.zset[key] {
		if m.score < min || m.score > max {
			kept = append(kept, m)
		}
	}
	s.zset[key] = kept
	return nil
}

func (s *Store) ZRem(ctx context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.zset[key]
	for i, m := range members {
		if m.member == member {
			s.zset[key] = append(members[:i], members[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) LPush(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.lTTL[key]; ok && time.Now().After(exp) {
		delete(s.lists, key)
		delete(s.lTTL, key)
		return nil, nil
	}
	list := s.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		s.lists[key] = nil
		return nil
	}
	s.lists[key] = append([]string(nil), list[start:stop+1]...)
	return nil
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := time.Now().Add(ttl)
	if e, ok := s.kv[key]; ok {
		e.expiresAt = exp
	}
	if _, ok := s.hash[key]; ok {
		s.hTTL[key] = exp
	}
	if _, ok := s.lists[key]; ok {
		s.lTTL[key] = exp
	}
	return nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := append([]chan store.Message(nil), s.subs[channel]...)
	s.mu.Unlock()
	msg := store.Message{Channel: channel, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// best-effort: a slow subscriber never blocks the publisher.
		}
	}
	return nil
}

type subscription struct {
	s        *Store
	channels []string
	ch       chan store.Message
	once     sync.Once
}

func (sub *subscription) Channel() <-chan store.Message { return sub.ch }

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		defer sub.s.mu.Unlock()
		for _, channel := range sub.channels {
			list := sub.s.subs[channel]
			for i, c := range list {
				if c == sub.ch {
					sub.s.subs[channel] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		close(sub.ch)
	})
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan store.Message, 64)
	for _, channel := range channels {
		s.subs[channel] = append(s.subs[channel], ch)
	}
	return &subscription{s: s, channels: channels, ch: ch}, nil
}

func (s *Store) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	now := time.Now()
	for k, e := range s.kv {
		if !e.expired(now) && hasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range s.hash {
		if hasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (s *Store) Close() error { return nil }
