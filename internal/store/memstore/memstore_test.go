package memstore

import (
	"context"
	"testing"
	"time"
)

func TestKVRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}

	ok, err := s.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Error("expected miss after delete")
	}
}

func TestKVExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Error("expected expired key to miss")
	}
}

func TestHash(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}, 0); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	fields, err := s.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if fields["a"] != "1" || fields["b"] != "2" {
		t.Errorf("HGetAll = %v", fields)
	}
	if err := s.HDelete(ctx, "h"); err != nil {
		t.Fatalf("HDelete: %v", err)
	}
	fields, _ = s.HGetAll(ctx, "h")
	if len(fields) != 0 {
		t.Errorf("expected empty hash after delete, got %v", fields)
	}
}

func TestSortedSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.ZAdd(ctx, "z", "a", 3)
	_ = s.ZAdd(ctx, "z", "b", 1)
	_ = s.ZAdd(ctx, "z", "c", 2)

	members, err := s.ZRangeByRank(ctx, "z", 0, -1, false)
	if err != nil {
		t.Fatalf("ZRangeByRank: %v", err)
	}
	want := []string{"b", "c", "a"}
	if len(members) != len(want) {
		t.Fatalf("ZRangeByRank = %v, want %v", members, want)
	}
	for i, m := range want {
		if members[i] != m {
			t.Errorf("ZRangeByRank[%d] = %s, want %s", i, members[i], m)
		}
	}

	byScore, err := s.ZRangeByScore(ctx, "z", 1, 2)
	if err != nil {
		t.Fatalf("ZRangeByScore: %v", err)
	}
	if len(byScore) != 2 {
		t.Errorf("ZRangeByScore = %v, want 2 members", byScore)
	}

	card, _ := s.ZCard(ctx, "z")
	if card != 3 {
		t.Errorf("ZCard = %d, want 3", card)
	}

	if err := s.ZRem(ctx, "z", "b"); err != nil {
		t.Fatalf("ZRem: %v", err)
	}
	card, _ = s.ZCard(ctx, "z")
	if card != 2 {
		t.Errorf("ZCard after ZRem = %d, want 2", card)
	}

	if err := s.ZRemRangeByScore(ctx, "z", 0, 2); err != nil {
		t.Fatalf("ZRemRangeByScore: %v", err)
	}
	card, _ = s.ZCard(ctx, "z")
	if card != 1 {
		t.Errorf("ZCard after ZRemRangeByScore = %d, want 1", card)
	}
}

func TestListFIFO(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.LPush(ctx, "l", "first")
	_ = s.LPush(ctx, "l", "second")

	n, _ := s.LLen(ctx, "l")
	if n != 2 {
		t.Errorf("LLen = %d, want 2", n)
	}

	items, err := s.LRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(items) != 2 || items[0] != "second" {
		t.Errorf("LRange = %v, want newest-first [second first]", items)
	}
}

func TestKeysWithPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Set(ctx, "workers:1", "x", 0)
	_ = s.Set(ctx, "workers:2", "x", 0)
	_ = s.Set(ctx, "other:1", "x", 0)

	keys, err := s.KeysWithPrefix(ctx, "workers:")
	if err != nil {
		t.Fatalf("KeysWithPrefix: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("KeysWithPrefix = %v, want 2 keys", keys)
	}
}

func TestPubSub(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := s.Publish(ctx, "ch", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if string(msg.Payload) != "hello" {
			t.Errorf("payload = %q, want %q", msg.Payload, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
