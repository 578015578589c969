package api

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/idejanristic/tierListMaker/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRedisDeduperAddMany(t *testing.T) {
	mr, rc := setupRedis(t)
	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	got, err := d.AddMany(ctx, "user1", []string{"k1", "k2"})
	if err != nil {
		t.Fatalf("add many: %v", err)
	}
	if !reflect.DeepEqual(got, []bool{true, true}) {
		t.Fatalf("unexpected first results %v", got)
	}

	got, err = d.AddMany(ctx, "user1", []string{"k2", "k3"})
	if err != nil {
		t.Fatalf("add many: %v", err)
	}
	if !reflect.DeepEqual(got, []bool{false, true}) {
		t.Fatalf("unexpected second results %v", got)
	}

	got, _ = d.AddMany(ctx, "user2", []string{"k1"})
	if !reflect.DeepEqual(got, []bool{true}) {
		t.Fatalf("expected keys to be scoped per user, got %v", got)
	}
	if ttl := mr.TTL("dedupe:user1:k1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestRedisDeduperRemove(t *testing.T) {
	_, rc := setupRedis(t)
	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	d.AddMany(ctx, "user1", []string{"k1"})
	if err := d.Remove(ctx, "user1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := d.AddMany(ctx, "user1", []string{"k1"})
	if !got[0] {
		t.Fatalf("expected removed key to be accepted again")
	}
	if got, err := d.AddMany(ctx, "user1", nil); got != nil || err != nil {
		t.Fatalf("expected empty input to be a no-op, got %v %v", got, err)
	}
}

var errLostConnection = errors.New("connection lost")

// cutPipelineHook lets only the first SET of a pipeline reach Redis and
// fails the rest.
type cutPipelineHook struct{}

func (cutPipelineHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (cutPipelineHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (cutPipelineHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if len(cmds) < 2 || cmds[0].Name() != "set" {
			return next(ctx, cmds)
		}
		if err := next(ctx, cmds[:1]); err != nil {
			return err
		}
		for _, cmd := range cmds[1:] {
			cmd.SetErr(errLostConnection)
		}
		return errLostConnection
	}
}

func TestRedisDeduperAddManyReportsRecordedKeysOnFailure(t *testing.T) {
	mr, rc := setupRedis(t)
	rc.AddHook(cutPipelineHook{})
	d := NewRedisDeduper(rc, time.Minute)

	got, err := d.AddMany(context.Background(), "user1", []string{"k1", "k2"})
	if !errors.Is(err, errLostConnection) {
		t.Fatalf("expected pipeline error, got %v", err)
	}
	if !reflect.DeepEqual(got, []bool{true, false}) {
		t.Fatalf("expected the recorded key to be reported, got %v", got)
	}
	if !mr.Exists("dedupe:user1:k1") || mr.Exists("dedupe:user1:k2") {
		t.Fatalf("unexpected keys in redis: %v", mr.Keys())
	}
}

func TestDedupeRollsBackAfterFailedPipeline(t *testing.T) {
	mr, rc := setupRedis(t)
	rc.AddHook(cutPipelineHook{})
	events := []domain.Event{
		{IdempotencyKey: "k1", Type: domain.DragStarted, ItemID: "i1"},
		{IdempotencyKey: "k2", Type: domain.DragOver, TargetID: "S"},
	}

	if _, _, err := dedupe(context.Background(), NewRedisDeduper(rc, time.Minute), "user1", events); err == nil {
		t.Fatalf("expected dedupe to fail")
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected recorded keys to be rolled back, got %v", keys)
	}

	retry := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = retry.Close() })
	fresh, added, err := dedupe(context.Background(), NewRedisDeduper(retry, time.Minute), "user1", events)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(fresh) != 2 || !reflect.DeepEqual(added, []string{"k1", "k2"}) {
		t.Fatalf("expected the retried batch to be applied, got %d events, keys %v", len(fresh), added)
	}
}

func TestDedupeDropsRepeatedKeysWithinBatch(t *testing.T) {
	events := []domain.Event{
		{IdempotencyKey: "a", Type: domain.DragStarted, ItemID: "i1"},
		{IdempotencyKey: "b", Type: domain.DragOver, TargetID: "i2"},
		{IdempotencyKey: "b", Type: domain.DragOver, TargetID: "i2"},
	}
	tests := []struct {
		name    string
		deduper func(t *testing.T) Deduper
	}{
		{name: "without redis", deduper: func(*testing.T) Deduper { return nil }},
		{name: "with redis", deduper: func(t *testing.T) Deduper {
			_, rc := setupRedis(t)
			return NewRedisDeduper(rc, time.Minute)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh, _, err := dedupe(context.Background(), tt.deduper(t), "user1", events)
			if err != nil {
				t.Fatalf("dedupe: %v", err)
			}
			if len(fresh) != 2 || fresh[0].IdempotencyKey != "a" || fresh[1].IdempotencyKey != "b" {
				t.Fatalf("unexpected events %+v", fresh)
			}
		})
	}
}
