package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return NewStore(bucket, 2*time.Hour)
}

func TestBeginCreatesRunningRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Begin(ctx, "tok-1", 1000)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if rec.Status != StatusRunning {
		t.Errorf("expected status running, got %s", rec.Status)
	}
	if rec.BytesSent != 0 {
		t.Errorf("expected bytes_sent 0, got %d", rec.BytesSent)
	}
	if rec.TotalBytes != 1000 {
		t.Errorf("expected total_bytes 1000, got %d", rec.TotalBytes)
	}
	if rec.StartedAt == 0 {
		t.Error("expected started_at to be set")
	}
}

func TestBeginPreservesStartedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	store.now = func() time.Time { return now }
	first, err := store.Begin(ctx, "tok-1", 1000)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	store.now = func() time.Time { return now.Add(30 * time.Second) }
	second, err := store.Begin(ctx, "tok-1", 2000)
	if err != nil {
		t.Fatalf("Begin again: %v", err)
	}
	if second.StartedAt != first.StartedAt {
		t.Errorf("expected started_at preserved (%d), got %d", first.StartedAt, second.StartedAt)
	}
	if second.TotalBytes != 2000 {
		t.Errorf("expected refreshed total 2000, got %d", second.TotalBytes)
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Begin(ctx, "tok-1", 1000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var last int64
	for _, delta := range []int64{100, 0, 250, -50, 300} {
		rec, err := store.Advance(ctx, "tok-1", delta)
		if err != nil {
			t.Fatalf("Advance(%d): %v", delta, err)
		}
		if rec.BytesSent < last {
			t.Fatalf("bytes_sent decreased: %d -> %d", last, rec.BytesSent)
		}
		last = rec.BytesSent
	}
	if last != 650 {
		t.Errorf("expected 650 bytes sent, got %d", last)
	}
}

func TestCancelStopsAdvance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Begin(ctx, "tok-1", 1000); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := store.Advance(ctx, "tok-1", 100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := store.Cancel(ctx, "tok-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !store.Canceled(ctx, "tok-1") {
		t.Fatal("expected Canceled to report true")
	}

	rec, err := store.Advance(ctx, "tok-1", 500)
	if err != nil {
		t.Fatalf("Advance after cancel: %v", err)
	}
	if rec.Status != StatusCanceled {
		t.Errorf("expected canceled status, got %s", rec.Status)
	}
	if rec.BytesSent != 100 {
		t.Errorf("expected bytes_sent frozen at 100, got %d", rec.BytesSent)
	}
}

func TestFinishDoesNotOverrideCancel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Begin(ctx, "tok-1", 1000); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Cancel(ctx, "tok-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := store.Finish(ctx, "tok-1", StatusDone); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	rec, err := store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusCanceled {
		t.Errorf("expected canceled to stick, got %s", rec.Status)
	}
}

func TestCancelSurvivesConcurrentWriteback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Begin(ctx, "tok-1", 1000)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Cancel(ctx, "tok-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// A builder that read the record before the cancel writes its copy
	// back, still marked running.
	stale := *rec
	stale.BytesSent = 400
	data, err := json.Marshal(&stale)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	k, err := key("tok-1")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := store.bucket.WriteAll(ctx, k, data, nil); err != nil {
		t.Fatalf("write stale record: %v", err)
	}

	if !store.Canceled(ctx, "tok-1") {
		t.Fatal("expected cancel to survive the stale record write")
	}
	got, err := store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCanceled {
		t.Errorf("expected canceled status, got %s", got.Status)
	}

	if err := store.Finish(ctx, "tok-1", StatusDone); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err = store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get after Finish: %v", err)
	}
	if got.Status != StatusCanceled {
		t.Errorf("expected canceled to stick through Finish, got %s", got.Status)
	}
	if store.cancelRequested(ctx, "tok-1") {
		t.Error("expected cancel marker removed by Finish")
	}
}

func TestCancelUnknownTokenIsAcknowledged(t *testing.T) {
	store := newTestStore(t)
	if err := store.Cancel(context.Background(), "never-seen"); err != nil {
		t.Fatalf("Cancel unknown token: %v", err)
	}
}

func TestGetExpiredReclaims(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	store.now = func() time.Time { return now }
	if _, err := store.Begin(ctx, "tok-1", 1000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	store.now = func() time.Time { return now.Add(3 * time.Hour) }
	if _, err := store.Get(ctx, "tok-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}

	// Reclamation is idempotent: a second reader may also observe expiry.
	if _, err := store.Get(ctx, "tok-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second read, got %v", err)
	}
}

func TestLiveSkipsFinishedAndExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	store.now = func() time.Time { return now }

	if _, err := store.Begin(ctx, "running", 100); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := store.Begin(ctx, "finished", 200); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, "finished", StatusDone); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := store.Begin(ctx, "stale", 300); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Age only the stale record past the TTL.
	store.now = func() time.Time { return now.Add(3 * time.Hour) }
	if _, err := store.Begin(ctx, "running", 100); err != nil {
		t.Fatalf("refresh running: %v", err)
	}

	live, err := store.Live(ctx)
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live record, got %d", len(live))
	}
	if live[0].Token != "running" {
		t.Errorf("expected token %q, got %q", "running", live[0].Token)
	}
}

func TestKeySanitizesToken(t *testing.T) {
	k, err := key("../evil/../../token?x=1")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k != "progress/.._evil_.._.._token_x_1.json" {
		t.Errorf("unexpected key: %s", k)
	}
	if _, err := key("   "); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for blank token, got %v", err)
	}
}
