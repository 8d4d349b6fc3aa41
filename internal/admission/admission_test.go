package admission

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/collectica/zipserve/internal/progress"
)

func newController(t *testing.T, limits Limits) (*Controller, *progress.Store, *blob.Bucket) {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	store := progress.NewStore(bucket, time.Hour)
	return New(store, limits), store, bucket
}

func TestAdmitEmptyServer(t *testing.T) {
	ctrl, _, _ := newController(t, Limits{})

	rec, rej, err := ctrl.Admit(context.Background(), "tok-1", 500000, 3)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if rec.Status != progress.StatusRunning {
		t.Errorf("status = %q, want running", rec.Status)
	}
	if rec.TotalBytes != 500000 {
		t.Errorf("total = %d, want 500000", rec.TotalBytes)
	}
}

func TestAdmitTooManyConcurrent(t *testing.T) {
	ctrl, store, _ := newController(t, Limits{MaxConcurrent: 1})
	if _, err := store.Begin(context.Background(), "busy", 1000); err != nil {
		t.Fatal(err)
	}

	_, rej, err := ctrl.Admit(context.Background(), "tok-2", 1000, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej == nil || rej.Reason != ReasonTooManyConcurrent {
		t.Fatalf("rejection = %+v, want too_many_concurrent", rej)
	}
	if rej.RetryAfter != DefaultRetryAfter {
		t.Errorf("retry-after = %v, want %v", rej.RetryAfter, DefaultRetryAfter)
	}
}

func TestAdmitDownloadTooLarge(t *testing.T) {
	ctrl, _, _ := newController(t, Limits{MaxDownloadBytes: 1 << 20})

	_, rej, err := ctrl.Admit(context.Background(), "tok-3", 2<<20, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej == nil || rej.Reason != ReasonDownloadTooLarge {
		t.Fatalf("rejection = %+v, want download_too_large", rej)
	}
	if rej.Limit != 1<<20 {
		t.Errorf("limit = %d, want %d", rej.Limit, 1<<20)
	}
	if rej.RetryAfter != 0 {
		t.Errorf("retry-after = %v, want none", rej.RetryAfter)
	}
}

func TestAdmitServerBusyBytes(t *testing.T) {
	ctrl, store, _ := newController(t, Limits{
		MaxConcurrent:  4,
		MaxActiveBytes: 1 << 20,
	})
	if _, err := store.Begin(context.Background(), "busy", 900_000); err != nil {
		t.Fatal(err)
	}

	_, rej, err := ctrl.Admit(context.Background(), "tok-4", 200_000, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej == nil || rej.Reason != ReasonServerBusy {
		t.Fatalf("rejection = %+v, want server_busy", rej)
	}
}

func TestAdmitTooManyFiles(t *testing.T) {
	ctrl, _, _ := newController(t, Limits{MaxFiles: 10})

	_, rej, err := ctrl.Admit(context.Background(), "tok-5", 1000, 11)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej == nil || rej.Reason != ReasonTooManyFiles {
		t.Fatalf("rejection = %+v, want too_many_files", rej)
	}
}

func TestAdmitReclaimsExpiredCapacity(t *testing.T) {
	ctrl, _, bucket := newController(t, Limits{MaxConcurrent: 1})

	stale, _ := json.Marshal(progress.Record{
		Token:      "stale",
		Status:     progress.StatusRunning,
		TotalBytes: 5 << 30,
		StartedAt:  1, // 1970, long past any ttl
	})
	if err := bucket.WriteAll(context.Background(), "progress/stale.json", stale, nil); err != nil {
		t.Fatal(err)
	}

	rec, rej, err := ctrl.Admit(context.Background(), "tok-6", 1000, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej != nil {
		t.Fatalf("rejection = %+v, want stale capacity reclaimed", rej)
	}
	if rec.Token != "tok-6" {
		t.Errorf("token = %q", rec.Token)
	}
}

func TestFinishedDownloadsReleaseCapacity(t *testing.T) {
	ctrl, store, _ := newController(t, Limits{MaxConcurrent: 1})

	if _, _, err := ctrl.Admit(context.Background(), "first", 1000, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(context.Background(), "first", progress.StatusDone); err != nil {
		t.Fatal(err)
	}

	_, rej, err := ctrl.Admit(context.Background(), "second", 1000, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej != nil {
		t.Fatalf("rejection = %+v, want admitted after finish", rej)
	}
}

func TestAdmitDrained(t *testing.T) {
	ctrl, store, _ := newController(t, Limits{MaxConcurrent: DrainConcurrent})

	_, rej, err := ctrl.Admit(context.Background(), "tok-1", 1000, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej == nil || rej.Reason != ReasonTooManyConcurrent {
		t.Fatalf("rejection = %+v, want too_many_concurrent", rej)
	}
	if _, err := store.Get(context.Background(), "tok-1"); err == nil {
		t.Error("drained server created a progress record")
	}
}

func TestDefaultLimitsApplied(t *testing.T) {
	ctrl, _, _ := newController(t, Limits{})
	limits := ctrl.Limits()
	if limits.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("concurrent = %d", limits.MaxConcurrent)
	}
	if limits.MaxDownloadBytes != DefaultMaxDownloadBytes {
		t.Errorf("download bytes = %d", limits.MaxDownloadBytes)
	}
	if limits.MaxActiveBytes != DefaultMaxActiveBytes {
		t.Errorf("active bytes = %d", limits.MaxActiveBytes)
	}
	if limits.MaxFiles != DefaultMaxFiles {
		t.Errorf("files = %d", limits.MaxFiles)
	}
}
