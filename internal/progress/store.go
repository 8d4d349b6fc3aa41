package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Status is the lifecycle state of a download build.
type Status string

// Build statuses.
const (
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Common errors.
var (
	ErrNotFound     = errors.New("progress: record not found")
	ErrInvalidToken = errors.New("progress: invalid token")
)

// Record is the persisted progress state for one download build.
type Record struct {
	Token      string `json:"token"`
	Status     Status `json:"status"`
	BytesSent  int64  `json:"bytes_sent"`
	TotalBytes int64  `json:"total_bytes"`
	StartedAt  int64  `json:"started_at"` // unix seconds
}

// DefaultTTL is the default record lifetime.
const DefaultTTL = 7200 * time.Second

const keyPrefix = "progress/"

// maxTokenLen bounds the sanitized token used in storage keys.
const maxTokenLen = 190

// Store persists progress records in a blob bucket.
type Store struct {
	bucket *blob.Bucket
	ttl    time.Duration
	now    func() time.Time
}

// NewStore returns a store writing under progress/ in bucket.
// A non-positive ttl falls back to DefaultTTL.
func NewStore(bucket *blob.Bucket, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{bucket: bucket, ttl: ttl, now: time.Now}
}

// TTL returns the configured record lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// key derives the storage key for a token. Characters outside
// [A-Za-z0-9._-] are replaced so a hostile token cannot escape the
// progress/ prefix.
func key(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	var b strings.Builder
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxTokenLen {
			break
		}
	}
	return keyPrefix + b.String() + ".json", nil
}

// cancelKey derives the cancellation sentinel key for a token. The
// sentinel lives beside the record so that cancellation survives a
// concurrent read-modify-write of the record itself.
func cancelKey(token string) (string, error) {
	k, err := key(token)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(k, ".json") + ".cancel", nil
}

// expired reports whether rec is past the TTL at time now.
func (s *Store) expired(rec *Record) bool {
	return s.now().Unix()-rec.StartedAt > int64(s.ttl/time.Second)
}

func (s *Store) read(ctx context.Context, token string) (*Record, string, error) {
	k, err := key(token)
	if err != nil {
		return nil, "", err
	}
	data, err := s.bucket.ReadAll(ctx, k)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, k, ErrNotFound
		}
		return nil, k, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, k, fmt.Errorf("decode record: %w", err)
	}
	return &rec, k, nil
}

func (s *Store) write(ctx context.Context, k string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, k, data, nil); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// reclaim removes an expired record and its cancel sentinel. Safe to
// attempt concurrently: a key already deleted by another reader is not
// an error.
func (s *Store) reclaim(ctx context.Context, k string) {
	if err := s.bucket.Delete(ctx, k); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		// Leave it for the next reader.
		_ = err
	}
	_ = s.bucket.Delete(ctx, strings.TrimSuffix(k, ".json")+".cancel")
}

// cancelRequested reports whether a cancel sentinel exists for token.
func (s *Store) cancelRequested(ctx context.Context, token string) bool {
	ck, err := cancelKey(token)
	if err != nil {
		return false
	}
	ok, err := s.bucket.Exists(ctx, ck)
	return err == nil && ok
}

// Begin creates or refreshes the record for token and marks it running.
// When a record for the same token already exists its StartedAt is
// preserved, so a client re-posting with the same token keeps its
// original clock for ETA purposes.
func (s *Store) Begin(ctx context.Context, token string, totalBytes int64) (*Record, error) {
	prev, k, err := s.read(ctx, token)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	rec := &Record{
		Token:      token,
		Status:     StatusRunning,
		BytesSent:  0,
		TotalBytes: totalBytes,
		StartedAt:  s.now().Unix(),
	}
	if prev != nil && !s.expired(prev) {
		rec.StartedAt = prev.StartedAt
	}
	if err := s.write(ctx, k, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Advance adds delta to the record's BytesSent and returns the updated
// record. BytesSent never decreases; a non-positive delta is ignored.
// If the record is no longer running, or cancellation has been
// requested, the record is returned unmodified so the caller can
// observe the state.
func (s *Store) Advance(ctx context.Context, token string, delta int64) (*Record, error) {
	rec, k, err := s.read(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusRunning || delta <= 0 || s.cancelRequested(ctx, token) {
		return rec, nil
	}
	rec.BytesSent += delta
	if err := s.write(ctx, k, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Finish finalizes the record. A canceled record stays canceled even
// when the build finishes cleanly afterwards, so the client's cancel
// acknowledgement is never retracted. The cancel sentinel, if any, is
// folded into the final status and removed.
func (s *Store) Finish(ctx context.Context, token string, status Status) error {
	rec, k, err := s.read(ctx, token)
	if err != nil {
		return err
	}
	canceled := rec.Status == StatusCanceled || s.cancelRequested(ctx, token)
	if canceled && status == StatusDone {
		status = StatusCanceled
	}
	rec.Status = status
	if err := s.write(ctx, k, rec); err != nil {
		return err
	}
	if ck, err := cancelKey(token); err == nil {
		_ = s.bucket.Delete(ctx, ck)
	}
	return nil
}

// Get returns the record for token. Expired records are reclaimed and
// reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	rec, k, err := s.read(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.expired(rec) {
		s.reclaim(ctx, k)
		return nil, ErrNotFound
	}
	if rec.Status == StatusRunning && s.cancelRequested(ctx, token) {
		rec.Status = StatusCanceled
	}
	return rec, nil
}

// Cancel marks the build for token canceled. The request is recorded as
// a sentinel object next to the record, so a builder mid-way through a
// read-modify-write of the record cannot overwrite it. Canceling an
// unknown or expired token is acknowledged without effect.
func (s *Store) Cancel(ctx context.Context, token string) error {
	rec, k, err := s.read(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if rec.Status != StatusRunning {
		return nil
	}
	ck, err := cancelKey(token)
	if err != nil {
		return err
	}
	if err := s.bucket.WriteAll(ctx, ck, []byte("1"), nil); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}
	rec.Status = StatusCanceled
	return s.write(ctx, k, rec)
}

// Canceled reports whether cancellation has been requested for token.
func (s *Store) Canceled(ctx context.Context, token string) bool {
	if s.cancelRequested(ctx, token) {
		return true
	}
	rec, _, err := s.read(ctx, token)
	return err == nil && rec.Status == StatusCanceled
}

// Live returns all non-expired running records, reclaiming every
// expired record it encounters along the way.
func (s *Store) Live(ctx context.Context) ([]*Record, error) {
	var live []*Record
	iter := s.bucket.List(&blob.ListOptions{Prefix: keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue // cancel sentinel, not a record
		}
		data, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				continue // reclaimed by someone else
			}
			return nil, fmt.Errorf("read record %s: %w", obj.Key, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			// Unreadable records count as garbage, not capacity.
			s.reclaim(ctx, obj.Key)
			continue
		}
		if s.expired(&rec) {
			s.reclaim(ctx, obj.Key)
			continue
		}
		if rec.Status == StatusRunning {
			live = append(live, &rec)
		}
	}
	return live, nil
}
