package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/collectica/zipserve/internal/progress"
)

// Default limits. Conservative on purpose: a single public-facing
// instance serving archive downloads saturates its uplink long before
// it runs out of CPU.
const (
	DefaultMaxConcurrent    = 1
	DefaultMaxDownloadBytes = 3 << 30
	DefaultMaxActiveBytes   = 6 << 30
	DefaultMaxFiles         = 1000
	DefaultRetryAfter       = 60 * time.Second
)

// DrainConcurrent is a MaxConcurrent value that admits nothing. Used
// to drain a server of active downloads before taking it out of
// rotation.
const DrainConcurrent = -1

// Limits bound what a single download, and the server as a whole, may
// consume. A zero value for any field means its default. A negative
// MaxConcurrent drains the server: every request is refused.
type Limits struct {
	MaxConcurrent    int
	MaxDownloadBytes int64
	MaxActiveBytes   int64
	MaxFiles         int
}

// DefaultLimits returns the stock limit set.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrent:    DefaultMaxConcurrent,
		MaxDownloadBytes: DefaultMaxDownloadBytes,
		MaxActiveBytes:   DefaultMaxActiveBytes,
		MaxFiles:         DefaultMaxFiles,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxConcurrent == 0 {
		l.MaxConcurrent = DefaultMaxConcurrent
	}
	if l.MaxDownloadBytes <= 0 {
		l.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if l.MaxActiveBytes <= 0 {
		l.MaxActiveBytes = DefaultMaxActiveBytes
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultMaxFiles
	}
	return l
}

// Reason classifies why a request was refused.
type Reason string

const (
	ReasonTooManyConcurrent Reason = "too_many_concurrent"
	ReasonDownloadTooLarge  Reason = "download_too_large"
	ReasonServerBusy        Reason = "server_busy"
	ReasonTooManyFiles      Reason = "too_many_files"
)

// Rejection describes a refused request. Limit carries the threshold
// that was exceeded; RetryAfter is zero when retrying will not help
// without the client changing its request.
type Rejection struct {
	Reason     Reason
	Limit      int64
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission: rejected: %s (limit %d)", r.Reason, r.Limit)
}

// Controller gates download starts against the live progress records.
//
// The progress store is shared state that other processes may also
// write, so the snapshot-then-admit sequence is only serialized within
// this process. That narrows the race window to cross-process starts,
// which the conservative defaults absorb.
type Controller struct {
	mu     sync.Mutex
	store  *progress.Store
	limits Limits
}

// New returns a controller enforcing limits over store.
func New(store *progress.Store, limits Limits) *Controller {
	return &Controller{store: store, limits: limits.withDefaults()}
}

// Limits returns the effective limit set.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Admit checks estimatedBytes and files against the limits and, when
// the request passes, registers a running record under token. A
// non-nil *Rejection means the request was refused; the error return
// is reserved for store failures.
func (c *Controller) Admit(ctx context.Context, token string, estimatedBytes int64, files int) (*progress.Record, *Rejection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live, err := c.store.Live(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("admission: snapshot: %w", err)
	}

	if len(live) >= c.limits.MaxConcurrent {
		return nil, &Rejection{
			Reason:     ReasonTooManyConcurrent,
			Limit:      int64(c.limits.MaxConcurrent),
			RetryAfter: DefaultRetryAfter,
		}, nil
	}
	if estimatedBytes > c.limits.MaxDownloadBytes {
		return nil, &Rejection{
			Reason: ReasonDownloadTooLarge,
			Limit:  c.limits.MaxDownloadBytes,
		}, nil
	}
	var activeBytes int64
	for _, rec := range live {
		activeBytes += rec.TotalBytes
	}
	if activeBytes+estimatedBytes > c.limits.MaxActiveBytes {
		return nil, &Rejection{
			Reason:     ReasonServerBusy,
			Limit:      c.limits.MaxActiveBytes,
			RetryAfter: DefaultRetryAfter,
		}, nil
	}
	if files > c.limits.MaxFiles {
		return nil, &Rejection{
			Reason: ReasonTooManyFiles,
			Limit:  int64(c.limits.MaxFiles),
		}, nil
	}

	rec, err := c.store.Begin(ctx, token, estimatedBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("admission: begin: %w", err)
	}
	return rec, nil, nil
}
