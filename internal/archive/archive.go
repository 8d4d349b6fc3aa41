package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"

	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/fetch"
	"github.com/collectica/zipserve/internal/iiif"
	"github.com/collectica/zipserve/internal/locator"
	"github.com/collectica/zipserve/internal/progress"
)

// Common errors.
var (
	ErrNoEntries = errors.New("archive: no entries could be packed")
	ErrCanceled  = errors.New("archive: build canceled")
)

// Fetcher retrieves remote image bytes and IIIF documents.
type Fetcher interface {
	Fetch(ctx context.Context, candidates []string) (body []byte, ext string, err error)
	GetJSON(ctx context.Context, url string) ([]byte, error)
}

// Stats counts what one build actually packed, per source tier.
type Stats struct {
	Added     int
	Original  int
	Remote    int
	Thumbnail int
	Skipped   int
	Bytes     int64
}

// Builder assembles zip archives from resolved media plans. Entries
// are stored uncompressed since the payloads are already-compressed
// image formats; this keeps the stream CPU-cheap and its size close to
// the admission estimate.
type Builder struct {
	media *blob.Bucket
	loc   *locator.Locator
	fetch Fetcher
	store *progress.Store
}

// NewBuilder wires a builder. fetch may be nil, in which case remote
// tiers are skipped entirely.
func NewBuilder(media *blob.Bucket, loc *locator.Locator, fetch Fetcher, store *progress.Store) *Builder {
	return &Builder{media: media, loc: loc, fetch: fetch, store: store}
}

// entry is one secured payload ready to be written.
type entry struct {
	name string
	tier string
	data []byte        // remote bytes, nil for stored objects
	rc   io.ReadCloser // stored object stream
}

func (e *entry) close() {
	if e.rc != nil {
		e.rc.Close()
	}
}

// Build streams a zip of the selected media to w. onStart runs once,
// after the first entry is secured but before any byte is written, so
// the caller can commit response headers only when output is certain.
// Per-media failures are skipped; the build fails only when nothing at
// all could be packed or the stream itself breaks.
func (b *Builder) Build(ctx context.Context, w io.Writer, token string, item *catalog.Item, media []catalog.Media, onStart func() error) (*Stats, error) {
	stats := &Stats{}
	names := newNamer()
	var zw *zip.Writer

	finish := func(status progress.Status) {
		if token != "" {
			// Cancellation recorded concurrently sticks over done.
			_ = b.store.Finish(ctx, token, status)
		}
	}

	for _, m := range media {
		if token != "" && b.store.Canceled(ctx, token) {
			if zw != nil {
				zw.Close()
			}
			finish(progress.StatusCanceled)
			return stats, ErrCanceled
		}

		e := b.secure(ctx, item, m)
		if e == nil {
			stats.Skipped++
			continue
		}

		if zw == nil {
			if onStart != nil {
				if err := onStart(); err != nil {
					e.close()
					finish(progress.StatusError)
					return stats, err
				}
			}
			zw = zip.NewWriter(w)
		}

		n, err := b.write(zw, names, e)
		e.close()
		if err != nil {
			// The stream is broken mid-entry; nothing more can be
			// salvaged for this client.
			zw.Close()
			finish(progress.StatusError)
			return stats, fmt.Errorf("archive: write entry: %w", err)
		}

		stats.Added++
		stats.Bytes += n
		switch e.tier {
		case tierOriginal:
			stats.Original++
		case tierRemote:
			stats.Remote++
		case tierThumbnail:
			stats.Thumbnail++
		}
		if token != "" {
			_, _ = b.store.Advance(ctx, token, n)
		}
	}

	if zw == nil {
		finish(progress.StatusError)
		return stats, ErrNoEntries
	}
	if err := zw.Close(); err != nil {
		finish(progress.StatusError)
		return stats, fmt.Errorf("archive: close: %w", err)
	}
	finish(progress.StatusDone)
	return stats, nil
}

const (
	tierOriginal  = "original"
	tierRemote    = "remote"
	tierThumbnail = "thumbnail"
)

// secure resolves m and pins down one readable payload, walking the
// plan's tiers in order. Returns nil when every tier fails.
func (b *Builder) secure(ctx context.Context, item *catalog.Item, m catalog.Media) *entry {
	plan := b.loc.Resolve(ctx, item, m)

	if plan.Original != nil {
		if rc, err := b.media.NewReader(ctx, plan.Original.Key, nil); err == nil {
			return &entry{name: plan.Original.Name, tier: tierOriginal, rc: rc}
		}
	}
	if b.fetch != nil {
		for _, remote := range plan.Remotes {
			candidates := b.withInfoCandidates(ctx, remote)
			body, ext, err := b.fetch.Fetch(ctx, candidates)
			if err != nil {
				continue
			}
			name := remote.Label
			if name == "" {
				name = fmt.Sprintf("media-%d", m.ID)
			}
			if item != nil && item.Title != "" {
				name = item.Title + "_" + name
			}
			return &entry{name: name + ext, tier: tierRemote, data: body}
		}
	}
	if plan.Thumbnail != nil {
		if rc, err := b.media.NewReader(ctx, plan.Thumbnail.Key, nil); err == nil {
			return &entry{name: plan.Thumbnail.Name, tier: tierThumbnail, rc: rc}
		}
	}
	return nil
}

// withInfoCandidates probes the entry's info.json and, when it
// answers, puts the canonical base's candidates ahead of the guessed
// ones.
func (b *Builder) withInfoCandidates(ctx context.Context, remote locator.RemoteEntry) []string {
	if remote.ServiceID == "" {
		return remote.Candidates
	}
	data, err := b.fetch.GetJSON(ctx, remote.ServiceID+"/info.json")
	if err != nil {
		return remote.Candidates
	}
	info, err := iiif.ParseInfo(data)
	if err != nil {
		return remote.Candidates
	}
	return iiif.Dedupe(append(info.Candidates(), remote.Candidates...))
}

func (b *Builder) write(zw *zip.Writer, names *namer, e *entry) (int64, error) {
	hdr := &zip.FileHeader{
		Name:     names.unique(sanitizeName(e.name)),
		Method:   zip.Store,
		Modified: time.Now(),
	}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}
	if e.rc != nil {
		return io.Copy(fw, e.rc)
	}
	n, err := fw.Write(e.data)
	return int64(n), err
}

// compile-time check that the HTTP fetcher satisfies the interface.
var _ Fetcher = (*fetch.Fetcher)(nil)
