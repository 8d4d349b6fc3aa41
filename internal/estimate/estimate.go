package estimate

import (
	"context"

	"gocloud.dev/blob"

	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/locator"
)

// FallbackSize is assumed for a media item whose size cannot be
// determined any other way.
const FallbackSize int64 = 2_000_000

// Header probes the size of a remote resource without fetching its
// body.
type Header interface {
	Head(ctx context.Context, url string) (int64, error)
}

// Estimator predicts the uncompressed payload size of a download
// before any bytes are streamed. Estimates are conservative inputs to
// admission control, not exact accounting.
type Estimator struct {
	media *blob.Bucket
	loc   *locator.Locator
	head  Header
}

// New returns an estimator over the media store. head may be nil, in
// which case remote sizes always fall back to FallbackSize.
func New(media *blob.Bucket, loc *locator.Locator, head Header) *Estimator {
	return &Estimator{media: media, loc: loc, head: head}
}

// Media estimates the size of a single media item. The cheapest signal
// wins: a catalog size hint, then stored object attributes, then a
// HEAD probe of the best remote candidate, then FallbackSize.
func (e *Estimator) Media(ctx context.Context, item *catalog.Item, media catalog.Media) int64 {
	if media.SizeHint > 0 {
		return media.SizeHint
	}

	plan := e.loc.Resolve(ctx, item, media)
	if plan.Original != nil {
		if n := e.objectSize(ctx, plan.Original.Key); n > 0 {
			return n
		}
	}
	for _, remote := range plan.Remotes {
		if e.head == nil || len(remote.Candidates) == 0 {
			break
		}
		if n, err := e.head.Head(ctx, remote.Candidates[0]); err == nil && n > 0 {
			return n
		}
		// One probe per media keeps estimation O(files), not
		// O(candidates).
		break
	}
	if plan.Thumbnail != nil {
		if n := e.objectSize(ctx, plan.Thumbnail.Key); n > 0 {
			return n
		}
	}
	return FallbackSize
}

// Total sums Media over the given set and reports the file count.
func (e *Estimator) Total(ctx context.Context, item *catalog.Item, media []catalog.Media) (total int64, files int) {
	for _, m := range media {
		total += e.Media(ctx, item, m)
		files++
	}
	return total, files
}

func (e *Estimator) objectSize(ctx context.Context, key string) int64 {
	attrs, err := e.media.Attributes(ctx, key)
	if err != nil {
		return 0
	}
	return attrs.Size
}
