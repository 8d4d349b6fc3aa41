package locator

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"

	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/iiif"
)

// ObjectRef points at a readable object in the media store together
// with the archive entry name it should get.
type ObjectRef struct {
	Key  string
	Name string
}

// RemoteEntry is one remote image to fetch: a ranked candidate list
// plus the service id for an optional info.json probe.
type RemoteEntry struct {
	Label      string
	ServiceID  string
	Candidates []string
}

// Plan is the ordered strategy for satisfying one media item's bytes.
// Exactly one tier is used per media: the original when present, else
// the first remote entry set that yields bytes, else the thumbnail.
type Plan struct {
	MediaID   int64
	Original  *ObjectRef
	Remotes   []RemoteEntry
	Thumbnail *ObjectRef
}

// Empty reports whether the plan offers no source at all.
func (p *Plan) Empty() bool {
	return p.Original == nil && len(p.Remotes) == 0 && p.Thumbnail == nil
}

// ManifestFetcher retrieves IIIF presentation manifests. The locator
// degrades gracefully when none is available.
type ManifestFetcher interface {
	GetJSON(ctx context.Context, url string) ([]byte, error)
}

// noManifests is the no-op fetcher injected when no HTTP collaborator
// is configured.
type noManifests struct{}

func (noManifests) GetJSON(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("locator: no manifest fetcher configured")
}

// Locator resolves media to plans against a media store bucket.
type Locator struct {
	media     *blob.Bucket
	manifests ManifestFetcher
}

// New returns a locator over the media store. manifests may be nil, in
// which case remote manifests are never fetched and only locally
// stored descriptors are used.
func New(media *blob.Bucket, manifests ManifestFetcher) *Locator {
	if manifests == nil {
		manifests = noManifests{}
	}
	return &Locator{media: media, manifests: manifests}
}

// Resolve builds the plan for media. item may be nil when no item
// context is available (e.g. pre-flight estimation by media id only);
// the item-level manifest fallback is skipped then.
func (l *Locator) Resolve(ctx context.Context, item *catalog.Item, media catalog.Media) *Plan {
	plan := &Plan{MediaID: media.ID}

	if media.HasOriginal {
		plan.Original = l.resolveOriginal(ctx, media)
	}
	if plan.Original == nil {
		plan.Remotes = l.resolveRemotes(ctx, item, media)
		if media.HasThumbnails {
			plan.Thumbnail = l.resolveThumbnail(ctx, media)
		}
	}
	return plan
}

// resolveOriginal checks the canonical storage path, then an alternate
// path keyed by the declared filename.
func (l *Locator) resolveOriginal(ctx context.Context, media catalog.Media) *ObjectRef {
	ext := normalizeExt(media.Extension)
	key := "original/" + media.StorageID + ext
	if ok, err := l.media.Exists(ctx, key); err == nil && ok {
		name := media.Filename
		if name == "" {
			name = media.StorageID + ext
		}
		return &ObjectRef{Key: key, Name: name}
	}
	if media.Filename != "" {
		alt := "original/" + media.Filename
		if ok, err := l.media.Exists(ctx, alt); err == nil && ok {
			return &ObjectRef{Key: alt, Name: media.Filename}
		}
	}
	return nil
}

func (l *Locator) resolveThumbnail(ctx context.Context, media catalog.Media) *ObjectRef {
	key := "large/" + media.StorageID + ".jpg"
	if ok, err := l.media.Exists(ctx, key); err == nil && ok {
		return &ObjectRef{Key: key, Name: media.StorageID + "_large.jpg"}
	}
	return nil
}

// resolveRemotes derives remote image entries from, in order: the
// media's stored manifest fragment, the media source URL fetched as a
// manifest, the item-level manifest, and finally the source URL taken
// directly as an Image API base when its path has that shape.
func (l *Locator) resolveRemotes(ctx context.Context, item *catalog.Item, media catalog.Media) []RemoteEntry {
	var entries []iiif.Entry

	if len(media.IIIF) > 0 {
		entries, _ = iiif.ParseManifest(media.IIIF)
	}
	if len(entries) == 0 && media.Source != "" && !iiif.IsImageAPI(media.Source) {
		if data, err := l.manifests.GetJSON(ctx, media.Source); err == nil {
			entries, _ = iiif.ParseManifest(data)
		}
	}
	if len(entries) == 0 && item != nil && item.ManifestURL != "" {
		if data, err := l.manifests.GetJSON(ctx, item.ManifestURL); err == nil {
			entries, _ = iiif.ParseManifest(data)
		}
	}

	entries = filterToMedia(entries, media)

	remotes := make([]RemoteEntry, 0, len(entries))
	for _, e := range entries {
		remotes = append(remotes, RemoteEntry{
			Label:      e.Label,
			ServiceID:  e.ServiceID,
			Candidates: e.Candidates(),
		})
	}

	if len(remotes) == 0 && iiif.IsImageAPI(media.Source) {
		base := strings.TrimRight(media.Source, "/")
		remotes = append(remotes, RemoteEntry{
			Label:      fmt.Sprintf("media-%d", media.ID),
			ServiceID:  base,
			Candidates: iiif.Candidates(base, "", 0, 0),
		})
	}
	return remotes
}

// filterToMedia narrows an item-level manifest down to the canvases
// belonging to the requested media, matched by Image API identifier.
// When no mapping can be determined, only the first entry is kept so a
// single-media request never packs unrelated pages.
func filterToMedia(entries []iiif.Entry, media catalog.Media) []iiif.Entry {
	if len(entries) <= 1 || !iiif.IsImageAPI(media.Source) {
		return entries
	}
	srcID := iiif.Identifier(media.Source)
	if srcID == "" {
		return entries[:1]
	}
	var filtered []iiif.Entry
	for _, e := range entries {
		if (e.ServiceID != "" && iiif.Identifier(e.ServiceID) == srcID) ||
			(e.DirectID != "" && iiif.Identifier(e.DirectID) == srcID) {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return entries[:1]
	}
	return filtered
}

// normalizeExt returns the extension with exactly one leading dot, or
// "" when none is declared.
func normalizeExt(ext string) string {
	ext = strings.TrimLeft(strings.TrimSpace(ext), ".")
	if ext == "" {
		return ""
	}
	return "." + ext
}
