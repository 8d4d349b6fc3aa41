package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned when an item or media does not exist or is
// not visible to the requesting context.
var ErrNotFound = errors.New("catalog: not found")

// Media describes one constituent file of an item, as recorded by the
// host catalog. The catalog has already applied authorization: media
// the caller may not read are simply absent.
type Media struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	StorageID     string          `json:"storage_id"`
	Filename      string          `json:"filename"`
	Extension     string          `json:"extension"`
	HasOriginal   bool            `json:"has_original"`
	HasThumbnails bool            `json:"has_thumbnails"`
	Source        string          `json:"source,omitempty"`
	SizeHint      int64           `json:"size_hint,omitempty"`
	IIIF          json.RawMessage `json:"iiif,omitempty"`
}

// Item is a catalog record with its accessible media.
type Item struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ManifestURL string  `json:"manifest_url,omitempty"`
	Media       []Media `json:"media"`
}

// SelectMedia returns the item's media matching ids, in the order the
// ids were requested. Unknown ids are dropped.
func (it *Item) SelectMedia(ids []int64) []Media {
	byID := make(map[int64]Media, len(it.Media))
	for _, m := range it.Media {
		byID[m.ID] = m
	}
	selected := make([]Media, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			selected = append(selected, m)
		}
	}
	return selected
}

// Catalog looks up items and media in the host collection system.
type Catalog interface {
	// Item returns the item and its accessible media.
	Item(ctx context.Context, id int64) (*Item, error)
	// Media returns a single accessible media by id.
	Media(ctx context.Context, id int64) (*Media, error)
}

// BlobCatalog reads catalog records exported as JSON documents in a
// blob bucket: items/<id>.json holds an Item, media/<id>.json holds a
// Media. This is the integration surface for hosts that sync their
// catalog into object storage.
type BlobCatalog struct {
	bucket *blob.Bucket
}

// NewBlobCatalog returns a catalog reading from bucket.
func NewBlobCatalog(bucket *blob.Bucket) *BlobCatalog {
	return &BlobCatalog{bucket: bucket}
}

func (c *BlobCatalog) Item(ctx context.Context, id int64) (*Item, error) {
	data, err := c.bucket.ReadAll(ctx, "items/"+strconv.FormatInt(id, 10)+".json")
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read item %d: %w", id, err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode item %d: %w", id, err)
	}
	return &item, nil
}

func (c *BlobCatalog) Media(ctx context.Context, id int64) (*Media, error) {
	data, err := c.bucket.ReadAll(ctx, "media/"+strconv.FormatInt(id, 10)+".json")
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read media %d: %w", id, err)
	}
	var media Media
	if err := json.Unmarshal(data, &media); err != nil {
		return nil, fmt.Errorf("decode media %d: %w", id, err)
	}
	return &media, nil
}

// StaticCatalog serves a fixed set of items from memory. Used in tests
// and as the no-op collaborator when no catalog backend is configured.
type StaticCatalog struct {
	items map[int64]*Item
	media map[int64]*Media
}

// NewStaticCatalog builds a catalog from items.
func NewStaticCatalog(items ...*Item) *StaticCatalog {
	c := &StaticCatalog{
		items: make(map[int64]*Item, len(items)),
		media: make(map[int64]*Media),
	}
	for _, it := range items {
		c.items[it.ID] = it
		for i := range it.Media {
			m := it.Media[i]
			c.media[m.ID] = &m
		}
	}
	return c
}

func (c *StaticCatalog) Item(_ context.Context, id int64) (*Item, error) {
	it, ok := c.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}

func (c *StaticCatalog) Media(_ context.Context, id int64) (*Media, error) {
	m, ok := c.media[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}
