package iiif

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// IsImageAPI reports whether u looks like a IIIF Image API URL.
func IsImageAPI(u string) bool {
	return strings.Contains(u, "/iiif/2/") || strings.Contains(u, "/iiif/3/")
}

// Candidates builds the ranked candidate URL list for an image given
// its Image API service id and/or a direct image URL. Size tokens are
// tried from most to least standard; width/height-constrained variants
// are appended when dimensions are known.
func Candidates(serviceID, directID string, width, height int) []string {
	var candidates []string
	if serviceID != "" {
		candidates = append(candidates, baseCandidates(strings.TrimRight(serviceID, "/"), width, height)...)
	}
	if directID != "" {
		candidates = append(candidates, directID)
		candidates = append(candidates, baseCandidates(strings.TrimRight(directID, "/"), width, height)...)
		// A direct URL whose identifier carries a file extension
		// (e.g. .../iiif/2/scan_001.tif) often doubles as a service
		// base once the extension is stripped.
		if stripped := stripIdentifierExtension(directID); stripped != "" {
			candidates = append(candidates, baseCandidates(stripped, width, height)...)
		}
	}
	return Dedupe(candidates)
}

// baseCandidates expands one Image API base URL into size/format
// variants.
func baseCandidates(base string, width, height int) []string {
	c := []string{
		base + "/full/max/0/default.jpg",
		base + "/full/full/0/default.jpg",
		base + "/full/max/0/color.jpg",
		base + "/full/full/0/color.jpg",
		base + "/max/full/0/default.jpg",
		base + "/full/max/0/default.png",
		base + "/full/pct:100/0/default.jpg",
		base + "/full/pct:100/0/color.jpg",
	}
	if width > 0 {
		h := height
		if h <= 0 {
			h = width
		}
		c = append(c,
			fmt.Sprintf("%s/full/%d,/0/default.jpg", base, width),
			fmt.Sprintf("%s/full/!%d,%d/0/default.jpg", base, width, h),
		)
	}
	if height > 0 {
		c = append(c, fmt.Sprintf("%s/full/,%d/0/default.jpg", base, height))
	}
	return c
}

// stripIdentifierExtension rebuilds a /iiif/{ver}/ URL with the file
// extension removed from its last path segment. Returns "" when there
// is nothing to strip.
func stripIdentifierExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !IsImageAPI(u.Path) {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	last := segments[len(segments)-1]
	dot := strings.LastIndexByte(last, '.')
	if dot <= 0 {
		return ""
	}
	segments[len(segments)-1] = last[:dot]
	base := ""
	if u.Scheme != "" && u.Host != "" {
		base = u.Scheme + "://" + u.Host
	}
	return strings.TrimRight(base+"/"+strings.Join(segments, "/"), "/")
}

// Identifier extracts the Image API identifier from a IIIF URL, e.g.
// https://host/iiif/3/scan_001/full/max/0/default.jpg -> scan_001.
// A trailing extension on the identifier is stripped. For URLs without
// the /iiif/{ver}/ shape, the last path segment is used.
func Identifier(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "iiif" && i+2 < len(parts) {
			return trimExtension(parts[i+2])
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return trimExtension(parts[len(parts)-1])
}

func trimExtension(seg string) string {
	if dot := strings.LastIndexByte(seg, '.'); dot > 0 {
		return seg[:dot]
	}
	return seg
}

// Info is the subset of an Image API info.json response the pipeline
// uses: the canonical base id, the full pixel dimensions, and any
// advertised sizes.
type Info struct {
	Base   string
	Width  int
	Height int
	Sizes  [][2]int // width, height pairs
}

// ParseInfo decodes an info.json body.
func ParseInfo(data []byte) (*Info, error) {
	var doc struct {
		ID    string `json:"id"`
		AtID  string `json:"@id"`
		W     int    `json:"width"`
		H     int    `json:"height"`
		Sizes []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"sizes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse info.json: %w", err)
	}
	info := &Info{Width: doc.W, Height: doc.H}
	info.Base = doc.ID
	if info.Base == "" {
		info.Base = doc.AtID
	}
	info.Base = strings.TrimRight(info.Base, "/")
	for _, s := range doc.Sizes {
		info.Sizes = append(info.Sizes, [2]int{s.Width, s.Height})
	}
	return info, nil
}

// Candidates returns the best-first candidate URLs learned from the
// info response: exact-dimension requests, then the general full-size
// tokens, then the largest advertised size.
func (i *Info) Candidates() []string {
	if i.Base == "" {
		return nil
	}
	var c []string
	if i.Width > 0 {
		c = append(c, fmt.Sprintf("%s/full/%d,/0/default.jpg", i.Base, i.Width))
	}
	if i.Height > 0 {
		c = append(c, fmt.Sprintf("%s/full/,%d/0/default.jpg", i.Base, i.Height))
	}
	c = append(c,
		i.Base+"/full/max/0/default.jpg",
		i.Base+"/full/full/0/default.jpg",
		i.Base+"/max/full/0/default.jpg",
		i.Base+"/full/max/0/default.png",
	)
	if len(i.Sizes) > 0 {
		sizes := append([][2]int(nil), i.Sizes...)
		sort.Slice(sizes, func(a, b int) bool { return sizes[a][0] > sizes[b][0] })
		if sizes[0][0] > 0 && sizes[0][1] > 0 {
			c = append(c, fmt.Sprintf("%s/full/%d,/0/default.jpg", i.Base, sizes[0][0]))
		}
	}
	return Dedupe(c)
}

// Dedupe removes duplicates from urls preserving first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
