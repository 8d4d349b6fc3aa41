package iiif

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entry is one downloadable image found in a manifest: usually one
// canvas (page) with its Image API service and, when known, its pixel
// dimensions.
type Entry struct {
	Label     string
	ServiceID string
	DirectID  string
	Width     int
	Height    int
}

// Candidates returns the ranked candidate URL list for the entry.
func (e Entry) Candidates() []string {
	return Candidates(e.ServiceID, e.DirectID, e.Width, e.Height)
}

// ParseManifest extracts image entries from a IIIF Presentation
// manifest, v2 or v3. An empty slice (not an error) is returned when
// the document is valid JSON but contains no extractable images.
func ParseManifest(data []byte) ([]Entry, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if ctx, _ := doc["@context"].(string); strings.Contains(ctx, "/presentation/2/") {
		return parseV2(doc), nil
	}
	return parseV3(doc), nil
}

// parseV2 walks sequences[0].canvases[].images[0].resource.
func parseV2(doc map[string]any) []Entry {
	var entries []Entry
	seqs, _ := doc["sequences"].([]any)
	if len(seqs) == 0 {
		return nil
	}
	seq, _ := seqs[0].(map[string]any)
	canvases, _ := seq["canvases"].([]any)
	for i, c := range canvases {
		canvas, _ := c.(map[string]any)
		if canvas == nil {
			continue
		}
		label := v2Label(canvas["label"])
		if label == "" {
			label = fmt.Sprintf("%d", i+1)
		}
		images, _ := canvas["images"].([]any)
		if len(images) == 0 {
			continue
		}
		image, _ := images[0].(map[string]any)
		resource, _ := image["resource"].(map[string]any)
		if resource == nil {
			continue
		}
		direct := str(resource["@id"])
		serviceID := ""
		if svc, ok := resource["service"].(map[string]any); ok {
			serviceID = firstStr(svc["@id"], svc["id"])
		}
		w := intOr(resource["width"], intOr(canvas["width"], 0))
		h := intOr(resource["height"], intOr(canvas["height"], 0))
		if serviceID == "" && direct == "" {
			continue
		}
		entries = append(entries, Entry{
			Label: label, ServiceID: serviceID, DirectID: direct, Width: w, Height: h,
		})
	}
	return entries
}

// parseV3 walks items[].items[0].items[0].body.
func parseV3(doc map[string]any) []Entry {
	var entries []Entry
	canvases, _ := doc["items"].([]any)
	for i, c := range canvases {
		canvas, _ := c.(map[string]any)
		if canvas == nil {
			continue
		}
		label := v3Label(canvas["label"])
		if label == "" {
			label = fmt.Sprintf("%d", i+1)
		}
		pages, _ := canvas["items"].([]any)
		if len(pages) == 0 {
			continue
		}
		page, _ := pages[0].(map[string]any)
		annos, _ := page["items"].([]any)
		if len(annos) == 0 {
			continue
		}
		anno, _ := annos[0].(map[string]any)
		body, _ := anno["body"].(map[string]any)
		if body == nil {
			continue
		}
		direct := str(body["id"])
		serviceID := ""
		switch svc := body["service"].(type) {
		case []any:
			if len(svc) > 0 {
				if m, ok := svc[0].(map[string]any); ok {
					serviceID = firstStr(m["id"], m["@id"])
				}
			}
		case map[string]any:
			serviceID = firstStr(svc["id"], svc["@id"])
		}
		w := intOr(body["width"], intOr(canvas["width"], 0))
		h := intOr(body["height"], intOr(canvas["height"], 0))
		if serviceID == "" && direct == "" {
			continue
		}
		entries = append(entries, Entry{
			Label: label, ServiceID: serviceID, DirectID: direct, Width: w, Height: h,
		})
	}
	return entries
}

// v2Label handles plain strings and {"lang": ["value"]} maps.
func v2Label(v any) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]any:
		for _, vals := range l {
			if arr, ok := vals.([]any); ok && len(arr) > 0 {
				return str(arr[0])
			}
		}
	}
	return ""
}

// v3Label prefers the "none" language, then the first language key.
func v3Label(v any) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]any:
		if arr, ok := l["none"].([]any); ok && len(arr) > 0 {
			if s := str(arr[0]); s != "" {
				return s
			}
		}
		for _, vals := range l {
			if arr, ok := vals.([]any); ok && len(arr) > 0 {
				if s := str(arr[0]); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstStr(vs ...any) string {
	for _, v := range vs {
		if s := str(v); s != "" {
			return s
		}
	}
	return ""
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}
