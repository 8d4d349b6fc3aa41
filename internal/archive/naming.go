package archive

import (
	"fmt"
	"strings"
)

// sanitizeName replaces filesystem-hostile characters so every entry
// name extracts cleanly on common platforms.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// namer hands out archive entry names that are unique under
// case-insensitive comparison, since the zip may be extracted on a
// case-preserving but case-insensitive filesystem.
type namer struct {
	seen map[string]bool
}

func newNamer() *namer {
	return &namer{seen: make(map[string]bool)}
}

// unique returns name, or name with a numeric suffix inserted before
// the extension when the name is already taken.
func (n *namer) unique(name string) string {
	key := strings.ToLower(name)
	if !n.seen[key] {
		n.seen[key] = true
		return name
	}
	stem, ext := splitExt(name)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		key = strings.ToLower(candidate)
		if !n.seen[key] {
			n.seen[key] = true
			return candidate
		}
	}
}

func splitExt(name string) (stem, ext string) {
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		return name[:dot], name[dot:]
	}
	return name, ""
}
