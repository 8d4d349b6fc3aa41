// Package iiif derives image-download candidate URLs from IIIF
// Presentation manifests (v2 and v3) and Image API descriptors.
//
// IIIF image servers differ in which size tokens they accept
// (full/max, full/full, max/full, pct:100, explicit pixel sizes), so a
// single canonical URL cannot be synthesized. Instead Candidates
// produces a ranked list of guesses that a fetcher tries in order
// until one yields bytes. Lists are deduplicated preserving first-seen
// order.
package iiif
