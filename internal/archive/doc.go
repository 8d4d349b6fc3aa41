// Package archive streams zip downloads entry by entry.
//
// A build walks the selected media in request order, secures one
// payload per media from its resolved plan (stored original, remote
// IIIF fetch, stored thumbnail), and appends it to the zip stream.
// Failures are contained to the media they occur on; the archive keeps
// growing around them. Entry names are sanitized and deduplicated
// case-insensitively.
//
// Output starts lazily: no zip byte is written until the first payload
// is secured, which lets an HTTP caller defer its status line until
// success is certain.
package archive
