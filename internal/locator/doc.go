// Package locator resolves a single media item to a prioritized plan
// of byte sources: local original file, ranked remote image-service
// candidates, then a local large thumbnail.
//
// Resolution is pure: the locator checks readability of stored objects
// and derives candidate URLs, but never streams content. The archive
// builder executes the plan in priority order and stops at the first
// source that yields bytes.
package locator
