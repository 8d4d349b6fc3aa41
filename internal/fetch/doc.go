// Package fetch retrieves remote image content by trying ranked
// candidate URLs in order.
//
// This package handles:
//   - Bounded per-request timeouts and a small redirect budget
//   - Candidate negotiation: the first URL returning a successful
//     status with a non-empty body wins
//   - A relaxed-TLS retry pass over https candidates for self-hosted
//     image servers with non-public certificates
//   - File extension inference from URL suffix or Content-Type
//
// # Usage
//
//	f := fetch.NewFetcher(fetch.DefaultOptions())
//
//	body, ext, err := f.Fetch(ctx, candidates)
//	size, err := f.Head(ctx, url)
//
// The relaxed-TLS pass accepts self-signed and otherwise invalid
// certificates. It weakens transport trust and should only be pointed
// at trusted internal hosts.
package fetch
