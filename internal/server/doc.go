// Package server is the HTTP surface for archive downloads.
//
// # Endpoints
//
//	POST /download/item/{id}   stream a zip of the item's selected media
//	POST /download/estimate    pre-flight size estimate for a selection
//	GET  /download/status      poll build progress by token
//	POST /download/cancel      request cooperative cancellation
//	GET  /health               liveness probe
//
// Download and cancel bodies are form-encoded, matching what a plain
// browser form or fetch() sends: media_ids is a comma-separated list,
// progress_token an opaque string. When the client supplies no token
// the server mints one and reports it in the X-Progress-Token header.
//
// Errors are JSON objects {"error": code, "retry_after": seconds}
// with the retry hint present only on capacity rejections.
package server
