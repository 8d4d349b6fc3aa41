// Package progress persists per-download progress records keyed by an
// opaque client token.
//
// Each record is stored as a single JSON object in a blob bucket under
// progress/<token>.json. A build writes its own record (single writer);
// the status endpoint and admission control only read. Records older
// than the configured TTL are treated as expired by every reader and may
// be reclaimed by whichever party observes the expiry first.
//
// # Usage
//
//	store := progress.NewStore(bucket, 2*time.Hour)
//
//	rec, _ := store.Begin(ctx, token, totalBytes)
//	rec, _ = store.Advance(ctx, token, entryLen)
//	_ = store.Finish(ctx, token, progress.StatusDone)
//
// The package also provides ParseBytes/FormatBytes for human-readable
// byte sizes (used by the configuration surface).
package progress
