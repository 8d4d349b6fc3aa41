// Package admission decides whether a download may start.
//
// Every request is checked against four limits before any bytes flow:
// concurrent downloads, per-download size, total active bytes, and
// file count. Capacity is derived from the live progress records, so
// finished, canceled, and expired downloads release their share
// without explicit bookkeeping.
package admission
