// Package estimate predicts download payload sizes ahead of streaming.
//
// Estimates feed admission control: they decide whether a request may
// start at all, so they favor cheap signals (catalog hints, object
// attributes, a single HEAD probe) over accuracy. A media item with no
// usable signal is assumed to be FallbackSize bytes.
package estimate
