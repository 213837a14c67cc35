// Package api implements the thin HTTP submission surface: liveness,
// a dataset catalog refresh trigger, and pipeline submission. It is a
// file sink and a delegate to the Pipeline Manager, not part of the
// controller's core.
package api
