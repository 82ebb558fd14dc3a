// Package work provides the bounded worker pool shared by aggregation branches and
// analysis compositions, and the retry helper used around slow external calls.
//
// # Pool
//
// The pool bounds how many fetches and engine calls run at once. Callers block in
// Do or Go until a slot frees up or their context is cancelled. Long-lived
// monitoring loops are not pool work: they sleep on their own goroutines and only
// borrow slots for the branches they fan out.
//
// # Retry
//
// Retry re-runs a call a fixed number of times with a fixed delay, but only while
// the error is classified as retryable. Permanent failures return immediately.
package work
