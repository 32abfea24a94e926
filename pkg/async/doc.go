// Package async runs background work with panic recovery and timeouts.
//
// SafeGo detaches a single task from the request that started it. WorkerPool
// feeds a bounded queue to a fixed set of workers; the audit package uses it to
// write events without blocking request handlers. Batch fans a slice out over
// a limited number of goroutines.
package async
