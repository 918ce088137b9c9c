// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time, in submission order.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or running work.
//
// Usage:
//
//	queue := commandqueue.New(logger)
//	defer queue.Close()
//	result, err := queue.Do(ctx, "seq:42", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package commandqueue
