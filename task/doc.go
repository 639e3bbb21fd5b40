// Package task provides the shared runtime that plugins use for background work.
//
// Spawn runs asynchronous work on the Go scheduler. SpawnBlocking runs work
// that cannot yield (polling loops, blocking syscalls) on a bounded pool whose
// goroutines are locked to OS threads. Both return a Handle carrying the
// eventual result. Panics are recovered and reported as ErrTaskPanicked.
//
// The runtime is built lazily on first spawn, so sizing in Config may be
// changed up to that point.
//
// Usage:
//
//	rt := task.New(task.DefaultConfig(), logger)
//	h := task.Spawn(rt, func() (int, error) { return 42, nil })
//	v, err := h.Wait(ctx)
package task
