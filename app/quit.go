package app

import (
	"sync"
	"sync/atomic"
)

// quitSignal is the shared quit flag plus the count of outstanding handles.
type quitSignal struct {
	mu          sync.Mutex
	quitting    bool
	done        chan struct{} // closed by quit
	outstanding int
	drained     chan struct{} // closed whenever outstanding is zero
	onChange    func(outstanding int)
	onQuit      func()
}

func newQuitSignal(onChange func(int), onQuit func()) *quitSignal {
	drained := make(chan struct{})
	close(drained)
	if onChange == nil {
		onChange = func(int) {}
	}
	if onQuit == nil {
		onQuit = func() {}
	}
	return &quitSignal{
		done:     make(chan struct{}),
		drained:  drained,
		onChange: onChange,
		onQuit:   onQuit,
	}
}

// quit flips the flag. It reports whether this call did the flip.
func (q *quitSignal) quit() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.quitting {
		return false
	}
	q.quitting = true
	close(q.done)
	q.onQuit()
	return true
}

func (q *quitSignal) isQuitting() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// acquire issues a new handle unless quit has been called.
func (q *quitSignal) acquire() (*QuitHandle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.quitting {
		return nil, false
	}
	q.retainLocked()
	return &QuitHandle{q: q}, true
}

func (q *quitSignal) retainLocked() {
	if q.outstanding == 0 {
		q.drained = make(chan struct{})
	}
	q.outstanding++
	q.onChange(q.outstanding)
}

func (q *quitSignal) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding == 0 {
		close(q.drained)
	}
	q.onChange(q.outstanding)
}

// wait returns a channel closed once no handle is outstanding, and the
// current count.
func (q *quitSignal) wait() (<-chan struct{}, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained, q.outstanding
}

func (q *quitSignal) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// QuitHandle lets background work observe the quit signal. While any handle
// is outstanding, App.Shutdown does not run plugin shutdown hooks. Every
// handle, including clones, must be released exactly once.
type QuitHandle struct {
	q        *quitSignal
	released atomic.Bool
}

// IsQuitting reports whether quit has been requested.
func (h *QuitHandle) IsQuitting() bool {
	return h.q.isQuitting()
}

// Done is closed when quit is requested.
func (h *QuitHandle) Done() <-chan struct{} {
	return h.q.done
}

// Quit requests quit. The handle stays outstanding until released.
func (h *QuitHandle) Quit() {
	h.q.quit()
}

// Clone returns a new handle that must be released on its own. Cloning works
// after quit so work already holding a handle can still hand one off.
// Cloning a released handle panics.
func (h *QuitHandle) Clone() *QuitHandle {
	if h.released.Load() {
		panic("app: Clone of released QuitHandle")
	}
	h.q.mu.Lock()
	h.q.retainLocked()
	h.q.mu.Unlock()
	return &QuitHandle{q: h.q}
}

// Release gives the handle back. Further calls do nothing.
func (h *QuitHandle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.q.release()
}
