package native

import "github.com/tracepoint-dev/bsdcore/pkg/dbgcore"

// threadRegistry is the process controller's per-thread bookkeeping
// (component D). It is not safe for concurrent use; the controller
// only ever touches it while holding its own mutex.
type threadRegistry struct {
	threads map[dbgcore.Tid]*dbgcore.ThreadState
	order   []dbgcore.Tid // insertion order, so listings are deterministic
}

func newThreadRegistry() *threadRegistry {
	return &threadRegistry{threads: make(map[dbgcore.Tid]*dbgcore.ThreadState)}
}

// observe records tid as known, creating its record on first sight.
func (r *threadRegistry) observe(tid dbgcore.Tid) *dbgcore.ThreadState {
	if ts, ok := r.threads[tid]; ok {
		return ts
	}
	ts := &dbgcore.ThreadState{Tid: tid, IsActive: true}
	r.threads[tid] = ts
	r.order = append(r.order, tid)
	return ts
}

// setStatus stores raw as tid's last-seen wait status, creating tid's
// record on first sight the same way observe does.
func (r *threadRegistry) setStatus(tid dbgcore.Tid, raw uint32) *dbgcore.ThreadState {
	ts := r.observe(tid)
	ts.LastWaitStatus = raw
	return ts
}

// remove drops tid from the registry, e.g. on LWP exit.
func (r *threadRegistry) remove(tid dbgcore.Tid) {
	delete(r.threads, tid)
	for i, t := range r.order {
		if t == tid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// get looks up tid, returning UnknownThreadError if it has never been observed.
func (r *threadRegistry) get(tid dbgcore.Tid) (*dbgcore.ThreadState, error) {
	ts, ok := r.threads[tid]
	if !ok {
		return nil, &dbgcore.UnknownThreadError{Tid: tid}
	}
	return ts, nil
}

// list returns every known thread in observation order.
func (r *threadRegistry) list() []dbgcore.Tid {
	out := make([]dbgcore.Tid, len(r.order))
	copy(out, r.order)
	return out
}

func (r *threadRegistry) clear() {
	r.threads = make(map[dbgcore.Tid]*dbgcore.ThreadState)
	r.order = nil
}
