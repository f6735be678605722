package rxgo

import (
	"sort"
	"sync"
)

// VirtualScheduler is a deterministic, manually-advanced virtual-time
// scheduler for tests, grounded on the teacher's testScheduler in
// scheduler.go: a monotonic virtual clock plus a time-sorted queue of
// pending actions, advanced explicitly by the test rather than by wall
// clock time.
type VirtualScheduler struct {
	mu      sync.Mutex
	now     int64
	actions []*virtualAction
	seq     int64
}

type virtualAction struct {
	dueAt int64
	seq   int64
	task  func()
	ran   bool
}

// NewVirtualScheduler constructs a VirtualScheduler starting at virtual
// time 0.
func NewVirtualScheduler() *VirtualScheduler {
	return &VirtualScheduler{}
}

// Now returns the current virtual time.
func (v *VirtualScheduler) Now() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// ScheduleAt enqueues task to run when the virtual clock reaches atTime.
func (v *VirtualScheduler) ScheduleAt(atTime int64, task func()) Disposable {
	v.mu.Lock()
	v.seq++
	a := &virtualAction{dueAt: atTime, seq: v.seq, task: task}
	v.actions = append(v.actions, a)
	v.mu.Unlock()
	return &virtualActionDisposable{action: a}
}

type virtualActionDisposable struct{ action *virtualAction }

func (d *virtualActionDisposable) Dispose()         { d.action.ran = true }
func (d *virtualActionDisposable) IsDisposed() bool { return d.action.ran }

// Schedule runs task at the current virtual time, after any
// already-pending actions due at or before now.
func (v *VirtualScheduler) Schedule(task func()) Disposable {
	v.mu.Lock()
	now := v.now
	v.mu.Unlock()
	return v.ScheduleAt(now, task)
}

func (v *VirtualScheduler) CreateWorker() Worker {
	return &virtualWorker{scheduler: v}
}

func (v *VirtualScheduler) Shutdown() {
	v.mu.Lock()
	v.actions = nil
	v.mu.Unlock()
}

// AdvanceTimeBy moves the virtual clock forward by delta, running every
// due action in (seq-stable) time order.
func (v *VirtualScheduler) AdvanceTimeBy(delta int64) {
	v.AdvanceTimeTo(v.Now() + delta)
}

// AdvanceTimeTo moves the virtual clock forward to target, running every
// action due at or before it.
func (v *VirtualScheduler) AdvanceTimeTo(target int64) {
	for {
		v.mu.Lock()
		sort.SliceStable(v.actions, func(i, j int) bool {
			if v.actions[i].dueAt != v.actions[j].dueAt {
				return v.actions[i].dueAt < v.actions[j].dueAt
			}
			return v.actions[i].seq < v.actions[j].seq
		})
		var next *virtualAction
		for _, a := range v.actions {
			if !a.ran && a.dueAt <= target {
				next = a
				break
			}
		}
		if next == nil {
			if v.now < target {
				v.now = target
			}
			v.mu.Unlock()
			return
		}
		next.ran = true
		if v.now < next.dueAt {
			v.now = next.dueAt
		}
		v.mu.Unlock()
		safeRun(next.task)
	}
}

type virtualWorker struct{ scheduler *VirtualScheduler }

func (w *virtualWorker) Schedule(task func()) Disposable { return w.scheduler.Schedule(task) }
func (w *virtualWorker) Shutdown()                       {}
