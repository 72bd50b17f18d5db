package taskengine

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/urpc/internal/event"
	"github.com/ehrlich-b/urpc/internal/logging"
)

// stepFunc advances one task by one OuterStep. It returns the action to
// take next; on ActionContinue the engine advances OuterStep and
// re-queues the task, on ActionStop the task is released.
type stepFunc func(ctx context.Context, eng *Engine, t *Task) (Action, error)

// stepKey selects a stepFunc by workflow and outer step.
type stepKey struct {
	Workflow WorkflowType
	Step     uint32
}

// Engine is the single-threaded event-driven task runner: each Run
// iteration pulls ready tasks, files each on running while it steps,
// and then puts it back on ready or releases it. No task is ever filed
// on the active list.
type Engine struct {
	mu      sync.Mutex
	ready   *list.List
	active  *list.List
	running *list.List
	index   map[TaskID]*list.Element

	steps map[stepKey]stepFunc

	events *event.AsyncEventQueue
	wheel  *event.TimingWheel
	logger *logging.Logger

	nextID atomic.Uint64
	wake   chan struct{}
}

// New creates an Engine that posts task notifications to the given
// event queue. The timing wheel is stored on the Engine, but nothing is
// scheduled on it: tasks have no timeout.
func New(events *event.AsyncEventQueue, wheel *event.TimingWheel) *Engine {
	e := &Engine{
		ready:   list.New(),
		active:  list.New(),
		running: list.New(),
		index:   make(map[TaskID]*list.Element),
		steps:   make(map[stepKey]stepFunc),
		events:  events,
		wheel:   wheel,
		logger:  logging.Default(),
		wake:    make(chan struct{}, 1),
	}
	registerWorkflows(e)
	return e
}

func (e *Engine) register(w WorkflowType, step uint32, fn stepFunc) {
	e.steps[stepKey{w, step}] = fn
}

// Submit creates a new task for workflow and enqueues it onto the ready
// list.
func (e *Engine) Submit(workflow WorkflowType, key InstanceKey, isServer bool) *Task {
	t := &Task{
		ID:       TaskID(e.nextID.Add(1)),
		Key:      key,
		Workflow: workflow,
		List:     ListReady,
		State:    StatePendingSend,
		IsServer: isServer,
	}
	t.RefCnt.Store(1)

	e.mu.Lock()
	elem := e.ready.PushBack(t)
	e.index[t.ID] = elem
	e.mu.Unlock()
	e.signal()
	return t
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Cancel marks a task user-canceled; the next step observes the flag,
// sets ErrCode to ErrForceExit and stops the task. It drains no
// outstanding work and sends no cancel message to the peer.
func (e *Engine) Cancel(id TaskID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	elem, ok := e.index[id]
	if !ok {
		return false
	}
	elem.Value.(*Task).IsUserCanceled = true
	return true
}

func (e *Engine) moveTo(t *Task, dst ListType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	elem, ok := e.index[t.ID]
	if !ok {
		return
	}
	e.listFor(t.List).Remove(elem)
	t.List = dst
	e.index[t.ID] = e.listFor(dst).PushBack(t)
	if dst == ListReady {
		e.signal()
	}
}

func (e *Engine) listFor(l ListType) *list.List {
	switch l {
	case ListActive:
		return e.active
	case ListRunning:
		return e.running
	default:
		return e.ready
	}
}

func (e *Engine) release(t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if elem, ok := e.index[t.ID]; ok {
		e.listFor(t.List).Remove(elem)
		delete(e.index, t.ID)
	}
}

// step drains one task through its current OuterStep's function.
func (e *Engine) step(ctx context.Context, t *Task) (Action, error) {
	if t.IsUserCanceled {
		t.ErrCode = ErrForceExit
		if t.IsSendCancelMsg {
			// no step sets IsSendCancelMsg, and no cancel message is
			// sent from here either way.
		}
		return ActionStop, nil
	}
	fn, ok := e.steps[stepKey{t.Workflow, t.OuterStep}]
	if !ok {
		return ActionStop, fmt.Errorf("taskengine: no step for %s/%d", t.Workflow, t.OuterStep)
	}
	return fn(ctx, e, t)
}

// RunOnce drains the ready list exactly once, stepping every task
// currently in it. Tasks that continue advance OuterStep and go back to
// ready; tasks that stop are released and a completion event is posted.
func (e *Engine) RunOnce(ctx context.Context) {
	e.mu.Lock()
	var batch []*Task
	for el := e.ready.Front(); el != nil; el = el.Next() {
		batch = append(batch, el.Value.(*Task))
	}
	e.mu.Unlock()

	for _, t := range batch {
		e.moveTo(t, ListRunning)
		action, err := e.step(ctx, t)
		switch action {
		case ActionContinue:
			t.OuterStep++
			t.InnerStep = 0
			e.moveTo(t, ListReady)
		case ActionStop:
			evType := event.TypeTaskComplete
			if err != nil || t.ErrCode != 0 {
				evType = event.TypeTaskError
			}
			e.release(t)
			if e.events != nil {
				e.events.Post(event.AsyncEvent{Type: evType, ErrCode: t.ErrCode, Ctx: t})
			}
		}
		if err != nil {
			e.logger.Warn("task step error", "workflow", t.Workflow, "step", t.OuterStep, "error", err)
		}
	}
}

// Run loops RunOnce until ctx is canceled, yielding via the ready-list
// emptiness the way the teacher's io loop parks when idle.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.mu.Lock()
		idle := e.ready.Len() == 0
		e.mu.Unlock()
		if idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			}
			continue
		}
		e.RunOnce(ctx)
	}
}

// Drain runs RunOnce until every submitted task has been released
// (completed or stopped), or ctx is canceled. Unlike Run it returns as
// soon as there's no outstanding work, which is what a caller awaiting
// one handshake's completion wants instead of a server's persistent loop.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		e.mu.Lock()
		pending := len(e.index)
		e.mu.Unlock()
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.RunOnce(ctx)
		e.mu.Lock()
		stillReady := e.ready.Len() > 0
		e.mu.Unlock()
		if !stillReady {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
}
