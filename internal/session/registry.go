package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/playperu/livequiz/internal/livequiz"
)

// errNotResident is returned by execResident when the event has no
// actor in memory.
var errNotResident = errors.New("event not resident")

// actor owns one event's state. Only its goroutine touches state.
type actor struct {
	inbox chan func()
	quit  chan struct{}
	// exited closes once the goroutine stops, after the actor has left
	// the registry.
	exited chan struct{}
	state  *eventState
}

// runActor processes jobs until the engine closes or a job retires the
// event. Jobs still queued behind a retirement never run; their callers
// retry against a freshly loaded actor.
func (e *Engine) runActor(a *actor) {
	defer close(a.exited)
	defer a.state.stopTimers()
	for {
		select {
		case job := <-a.inbox:
			job()
			if a.state.retired {
				e.evict(a)
				return
			}
		case <-a.quit:
			return
		}
	}
}

// evict removes an ended event from memory. It reloads from the store on
// the next use.
func (e *Engine) evict(a *actor) {
	r := e.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	id := a.state.event.ID
	if r.actors[id] == a {
		delete(r.actors, id)
	}
	for segID, eventID := range r.segments {
		if eventID == id {
			delete(r.segments, segID)
		}
	}
	e.logger.Info("event evicted", "event_id", id)
}

// registry maps events, join codes and segments to their actors. Events
// not yet in memory are loaded from the store on first use.
type registry struct {
	mu       sync.RWMutex
	actors   map[string]*actor
	codes    map[string]string
	segments map[string]string
	closed   bool
}

func newRegistry() *registry {
	return &registry{
		actors:   make(map[string]*actor),
		codes:    make(map[string]string),
		segments: make(map[string]string),
	}
}

// actor returns the event's actor, loading the event from the store when
// load is set. Without load, a missing actor is errNotResident.
func (e *Engine) actor(ctx context.Context, eventID string, load bool) (*actor, error) {
	r := e.reg
	r.mu.RLock()
	a, ok := r.actors[eventID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return a, nil
	}
	if !load {
		return nil, errNotResident
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if r.closed {
		return nil, ErrClosed
	}
	if a, ok := r.actors[eventID]; ok {
		return a, nil
	}

	rec, err := e.store.LoadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	st := newEventState(rec)
	a = e.startLocked(st)

	// Restore question deadlines before any queued operation runs.
	a.inbox <- func() { e.rearmDeadlines(st) }

	e.logger.Info("event loaded", "event_id", eventID,
		"segments", len(st.segments), "participants", len(st.participants))
	return a, nil
}

// startLocked registers st and starts its goroutine. r.mu must be held.
func (e *Engine) startLocked(st *eventState) *actor {
	a := &actor{
		inbox:  make(chan func(), 64),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		state:  st,
	}
	e.reg.actors[st.event.ID] = a
	if st.event.Status == livequiz.EventActive {
		e.reg.codes[st.event.JoinCode] = st.event.ID
	}
	for id := range st.segments {
		e.reg.segments[id] = st.event.ID
	}
	go e.runActor(a)
	return a
}

func (e *Engine) eventIDByCode(ctx context.Context, code string) (string, error) {
	e.reg.mu.RLock()
	id, ok := e.reg.codes[code]
	e.reg.mu.RUnlock()
	if ok {
		return id, nil
	}
	return e.store.FindEventByCode(ctx, code)
}

func (e *Engine) eventIDBySegment(ctx context.Context, segmentID string) (string, error) {
	e.reg.mu.RLock()
	id, ok := e.reg.segments[segmentID]
	e.reg.mu.RUnlock()
	if ok {
		return id, nil
	}
	return e.store.FindEventBySegment(ctx, segmentID)
}

func (e *Engine) indexSegment(segmentID, eventID string) {
	e.reg.mu.Lock()
	e.reg.segments[segmentID] = eventID
	e.reg.mu.Unlock()
}

func (e *Engine) retireCode(code string) {
	e.reg.mu.Lock()
	delete(e.reg.codes, code)
	e.reg.mu.Unlock()
}

// exec runs fn on the event's goroutine and waits for its result.
func (e *Engine) exec(ctx context.Context, eventID string, fn func(st *eventState) error) error {
	return e.execOn(ctx, eventID, true, fn)
}

// execResident is exec for events already in memory. It returns
// errNotResident instead of loading the event.
func (e *Engine) execResident(ctx context.Context, eventID string, fn func(st *eventState) error) error {
	return e.execOn(ctx, eventID, false, fn)
}

func (e *Engine) execOn(ctx context.Context, eventID string, load bool, fn func(st *eventState) error) error {
	for {
		a, err := e.actor(ctx, eventID, load)
		if err != nil {
			return err
		}
		retry, err := e.send(ctx, a, eventID, fn)
		if !retry {
			return err
		}
	}
}

// send hands fn to a and waits. retry reports that a exited without
// running fn.
func (e *Engine) send(ctx context.Context, a *actor, eventID string, fn func(st *eventState) error) (retry bool, err error) {
	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("panic in event goroutine",
					"event_id", eventID, "panic", r, "stack", string(debug.Stack()))
				done <- livequiz.Faulted(fmt.Errorf("panic: %v", r))
			}
		}()
		done <- fn(a.state)
	}

	select {
	case a.inbox <- job:
	case <-a.exited:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case err := <-done:
		return false, err
	case <-a.exited:
		// fn may have been the job that retired the actor.
		select {
		case err := <-done:
			return false, err
		default:
			return true, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// viewSegment runs a read-only fn against a segment.
func (e *Engine) viewSegment(ctx context.Context, segmentID string, fn func(st *eventState, ss *segmentState) error) error {
	eventID, err := e.eventIDBySegment(ctx, segmentID)
	if err != nil {
		return err
	}
	return e.exec(ctx, eventID, func(st *eventState) error {
		ss, ok := st.segments[segmentID]
		if !ok {
			return livequiz.NotFound("segment")
		}
		return fn(st, ss)
	})
}

// mutateSegment runs fn against a segment that is not faulted. A panic or
// fault error inside fn marks the segment faulted, and later mutations
// are refused until the process reloads the event.
func (e *Engine) mutateSegment(ctx context.Context, segmentID string, fn func(st *eventState, ss *segmentState) error) error {
	return e.viewSegment(ctx, segmentID, func(st *eventState, ss *segmentState) (err error) {
		if ss.fault != nil {
			return livequiz.Faulted(ss.fault)
		}
		defer func() {
			if r := recover(); r != nil {
				ss.fault = fmt.Errorf("panic: %v", r)
				e.logger.Error("segment faulted",
					"event_id", st.event.ID, "segment_id", ss.seg.ID, "panic", r, "stack", string(debug.Stack()))
				err = livequiz.Faulted(ss.fault)
				return
			}
			if err != nil && livequiz.KindOf(err) == livequiz.KindFault {
				ss.fault = err
				ss.stopTimer()
				e.logger.Error("segment faulted", "event_id", st.event.ID, "segment_id", ss.seg.ID, "error", err)
			}
		}()
		return fn(st, ss)
	})
}
