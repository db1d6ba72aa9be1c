package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// LocalActorSystem - 本地 Actor 系统
// =============================================================================

// SystemConfig configures a local actor system.
type SystemConfig struct {
	Name             string
	ServiceID        string
	Workers          int
	ThroughputPerRun int
	MailboxCapacity  int // 0 = unbounded
	Factory          actor.Factory
	Strategy         *actor.Strategy
	Logger           log.Logger
	Events           *actor.EventBus
	DeadLetters      *actor.DeadLetterSink

	// OnEscalate handles failures escalated past an actor's strategy.
	// Returning false (or leaving it nil) stops the actor.
	OnEscalate func(actorID string, cause error) bool
}

// SpawnOptions tunes one spawn beyond the system defaults.
type SpawnOptions struct {
	// Group names a sibling set for AllForOne supervision.
	Group string
	// Strategy overrides the system default for this actor.
	Strategy *actor.Strategy
}

// LocalSystem owns the actors of one process: spawn, stop, lookup, restart,
// health. Actor instances are only ever touched from dispatcher run tasks,
// so user code needs no locks.
type LocalSystem struct {
	name      string
	serviceID string

	mu      sync.RWMutex
	entries map[string]*actorEntry
	stopped bool

	dispatcher  *Dispatcher
	factory     actor.Factory
	strategy    *actor.Strategy
	logger      log.Logger
	events      *actor.EventBus
	deadLetters *actor.DeadLetterSink
	onEscalate  func(string, error) bool

	pushMu      sync.RWMutex
	pushSenders map[string]actor.PushSender

	rootCtx context.Context
	cancel  context.CancelFunc

	mailboxCap int
}

var _ actor.System = (*LocalSystem)(nil)

// NewLocalSystem creates a local actor system.
func NewLocalSystem(cfg SystemConfig) *LocalSystem {
	if cfg.Name == "" {
		cfg.Name = "ruche"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Strategy == nil {
		cfg.Strategy = actor.DefaultStrategy()
	}
	if cfg.Events == nil {
		cfg.Events = actor.NewEventBus()
	}
	if cfg.DeadLetters == nil {
		cfg.DeadLetters = actor.NewDeadLetterSink(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalSystem{
		name:        cfg.Name,
		serviceID:   cfg.ServiceID,
		entries:     make(map[string]*actorEntry),
		dispatcher:  NewDispatcher(cfg.Workers, cfg.ThroughputPerRun),
		factory:     cfg.Factory,
		strategy:    cfg.Strategy,
		logger:      cfg.Logger.With(log.String("system", cfg.Name)),
		events:      cfg.Events,
		deadLetters: cfg.DeadLetters,
		onEscalate:  cfg.OnEscalate,
		pushSenders: make(map[string]actor.PushSender),
		rootCtx:     ctx,
		cancel:      cancel,
		mailboxCap:  cfg.MailboxCapacity,
	}
}

// Events returns the system's lifecycle event bus.
func (s *LocalSystem) Events() *actor.EventBus {
	return s.events
}

// DeadLetters returns the system's dead-letter sink.
func (s *LocalSystem) DeadLetters() *actor.DeadLetterSink {
	return s.deadLetters
}

// =============================================================================
// Actor Entry
// =============================================================================

type actorEntry struct {
	id        string
	actorType string
	group     string
	params    map[string]any

	mu            sync.Mutex
	state         actor.State
	instance      actor.Actor
	strategy      *actor.Strategy
	restarts      []time.Time
	lastMessageAt time.Time
	lastErr       error
	watchers      map[actor.Watcher]struct{}
	restartCause  error
	wantRestart   bool
	wantStop      bool

	mailbox *queueMailbox
	flagMu  sync.Mutex
	flagSet bool

	ref    *LocalRef
	actx   *actorContext
	system *LocalSystem
}

func (e *actorEntry) getState() actor.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *actorEntry) setState(st actor.State) {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
}

func (e *actorEntry) addWatcher(w actor.Watcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchers == nil {
		e.watchers = make(map[actor.Watcher]struct{})
	}
	e.watchers[w] = struct{}{}
}

func (e *actorEntry) removeWatcher(w actor.Watcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.watchers, w)
}

// trySchedule sets the run flag; returns true if the caller must submit a
// run task. This is the at-most-one-run-per-actor invariant.
func (e *actorEntry) trySchedule() bool {
	e.flagMu.Lock()
	defer e.flagMu.Unlock()
	if e.flagSet {
		return false
	}
	e.flagSet = true
	return true
}

func (e *actorEntry) clearScheduled() {
	e.flagMu.Lock()
	e.flagSet = false
	e.flagMu.Unlock()
}

func (e *actorEntry) requestStop() {
	e.mu.Lock()
	e.wantStop = true
	e.mu.Unlock()
}

func (e *actorEntry) requestRestart(cause error) {
	e.mu.Lock()
	e.wantRestart = true
	e.restartCause = cause
	e.mu.Unlock()
}

func (e *actorEntry) takeRestart() (error, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.wantRestart {
		return nil, false
	}
	e.wantRestart = false
	cause := e.restartCause
	e.restartCause = nil
	return cause, true
}

func (e *actorEntry) stopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wantStop
}

func (e *actorEntry) restartPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wantRestart
}

// allowRestart consumes one slot of the restart budget.
func (e *actorEntry) allowRestart(strat *actor.Strategy) bool {
	if strat.MaxRetries <= 0 || strat.TimeRange <= 0 {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-strat.TimeRange)

	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.restarts[:0]
	for _, t := range e.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.restarts = kept
	if len(e.restarts) >= strat.MaxRetries {
		return false
	}
	e.restarts = append(e.restarts, now)
	return true
}

// =============================================================================
// Spawn / Lookup
// =============================================================================

// Spawn instantiates an actor of the given type via the factory. An empty
// id means the system allocates a UUID.
func (s *LocalSystem) Spawn(actorType, id string, params map[string]any) (actor.ActorRef, error) {
	return s.SpawnWithOptions(actorType, id, params, SpawnOptions{})
}

// SpawnWithOptions spawns with a sibling group or strategy override.
func (s *LocalSystem) SpawnWithOptions(actorType, id string, params map[string]any, opts SpawnOptions) (actor.ActorRef, error) {
	if s.factory == nil || !s.factory.Supports(actorType) {
		return nil, fmt.Errorf("%w: %s", actor.ErrUnknownActorType, actorType)
	}

	if id == "" {
		id = uuid.New().String()
	}

	// Reject taken ids before the constructor runs; constructors may carry
	// side effects that a doomed spawn must not trigger.
	s.mu.RLock()
	_, exists := s.entries[id]
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return nil, actor.ErrSystemStopped
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", actor.ErrActorExists, id)
	}

	instance, err := s.factory.Create(actorType, params)
	if err != nil {
		return nil, fmt.Errorf("factory failed for %s: %w", actorType, err)
	}

	strategy := opts.Strategy
	if strategy == nil {
		strategy = s.strategy
	}

	e := &actorEntry{
		id:        id,
		actorType: actorType,
		group:     opts.Group,
		params:    params,
		state:     actor.StateCreated,
		instance:  instance,
		strategy:  strategy,
		mailbox:   NewMailbox(s.mailboxCap).(*queueMailbox),
		system:    s,
	}
	e.ref = &LocalRef{entry: e, system: s}
	e.actx = newActorContext(s.rootCtx, e, s)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, actor.ErrSystemStopped
	}
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", actor.ErrActorExists, id)
	}
	s.entries[id] = e
	s.mu.Unlock()

	actor.ActorsGauge.Inc()

	// PreStart runs on the dispatcher, serialized with everything else.
	s.signal(e)
	return e.ref, nil
}

// Get returns the ref for a local actor.
func (s *LocalSystem) Get(id string) (actor.ActorRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.ref, true
}

// Has reports whether the actor exists locally.
func (s *LocalSystem) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// ActorIDs lists all local actor ids.
func (s *LocalSystem) ActorIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live actors.
func (s *LocalSystem) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// =============================================================================
// Stop / Restart / Health
// =============================================================================

// Stop requests a cooperative stop: the in-flight Receive finishes, the
// remaining envelopes go to the dead-letter sink, PostStop runs.
func (s *LocalSystem) Stop(id string) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", actor.ErrActorNotFound, id)
	}

	e.requestStop()
	s.signal(e)
	return nil
}

// Restart performs a dispatcher-serialized restart.
func (s *LocalSystem) Restart(id string, cause error) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", actor.ErrActorNotFound, id)
	}

	e.requestRestart(cause)
	s.signal(e)
	return nil
}

// Health returns a snapshot of one actor.
func (s *LocalSystem) Health(id string) (*actor.HealthSnapshot, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", actor.ErrActorNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := &actor.HealthSnapshot{
		ActorID:       id,
		State:         e.state,
		LastMessageAt: e.lastMessageAt,
		QueueSize:     e.mailbox.Size(),
	}
	if e.lastErr != nil {
		snap.Error = e.lastErr.Error()
	}
	return snap, nil
}

// Shutdown stops all actors concurrently and waits until every actor
// reaches STOPPED or the timeout elapses.
func (s *LocalSystem) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.stopped = true
	entries := make([]*actorEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.requestStop()
		s.signal(e)
	}

	deadline := time.Now().Add(timeout)
	for {
		s.mu.RLock()
		remaining := len(s.entries)
		s.mu.RUnlock()
		if remaining == 0 {
			break
		}
		if timeout > 0 && time.Now().After(deadline) {
			s.cancel()
			s.dispatcher.Shutdown()
			return fmt.Errorf("shutdown timed out with %d actors remaining", remaining)
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.cancel()
	s.dispatcher.Shutdown()
	return nil
}

// =============================================================================
// Push Senders
// =============================================================================

// RegisterPushSender binds an outbound push channel to an actor id.
func (s *LocalSystem) RegisterPushSender(actorID string, ps actor.PushSender) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	s.pushSenders[actorID] = ps
}

// UnregisterPushSender removes a previously bound push channel.
func (s *LocalSystem) UnregisterPushSender(actorID string) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	delete(s.pushSenders, actorID)
}

// PushSenderFor resolves the push channel bound to the actor id.
func (s *LocalSystem) PushSenderFor(actorID string) (actor.PushSender, bool) {
	s.pushMu.RLock()
	defer s.pushMu.RUnlock()
	ps, ok := s.pushSenders[actorID]
	return ps, ok
}

// =============================================================================
// Dispatch Loop
// =============================================================================

// signal schedules a run task for the entry unless one is already pending.
func (s *LocalSystem) signal(e *actorEntry) {
	if e.trySchedule() {
		s.dispatcher.Execute(func() { s.run(e) })
	}
}

// run is the per-actor run task: start the actor if needed, then process up
// to ThroughputPerRun envelopes, then yield the worker.
func (s *LocalSystem) run(e *actorEntry) {
	if st := e.getState(); st == actor.StateCreated {
		if !s.start(e) {
			e.clearScheduled()
			return
		}
	}

	for processed := 0; processed < s.dispatcher.Throughput(); processed++ {
		if e.stopRequested() {
			s.terminate(e, actor.DeadLetterDrained)
			return
		}
		if cause, ok := e.takeRestart(); ok {
			if !s.performRestart(e, cause) {
				return
			}
			continue
		}

		st := e.getState()
		if st.IsTerminal() {
			return
		}
		if st != actor.StateRunning {
			break
		}

		d, ok := e.mailbox.Dequeue()
		if !ok {
			break
		}
		actor.MailboxDequeuedTotal.Inc()

		e.mu.Lock()
		e.lastMessageAt = time.Now()
		instance := e.instance
		e.mu.Unlock()

		e.actx.beginDelivery(d)
		err := safeCall(func() error { return instance.Receive(e.actx, d.Envelope) })
		e.actx.endDelivery()

		if err != nil {
			s.handleFailure(e, d.Envelope, err)
			if e.getState().IsTerminal() {
				return
			}
		}
	}

	// Yield: clear the flag, then re-check so a concurrent enqueue that
	// lost the flag race still gets a run scheduled.
	e.clearScheduled()
	if !e.mailbox.IsEmpty() || e.stopRequested() || e.restartPending() {
		s.signal(e)
	}
}

// start transitions CREATED → STARTING → RUNNING through PreStart.
// Returns false when the actor did not reach RUNNING.
func (s *LocalSystem) start(e *actorEntry) bool {
	e.setState(actor.StateStarting)

	e.mu.Lock()
	instance := e.instance
	e.mu.Unlock()

	if err := safeCall(func() error { return instance.PreStart(e.actx) }); err != nil {
		s.logger.Error("actor failed to start",
			log.String("actor_id", e.id), log.Err(err))
		s.handleFailure(e, nil, err)
		return e.getState() == actor.StateRunning
	}

	e.setState(actor.StateRunning)
	s.events.Publish(actor.NewEvent(actor.EventActorStarted).WithActor(e.id).WithService(s.serviceID))
	return true
}

// terminate drains the mailbox to the dead-letter sink, runs PostStop,
// notifies watchers and removes the actor from the system.
func (s *LocalSystem) terminate(e *actorEntry, reason string) {
	e.mu.Lock()
	if e.state == actor.StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = actor.StateStopping
	instance := e.instance
	e.mu.Unlock()

	for _, d := range e.mailbox.Clear() {
		s.deadLetters.Receive(e.id, reason, d.Envelope)
	}

	if err := safeCall(func() error { return instance.PostStop(e.actx) }); err != nil {
		s.logger.Warn("PostStop failed",
			log.String("actor_id", e.id), log.Err(err))
	}

	e.mu.Lock()
	e.state = actor.StateStopped
	watchers := make([]actor.Watcher, 0, len(e.watchers))
	for w := range e.watchers {
		watchers = append(watchers, w)
	}
	e.mu.Unlock()

	for _, w := range watchers {
		w.Terminated(e.id)
	}

	s.mu.Lock()
	delete(s.entries, e.id)
	s.mu.Unlock()
	actor.ActorsGauge.Dec()

	s.events.Publish(actor.NewEvent(actor.EventActorStopped).WithActor(e.id).WithService(s.serviceID))
}

// =============================================================================
// Supervision
// =============================================================================

// handleFailure resolves an uncaught error from Receive (or PreStart)
// through the actor's supervision strategy.
func (s *LocalSystem) handleFailure(e *actorEntry, env *actor.Envelope, cause error) {
	actor.ActorFailuresTotal.Inc()

	e.mu.Lock()
	e.state = actor.StateFailed
	e.lastErr = cause
	strat := e.strategy
	e.mu.Unlock()

	s.logger.Error("actor failed",
		log.String("actor_id", e.id),
		log.String("actor_type", e.actorType),
		log.Err(cause),
	)
	s.events.Publish(actor.NewEvent(actor.EventActorFailed).
		WithActor(e.id).WithService(s.serviceID).WithReason(cause.Error()))

	directive := strat.Decide(cause)
	targets := []*actorEntry{e}
	if strat.Scope == actor.ScopeAllForOne && e.group != "" {
		targets = s.groupMembers(e.group)
	}

	switch directive {
	case actor.DirectiveResume:
		e.setState(actor.StateRunning)

	case actor.DirectiveRestart:
		if !e.allowRestart(strat) {
			s.escalate(e, cause, targets)
			return
		}
		for _, t := range targets {
			if t == e {
				s.performRestart(e, cause)
			} else {
				t.requestRestart(cause)
				s.signal(t)
			}
		}

	case actor.DirectiveStop:
		for _, t := range targets {
			if t == e {
				s.terminate(e, actor.DeadLetterDrained)
			} else {
				t.requestStop()
				s.signal(t)
			}
		}

	case actor.DirectiveEscalate:
		s.escalate(e, cause, targets)
	}

	_ = env // the failing envelope is never redelivered
}

// escalate hands the failure to the service-level handler; unhandled
// escalations stop the targets.
func (s *LocalSystem) escalate(e *actorEntry, cause error, targets []*actorEntry) {
	if s.onEscalate != nil && s.onEscalate(e.id, cause) {
		e.setState(actor.StateRunning)
		return
	}
	for _, t := range targets {
		if t == e {
			s.terminate(e, actor.DeadLetterDrained)
		} else {
			t.requestStop()
			s.signal(t)
		}
	}
}

// performRestart replaces the actor instance, preserving the mailbox.
// Returns false when the actor ended up terminal instead.
func (s *LocalSystem) performRestart(e *actorEntry, cause error) bool {
	e.setState(actor.StateRestarting)

	e.mu.Lock()
	old := e.instance
	e.mu.Unlock()

	// PreRestart defaults to PostStop.
	preRestart := func() error {
		if r, ok := old.(actor.Restartable); ok {
			return r.PreRestart(e.actx, cause, nil)
		}
		return old.PostStop(e.actx)
	}
	if err := safeCall(preRestart); err != nil {
		s.logger.Warn("PreRestart failed",
			log.String("actor_id", e.id), log.Err(err))
	}

	fresh, err := s.factory.Create(e.actorType, e.params)
	if err != nil {
		s.logger.Error("factory failed during restart",
			log.String("actor_id", e.id), log.Err(err))
		s.terminate(e, actor.DeadLetterDrained)
		return false
	}

	e.mu.Lock()
	e.instance = fresh
	e.mu.Unlock()

	// PostRestart defaults to PreStart.
	postRestart := func() error {
		if r, ok := fresh.(actor.Restartable); ok {
			return r.PostRestart(e.actx, cause)
		}
		return fresh.PreStart(e.actx)
	}
	if err := safeCall(postRestart); err != nil {
		s.handleFailure(e, nil, err)
		return e.getState() == actor.StateRunning
	}

	e.setState(actor.StateRunning)
	actor.ActorRestartsTotal.Inc()
	ev := actor.NewEvent(actor.EventActorRestarted).WithActor(e.id).WithService(s.serviceID)
	if cause != nil {
		ev = ev.WithReason(cause.Error())
	}
	s.events.Publish(ev)
	return true
}

// groupMembers returns all live entries of a sibling group.
func (s *LocalSystem) groupMembers(group string) []*actorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]*actorEntry, 0)
	for _, e := range s.entries {
		if e.group == group {
			members = append(members, e)
		}
	}
	return members
}

// safeCall invokes fn, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
