package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agentcore/internal/observability"
	"agentcore/internal/telemetry"
)

// LifecycleState is one of an actor's four states.
type LifecycleState int

const (
	Registered LifecycleState = iota
	Running
	Stopping
	Stopped
)

// Handler processes one message. It runs on the actor's single-consumer
// goroutine; it is never invoked concurrently with itself.
type Handler func(ctx context.Context, msg Message) error

// RetryConfig configures exponential backoff for failed handler
// invocations, applied before the circuit breaker or DLQ sees a failure.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// mailboxActor is one registered actor: its bounded FIFO mailbox, its
// handler, and its lifecycle state.
type mailboxActor struct {
	id      string
	mailbox chan Message
	handler Handler

	mu    sync.Mutex
	state LifecycleState

	cancel context.CancelFunc
	done   chan struct{}
}

// System is the actor runtime: a registry of mailboxActors, a
// per-recipient circuit breaker set, retry policy, and a shared dead
// letter queue. Retries run inline on the actor's consume loop; a shared
// tracked-task registry holds background work (the DLQ janitor, work
// started via Track) so that Wait can await it during shutdown rather
// than leaking it.
type System struct {
	retry   RetryConfig
	cbCfg   CircuitBreakerConfig
	dlq     *DeadLetterQueue

	mu      sync.Mutex
	actors  map[string]*mailboxActor
	circuit map[string]*circuitBreaker

	tasks sync.WaitGroup
}

func NewSystem(retry RetryConfig, cbCfg CircuitBreakerConfig, dlqMaxSize int) *System {
	return &System{
		retry:   retry.withDefaults(),
		cbCfg:   cbCfg.withDefaults(),
		dlq:     NewDeadLetterQueue(dlqMaxSize),
		actors:  make(map[string]*mailboxActor),
		circuit: make(map[string]*circuitBreaker),
	}
}

// Register creates an actor with the given id, mailbox capacity, and
// handler. The actor starts in Registered and must be started with Start.
func (s *System) Register(id string, mailboxCapacity int, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actors[id]; exists {
		return fmt.Errorf("actor: %q already registered", id)
	}
	if mailboxCapacity <= 0 {
		mailboxCapacity = 256
	}
	s.actors[id] = &mailboxActor{
		id:      id,
		mailbox: make(chan Message, mailboxCapacity),
		handler: handler,
		state:   Registered,
		done:    make(chan struct{}),
	}
	s.circuit[id] = newCircuitBreaker(s.cbCfg)
	return nil
}

// Start begins the actor's single-consumer loop. Messages are processed
// strictly in enqueue order; the handler for this actor is never invoked
// concurrently with itself because exactly one goroutine drains the
// mailbox.
func (s *System) Start(id string) error {
	s.mu.Lock()
	a, ok := s.actors[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("actor: %q not registered", id)
	}

	a.mu.Lock()
	if a.state != Registered {
		a.mu.Unlock()
		return fmt.Errorf("actor: %q not in Registered state", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.state = Running
	a.mu.Unlock()

	go s.consumeLoop(ctx, a)
	return nil
}

func (s *System) consumeLoop(ctx context.Context, a *mailboxActor) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.mailbox:
			if !ok {
				return
			}
			s.deliver(ctx, a, msg)
		}
	}
}

// deliver runs the handler with retry-and-backoff, then on exhaustion
// records a circuit-breaker failure and dead-letters the message.
func (s *System) deliver(ctx context.Context, a *mailboxActor, msg Message) {
	ctx, span := telemetry.StartSpan(ctx, "agentcore/actor", "actor.deliver", map[string]string{
		"actor_id":     a.id,
		"message_type": string(msg.Type),
		"message_id":   msg.MessageID,
	})
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retry.delay(attempt - 1)):
			}
		}
		if err := a.handler(ctx, msg); err != nil {
			lastErr = err
			if raw, merr := json.Marshal(msg.Payload); merr == nil {
				log.Warn().Str("actor_id", a.id).Int("attempt", attempt).Err(err).
					RawJSON("payload", observability.RedactJSON(raw)).Msg("actor: handler failed")
			} else {
				log.Warn().Str("actor_id", a.id).Int("attempt", attempt).Err(err).Msg("actor: handler failed")
			}
			continue
		}
		s.circuitFor(a.id).recordSuccess()
		return
	}

	if s.circuitFor(a.id).recordFailure() {
		log.Warn().Str("actor_id", a.id).Msg("actor: circuit opened")
	}
	reason := "retries exhausted"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	s.dlq.Add(msg, reason)
}

func (s *System) circuitFor(id string) *circuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuit[id]
}

// Send enqueues msg for recipientID. It fails fast with *CircuitOpenError
// if that recipient's breaker is open, without touching the mailbox.
func (s *System) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	a, ok := s.actors[msg.RecipientID]
	cb := s.circuit[msg.RecipientID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("actor: %q not registered", msg.RecipientID)
	}
	if cb != nil && !cb.allow() {
		return &CircuitOpenError{RecipientID: msg.RecipientID}
	}

	select {
	case a.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast sends msg (with RecipientID overwritten per target) to every
// registered actor except the sender, best-effort: a circuit-open or full
// mailbox on one recipient does not block delivery to the others.
func (s *System) Broadcast(ctx context.Context, msg Message) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		if id != msg.SenderID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		m := msg
		m.RecipientID = id
		wg.Add(1)
		go func(id string, m Message) {
			defer wg.Done()
			if err := s.Send(ctx, m); err != nil {
				log.Debug().Str("recipient_id", id).Err(err).Msg("actor: broadcast delivery skipped")
			}
		}(id, m)
	}
	wg.Wait()
}

// Stop transitions an actor through Stopping to Stopped: it cancels the
// consume loop and waits up to timeout for it to exit. Messages still
// queued in the mailbox are not processed, and a handler that is running
// sees its context canceled.
func (s *System) Stop(id string, timeout time.Duration) error {
	s.mu.Lock()
	a, ok := s.actors[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("actor: %q not registered", id)
	}

	a.mu.Lock()
	if a.state != Running {
		a.mu.Unlock()
		return nil
	}
	a.state = Stopping
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	select {
	case <-a.done:
	case <-time.After(timeout):
	}

	a.mu.Lock()
	a.state = Stopped
	a.mu.Unlock()
	return nil
}

// DeadLetterQueue exposes the shared DLQ for janitor/inspection use.
func (s *System) DeadLetterQueue() *DeadLetterQueue { return s.dlq }

// State returns an actor's current lifecycle state.
func (s *System) State(id string) (LifecycleState, error) {
	s.mu.Lock()
	a, ok := s.actors[id]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("actor: %q not registered", id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, nil
}

// RunJanitor trims the DLQ on the given interval until ctx is canceled,
// tracked in the system's task registry so Wait can block on its exit
// during shutdown rather than leaking the goroutine.
func (s *System) RunJanitor(ctx context.Context, interval time.Duration) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.dlq.Trim(); n > 0 {
					log.Info().Int("trimmed", n).Msg("actor: dlq janitor trimmed entries")
				}
			}
		}
	}()
}

// Wait blocks until all tracked background tasks (janitors, fire-and-
// forget work registered via Track) have exited. Call after canceling
// their contexts during shutdown.
func (s *System) Wait() { s.tasks.Wait() }

// Track registers fn as a tracked background task, ensuring Wait blocks
// on its completion. Used for fire-and-forget work that must not race a
// handler rebind or be silently dropped on shutdown.
func (s *System) Track(fn func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}
