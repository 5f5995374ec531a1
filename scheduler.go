package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/session"
)

// ErrWorkerExists is returned by Start when the session already has a worker.
var ErrWorkerExists = errors.New("turn worker already running for session")

// TurnFunc generates and speaks the reply to one admitted transcript.
type TurnFunc func(ctx context.Context, sess *session.Session, text string) error

// TurnScheduler runs one sequential turn worker per session. Producers call
// Submit; the admission policy on the session decides whether a transcript
// is queued, so at most one turn per session is ever in flight.
type TurnScheduler struct {
	mu      sync.Mutex
	workers map[string]*turnWorker

	turnTimeout   time.Duration
	shutdownGrace time.Duration
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

// NewTurnScheduler creates a scheduler. A zero turnTimeout leaves turns unbounded.
func NewTurnScheduler(turnTimeout, shutdownGrace time.Duration, m *metrics.Metrics, logger zerolog.Logger) *TurnScheduler {
	return &TurnScheduler{
		workers:       make(map[string]*turnWorker),
		turnTimeout:   turnTimeout,
		shutdownGrace: shutdownGrace,
		metrics:       m,
		log:           logger,
	}
}

type turnItem struct {
	text string
	stop bool
}

type turnWorker struct {
	sess    *session.Session
	process TurnFunc

	mu     sync.Mutex
	queue  []turnItem
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *turnWorker) enqueue(item turnItem) {
	w.mu.Lock()
	w.queue = append(w.queue, item)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// next blocks until an item is queued. It returns false once the worker
// context is cancelled.
func (w *turnWorker) next() (turnItem, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			item := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return item, true
		}
		w.mu.Unlock()

		select {
		case <-w.notify:
		case <-w.ctx.Done():
			return turnItem{}, false
		}
	}
}

// Start launches the worker for sess.
func (s *TurnScheduler) Start(sess *session.Session, process TurnFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[sess.ID]; ok {
		return ErrWorkerExists
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &turnWorker{
		sess:    sess,
		process: process,
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.workers[sess.ID] = w

	go s.run(w)
	return nil
}

// Submit offers a completed transcript for processing. It returns true if
// the turn was queued. Blank transcripts, turns arriving while another is in
// flight and exact repeats of the last accepted transcript are dropped.
func (s *TurnScheduler) Submit(sessionID, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	w, ok := s.workers[sessionID]
	s.mu.Unlock()
	if !ok {
		s.metrics.RecordTurnDropped(metrics.DropNoWorker)
		return false
	}

	switch adm := w.sess.Admit(session.Normalize(text)); adm {
	case session.Admitted:
	case session.RejectedInFlight:
		s.metrics.RecordTurnDropped(metrics.DropInFlight)
		s.log.Debug().Str("sessionId", sessionID).Str("text", text).Msg("Dropping turn, reply in flight")
		return false
	default:
		s.metrics.RecordTurnDropped(metrics.DropDuplicate)
		s.log.Debug().Str("sessionId", sessionID).Str("text", text).Msg("Dropping duplicate turn")
		return false
	}

	w.enqueue(turnItem{text: text})
	s.metrics.TurnsSubmitted.Inc()
	return true
}

// Shutdown stops the session's worker. Queued turns are drained first; if
// that takes longer than the shutdown grace, or ctx ends, the running turn is
// cancelled. Shutdown returns once the worker has exited, or after a further
// grace period if the turn ignores cancellation. An abandoned worker exits in
// the background when its turn finally returns.
func (s *TurnScheduler) Shutdown(ctx context.Context, sessionID string) {
	s.mu.Lock()
	w, ok := s.workers[sessionID]
	delete(s.workers, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	w.enqueue(turnItem{stop: true})

	var grace <-chan time.Time
	if s.shutdownGrace > 0 {
		t := time.NewTimer(s.shutdownGrace)
		defer t.Stop()
		grace = t.C
	}

	select {
	case <-w.done:
		w.cancel()
		return
	case <-grace:
		s.log.Warn().Str("sessionId", sessionID).Msg("Turn worker did not drain in time, cancelling")
	case <-ctx.Done():
	}
	w.cancel()

	if s.shutdownGrace <= 0 {
		<-w.done
		return
	}
	abandon := time.NewTimer(s.shutdownGrace)
	defer abandon.Stop()
	select {
	case <-w.done:
	case <-abandon.C:
		s.metrics.RecordWorkerAbandoned()
		s.log.Error().Str("sessionId", sessionID).Msg("Turn ignored cancellation, abandoning worker")
	}
}

// Close shuts down every worker.
func (s *TurnScheduler) Close(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown(ctx, id)
		}()
	}
	wg.Wait()
}

// Len returns the number of running workers.
func (s *TurnScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *TurnScheduler) run(w *turnWorker) {
	defer close(w.done)

	for {
		item, ok := w.next()
		if !ok || item.stop {
			return
		}
		s.runTurn(w, item.text)
	}
}

// runTurn processes one turn. The in-flight flag is cleared however the
// step ends, including a panic.
func (s *TurnScheduler) runTurn(w *turnWorker, text string) {
	start := time.Now()
	logger := s.log.With().Str("sessionId", w.sess.ID).Logger()

	ctx, cancel := w.ctx, context.CancelFunc(func() {})
	if s.turnTimeout > 0 {
		ctx, cancel = context.WithTimeout(w.ctx, s.turnTimeout)
	}
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("turn panicked: %v", r)
			}
		}()
		return w.process(ctx, w.sess, text)
	}()
	w.sess.Release()

	s.metrics.RecordTurn(time.Since(start).Seconds(), err)
	switch {
	case err == nil:
		logger.Debug().Dur("took", time.Since(start)).Msg("Turn complete")
	case errors.Is(err, context.Canceled) && w.ctx.Err() != nil:
		logger.Debug().Msg("Turn cancelled by shutdown")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Dur("timeout", s.turnTimeout).Msg("Turn timed out")
	default:
		logger.Error().Err(err).Msg("Turn failed")
	}
}
