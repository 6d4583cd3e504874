package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"choreboard/internal/eventbus"
	"choreboard/internal/storage"
	logx "choreboard/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notify disabled")
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify stopped")
)

type job struct {
	n Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sink  Sink
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqWG     sync.WaitGroup

	queue    chan job
	workerWG sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// In-memory history (for status reporting)
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sink:  sink,
		log:   log,
		bus:   bus,
		store: store,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.cancel = context.WithCancel(context.Background())

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.workerLoop(s.runCtx, s.queue)
	}
	s.log.Info("service started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	cancel := s.cancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close so workers can drain.
		s.enqWG.Wait()
		close(q)
		s.workerWG.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped")
}

func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	persist := s.cfg.PersistDedup
	st := s.store
	s.enqWG.Add(1)
	s.mu.Unlock()
	defer s.enqWG.Done()

	key := dedupKey(n)
	if dedupWindow > 0 && key != "" {
		if !s.dedupAllow(ctx, key, dedupWindow, dedupMax, persist, st) {
			s.publish("notify.deduped", n, key, "")
			return nil
		}
	}

	s.publish("notify.queued", n, key, "")
	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.publish("notify.dropped", n, key, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, n Notification, key, errText string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: Event{
		HouseholdID: n.HouseholdID,
		UserID:      n.UserID,
		Kind:        n.Kind,
		Key:         key,
		At:          now,
		Error:       errText,
	}})
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	defer s.workerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, j)
		}
	}
}

func (s *Service) deliverWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sink := s.sink
	log := s.log
	s.mu.Unlock()

	if sink == nil || j.n.Text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		// Bound per-delivery call so a stuck sink can't hang a worker.
		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := sink.Deliver(callCtx, j.n)
		cancel()
		if err == nil {
			s.appendHistory(j.n.Text)
			s.publish("notify.sent", j.n, j.dedupKey, "")
			return
		}
		lastErr = err
		log.Debug("delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.publish("notify.failed", j.n, j.dedupKey, lastErr.Error())
	}
}

func dedupKey(n Notification) string {
	if n.Kind == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.HouseholdID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(n.UserID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(n.Kind))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int, persist bool, st storage.Store) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Persistent check (best-effort) for cross-restart dedup.
	if persist && st != nil {
		qctx := ctx
		if qctx == nil {
			qctx = context.Background()
		}
		cctx, cancel := context.WithTimeout(qctx, 25*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest-expiring entries past the cap.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if persist && st != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = st.PutDedup(cctx, key, until)
		cancel()
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
