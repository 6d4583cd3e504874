package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"choreboard/internal/eventbus"
	logx "choreboard/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled     bool
	Timezone    string // IANA TZ, e.g. "Europe/Berlin"; empty means local
	Workers     int    // job workers (default 2)
	HistorySize int    // retained run records (default 50)
	JobTimeout  time.Duration
}

// Job is a schedulable unit of work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // normalized cron spec (intervals become "@every ...")
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running bool
}

type runReq struct {
	def *scheduleDef
}

// RunRecord is one completed (or skipped) job run.
type RunRecord struct {
	Name    string
	Start   time.Time
	Took    time.Duration
	OK      bool
	Skipped bool
	Error   string
}

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	queue chan runReq
	enqWG sync.WaitGroup
	wg    sync.WaitGroup

	histMu sync.Mutex
	hist   []RunRecord
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the service configuration at runtime. Registered schedules pick
// up the new job timeout on their next trigger; a timezone change while
// running restarts cron in the new location. Worker count and queue size only
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	for _, d := range s.defs {
		d.timeout = cfg.JobTimeout
	}
	if s.c != nil && oldTZ != newTZ {
		s.restartLocked()
	}
}

// restartLocked rebuilds cron in the configured timezone and re-registers
// every definition. The previous cron instance drains in the background.
func (s *Service) restartLocked() {
	old := s.c
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		d.entryID = 0
		if err := s.addLocked(d); err != nil {
			s.log.Error("schedule re-register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	if old != nil {
		go func() { <-old.Stop().Done() }()
	}
	s.log.Info("cron restarted", logx.String("tz", loc.String()))
}

// Register parses schedule and upserts a named job. Registering the same name
// again replaces the previous schedule, so hot-reloads don't accumulate
// duplicates.
func (s *Service) Register(name, schedule string, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = fmt.Sprintf("@every %s", ps.Every.String())
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: s.cfg.JobTimeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addLocked(d); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove drops a named schedule. Removing an unknown name is a no-op.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	s.removeLocked(name)
	s.mu.Unlock()
}

func (s *Service) removeLocked(name string) {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return
	}
}

func (s *Service) addLocked(d *scheduleDef) error {
	def := d
	id, err := s.c.AddFunc(d.spec, func() { s.enqueue(def) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	s.queue = make(chan runReq, 16)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(s.queue)
	}

	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	return loc
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	q := s.queue
	s.c = nil
	s.queue = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if q != nil {
		// Wait for in-flight enqueues before closing so a trigger caught
		// between capturing the queue and sending can't hit a closed channel.
		s.enqWG.Wait()
		close(q)
	}
	s.wg.Wait()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// enqueue hands a triggered schedule to the worker pool. A schedule already
// running or queued is skipped rather than stacked.
func (s *Service) enqueue(d *scheduleDef) {
	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return
	}
	if d.running {
		s.mu.Unlock()
		s.record(RunRecord{Name: d.name, Start: time.Now(), Skipped: true})
		s.log.Debug("run skipped, previous still in flight", logx.String("name", d.name))
		return
	}
	d.running = true
	s.enqWG.Add(1)
	s.mu.Unlock()
	defer s.enqWG.Done()

	select {
	case q <- runReq{def: d}:
	default:
		s.mu.Lock()
		d.running = false
		s.mu.Unlock()
		s.record(RunRecord{Name: d.name, Start: time.Now(), Skipped: true})
		s.log.Warn("run dropped, queue full", logx.String("name", d.name))
	}
}

func (s *Service) worker(q <-chan runReq) {
	defer s.wg.Done()
	for req := range q {
		s.runOne(req)
	}
}

func (s *Service) runOne(req runReq) {
	d := req.def
	defer func() {
		s.mu.Lock()
		d.running = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d.job(ctx)
	}()
	took := time.Since(start)

	rec := RunRecord{Name: d.name, Start: start, Took: took, OK: err == nil}
	if err != nil {
		rec.Error = err.Error()
		s.log.Error("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("job finished", logx.String("name", d.name), logx.Duration("took", took))
	}
	s.record(rec)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: "scheduler.run",
			Time: start,
			Data: map[string]any{"name": d.name, "ok": err == nil, "took_ms": took.Milliseconds()},
		})
	}
}

func (s *Service) record(r RunRecord) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.histMu.Lock()
	s.hist = append(s.hist, r)
	if len(s.hist) > max {
		s.hist = s.hist[len(s.hist)-max:]
	}
	s.histMu.Unlock()
}

// History returns recent run records, newest first.
func (s *Service) History() []RunRecord {
	s.histMu.Lock()
	out := make([]RunRecord, len(s.hist))
	copy(out, s.hist)
	s.histMu.Unlock()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Schedules returns the registered schedules with next/prev fire times when
// the service is running.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
