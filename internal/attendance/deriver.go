package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/metrics"
	"github.com/BioHazard786/classmesh/internal/registry"
)

const defaultBacklogWarn = 1024

// Authorizer checks that a user may mark attendance for a session.
type Authorizer interface {
	CanMark(ctx context.Context, sessionID, markerID string) error
}

type Options struct {
	Store      Store
	Authorizer Authorizer
	Directory  Directory
	Logger     *zap.Logger
	// BacklogWarn is the number of unapplied presence events at which a
	// warning is logged. Events are never dropped.
	BacklogWarn int
	Now         func() time.Time
}

type connKey struct {
	session, student string
}

// Deriver turns presence events into attendance records and applies manual
// marks on top of them. Events are applied in arrival order by Run.
type Deriver struct {
	store  Store
	auth   Authorizer
	dir    Directory
	logger *zap.Logger
	now    func() time.Time

	// pending is an unbounded FIFO, so ObservePresence never blocks a room.
	qmu         sync.Mutex
	pending     []registry.Event
	wake        chan struct{}
	backlogWarn int
	warned      bool

	// mu serializes every read-modify-write of a record.
	mu    sync.Mutex
	conns map[connKey]int
}

func New(opts Options) *Deriver {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BacklogWarn <= 0 {
		opts.BacklogWarn = defaultBacklogWarn
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Deriver{
		store:  opts.Store,
		auth:   opts.Authorizer,
		dir:    opts.Directory,
		logger: opts.Logger,
		now:    opts.Now,
		wake:        make(chan struct{}, 1),
		backlogWarn: opts.BacklogWarn,
		conns:       make(map[connKey]int),
	}
}

// ObservePresence queues a presence event for Run. It never blocks and
// never drops the event.
func (d *Deriver) ObservePresence(ev registry.Event) {
	d.qmu.Lock()
	d.pending = append(d.pending, ev)
	n := len(d.pending)
	warn := n >= d.backlogWarn && !d.warned
	if warn {
		d.warned = true
	}
	d.qmu.Unlock()
	metrics.PresenceBacklog.Set(float64(n))

	if warn {
		d.logger.Warn("presence backlog is growing",
			zap.Int("pending", n),
			zap.String("session", ev.Participant.SessionID),
		)
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// take hands every pending event to the caller in arrival order.
func (d *Deriver) take() []registry.Event {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	out := d.pending
	d.pending = nil
	d.warned = false
	metrics.PresenceBacklog.Set(0)
	return out
}

// Backlog is the number of presence events not yet applied.
func (d *Deriver) Backlog() int {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return len(d.pending)
}

// Run applies queued events until ctx is done, then drains what is left.
func (d *Deriver) Run(ctx context.Context) error {
	for {
		select {
		case <-d.wake:
			for _, ev := range d.take() {
				d.applyLogged(ctx, ev)
			}
		case <-ctx.Done():
			for _, ev := range d.take() {
				d.applyLogged(context.Background(), ev)
			}
			return ctx.Err()
		}
	}
}

func (d *Deriver) applyLogged(ctx context.Context, ev registry.Event) {
	if err := d.Apply(ctx, ev); err != nil {
		d.logger.Error("apply presence event",
			zap.String("session", ev.Participant.SessionID),
			zap.String("student", ev.Participant.UserID),
			zap.Stringer("kind", ev.Kind),
			zap.Error(err),
		)
	}
}

// Apply folds one presence event into the student's record. Teacher presence
// is ignored.
func (d *Deriver) Apply(ctx context.Context, ev registry.Event) error {
	p := ev.Participant
	if p.Role != registry.RoleStudent {
		return nil
	}
	key := connKey{p.SessionID, p.UserID}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case registry.EventJoined:
		d.conns[key]++
		if d.conns[key] > 1 {
			return nil
		}
		return d.recordJoin(ctx, p, ev.At)

	case registry.EventLeft:
		n, ok := d.conns[key]
		if !ok {
			return nil
		}
		if n > 1 {
			d.conns[key] = n - 1
			return nil
		}
		delete(d.conns, key)
		return d.recordLeave(ctx, p, ev.At)
	}
	return nil
}

func (d *Deriver) load(ctx context.Context, sessionID, studentID string) (Record, error) {
	rec, err := d.store.Get(ctx, sessionID, studentID)
	if errors.Is(err, ErrNotFound) {
		return Record{SessionID: sessionID, StudentID: studentID}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

func (d *Deriver) save(ctx context.Context, rec Record, source string) error {
	if err := d.store.Upsert(ctx, rec); err != nil {
		metrics.AttendanceWritesTotal.WithLabelValues(source, "error").Inc()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.AttendanceWritesTotal.WithLabelValues(source, "ok").Inc()
	return nil
}

func (d *Deriver) recordJoin(ctx context.Context, p registry.Participant, at time.Time) error {
	rec, err := d.load(ctx, p.SessionID, p.UserID)
	if err != nil {
		metrics.AttendanceWritesTotal.WithLabelValues("derived", "error").Inc()
		return err
	}
	if p.DisplayName != "" {
		rec.StudentName = p.DisplayName
	}
	rec.JoinedAt = timePtr(at)
	rec.LeftAt = nil

	// A manual mark made in the same tick or later keeps its verdict.
	if rec.MarkedAt == nil || at.After(*rec.MarkedAt) {
		rec.IsPresent = true
		rec.Manual = false
	}
	rec.UpdatedAt = at
	return d.save(ctx, rec, "derived")
}

func (d *Deriver) recordLeave(ctx context.Context, p registry.Participant, at time.Time) error {
	rec, err := d.store.Get(ctx, p.SessionID, p.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		metrics.AttendanceWritesTotal.WithLabelValues("derived", "error").Inc()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if rec.JoinedAt == nil || rec.LeftAt != nil {
		return nil
	}
	left := at
	if left.Before(*rec.JoinedAt) {
		left = *rec.JoinedAt
	}
	rec.LeftAt = timePtr(left)
	rec.UpdatedAt = at
	return d.save(ctx, rec, "derived")
}

// Mark records a teacher's verdict for a student. It creates the record for
// students who never connected.
func (d *Deriver) Mark(ctx context.Context, sessionID, studentID string, isPresent bool, markedBy string) error {
	if sessionID == "" || studentID == "" {
		return ErrInvalid
	}
	if err := d.authorize(ctx, sessionID, markedBy); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mark(ctx, sessionID, studentID, isPresent, markedBy)
}

func (d *Deriver) authorize(ctx context.Context, sessionID, markedBy string) error {
	if markedBy == "" {
		metrics.AttendanceWritesTotal.WithLabelValues("manual", "unauthorized").Inc()
		return ErrUnauthorized
	}
	if d.auth == nil {
		return nil
	}
	if err := d.auth.CanMark(ctx, sessionID, markedBy); err != nil {
		metrics.AttendanceWritesTotal.WithLabelValues("manual", "unauthorized").Inc()
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

func (d *Deriver) mark(ctx context.Context, sessionID, studentID string, isPresent bool, markedBy string) error {
	rec, err := d.load(ctx, sessionID, studentID)
	if err != nil {
		metrics.AttendanceWritesTotal.WithLabelValues("manual", "error").Inc()
		return err
	}
	now := d.now()
	rec.IsPresent = isPresent
	rec.Manual = true
	rec.MarkedBy = markedBy
	rec.MarkedAt = timePtr(now)
	rec.UpdatedAt = now
	if err := d.save(ctx, rec, "manual"); err != nil {
		return err
	}
	d.logger.Info("attendance marked",
		zap.String("session", sessionID),
		zap.String("student", studentID),
		zap.Bool("present", isPresent),
		zap.String("by", markedBy),
	)
	return nil
}

// MarkBatch marks every listed student and reports each outcome. Duplicate ids
// are marked once.
func (d *Deriver) MarkBatch(ctx context.Context, sessionID string, studentIDs []string, isPresent bool, markedBy string) ([]MarkResult, error) {
	if sessionID == "" {
		return nil, ErrInvalid
	}
	if err := d.authorize(ctx, sessionID, markedBy); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool, len(studentIDs))
	results := make([]MarkResult, 0, len(studentIDs))
	for _, id := range studentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		res := MarkResult{StudentID: id}
		if id == "" {
			res.Err = ErrInvalid
		} else {
			res.Err = d.mark(ctx, sessionID, id, isPresent, markedBy)
		}
		results = append(results, res)
	}
	return results, nil
}

// List returns the session's attendance records ordered by student id.
func (d *Deriver) List(ctx context.Context, sessionID string) ([]Record, error) {
	recs, err := d.store.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return recs, nil
}

// Now is the clock used for manual marks and durations.
func (d *Deriver) Now() time.Time {
	return d.now()
}
