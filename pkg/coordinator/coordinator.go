// Package coordinator implements blob-backed leader election and worker
// membership per namespace.
//
// The lease protocol trades linearizability for zero external
// dependencies: a process acquires leadership by writing the lease object
// and re-reading it, conceding when another writer landed last. Two
// processes may both believe they lead for up to roughly the lease
// timeout under clock skew, so every consumer must stamp the epoch into
// its writes and keep its side effects idempotent.
//
// State layout:
//
//	coord/<ns>/lease                {leaderId, epoch, acquiredAt, expiresAt}
//	coord/<ns>/workers/<workerId>   {workerId, lastSeen}
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/errs"
)

// Defaults per the lease protocol contract.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatJitter   = 500 * time.Millisecond
	DefaultLeaseTimeout      = 15 * time.Second
	DefaultWorkerTimeout     = 20 * time.Second
)

// Change describes a leadership transition.
type Change struct {
	Namespace      string `json:"namespace"`
	PreviousLeader string `json:"previousLeader"`
	NewLeader      string `json:"newLeader"`
	Epoch          int64  `json:"epoch"`
}

// Metrics is a point-in-time view of the service state.
type Metrics struct {
	Namespace string
	ID        string
	IsLeader  bool
	Leader    string
	Epoch     int64
	Workers   int
}

// Worker is one registered process in the namespace.
type Worker struct {
	WorkerID string    `json:"workerId"`
	LastSeen time.Time `json:"lastSeen"`
}

type lease struct {
	LeaderID   string    `json:"leaderId"`
	Epoch      int64     `json:"epoch"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Config configures one coordination service.
type Config struct {
	Store     blob.Store
	Bus       *bus.Bus
	Namespace string

	// ID identifies this process; defaults to a random UUID.
	ID string

	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration
	LeaseTimeout      time.Duration
	WorkerTimeout     time.Duration
}

// Service runs the lease protocol for one namespace. One service per
// namespace per process multiplexes leadership to any number of attached
// subscribers.
type Service struct {
	cfg Config

	mu            sync.Mutex
	running       bool
	isLeader      bool
	observed      lease // last lease read or written
	notifiedEpoch int64
	subscribers   []func(Change)

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New validates the configuration and returns a stopped service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("coordinator: store is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("coordinator: namespace is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatJitter < 0 {
		cfg.HeartbeatJitter = DefaultHeartbeatJitter
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultWorkerTimeout
	}
	if cfg.LeaseTimeout < 2*cfg.HeartbeatInterval {
		return nil, fmt.Errorf("coordinator: lease timeout %s must be at least twice the heartbeat interval %s",
			cfg.LeaseTimeout, cfg.HeartbeatInterval)
	}
	return &Service{cfg: cfg}, nil
}

// ID returns this process's coordination identity.
func (s *Service) ID() string {
	return s.cfg.ID
}

// Namespace returns the coordination namespace.
func (s *Service) Namespace() string {
	return s.cfg.Namespace
}

// Subscribe registers a leadership change callback. Callbacks run on the
// tick goroutine in epoch order; keep them fast.
func (s *Service) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// IsLeader reports whether this process held the lease at the last tick.
func (s *Service) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLeader
}

// Epoch returns the last observed leadership epoch. Consumers stamp this
// into their writes so stale-leader output can be recognized downstream.
func (s *Service) Epoch() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed.Epoch
}

// Start begins the heartbeat loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	stopCh, stoppedCh := s.stopCh, s.stoppedCh
	s.mu.Unlock()

	logger.Info("coordination service starting",
		"namespace", s.cfg.Namespace, "id", s.cfg.ID,
		"heartbeat", s.cfg.HeartbeatInterval, "leaseTimeout", s.cfg.LeaseTimeout)

	go func() {
		defer close(stoppedCh)
		for {
			if err := s.Tick(ctx); err != nil {
				logger.Warn("coordination tick failed",
					"namespace", s.cfg.Namespace, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-time.After(s.tickInterval()):
			}
		}
	}()
}

// Stop halts the loop and releases the lease when this process leads, so
// a successor can acquire without waiting out the timeout.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stoppedCh := s.stoppedCh
	s.mu.Unlock()

	<-stoppedCh

	s.mu.Lock()
	wasLeader := s.isLeader
	s.isLeader = false
	s.mu.Unlock()

	if wasLeader {
		// Expire the lease in place rather than deleting it: the epoch
		// must survive the handover so stale-leader writes stay detectable.
		s.mu.Lock()
		released := s.observed
		s.mu.Unlock()
		released.ExpiresAt = time.Now().UTC().Add(-time.Second)
		if err := s.writeLease(ctx, released); err != nil {
			logger.Warn("lease release failed", "namespace", s.cfg.Namespace, "error", err)
		}
	}
	if err := s.cfg.Store.Delete(ctx, s.workerKey(s.cfg.ID)); err != nil {
		logger.Warn("worker deregistration failed", "namespace", s.cfg.Namespace, "error", err)
	}
	logger.Info("coordination service stopped", "namespace", s.cfg.Namespace, "id", s.cfg.ID)
}

// tickInterval jitters the heartbeat so a fleet of processes does not
// stampede the lease object in lockstep.
func (s *Service) tickInterval() time.Duration {
	if s.cfg.HeartbeatJitter == 0 {
		return s.cfg.HeartbeatInterval
	}
	j := time.Duration(mrand.Int64N(int64(2*s.cfg.HeartbeatJitter))) - s.cfg.HeartbeatJitter
	return s.cfg.HeartbeatInterval + j
}

// Tick runs one protocol round: observe the lease, acquire or renew,
// heartbeat, and sweep stale workers when leading. Exported so tests and
// CLI status checks can drive the protocol deterministically.
func (s *Service) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	current, exists, err := s.readLease(ctx)
	if err != nil {
		return err
	}

	next := current
	switch {
	case !exists || now.After(current.ExpiresAt):
		acquired, l, err := s.tryAcquire(ctx, current, exists, now)
		if err != nil {
			return err
		}
		next = l
		s.setLeader(acquired, next)

	case current.LeaderID == s.cfg.ID:
		next = lease{
			LeaderID:   s.cfg.ID,
			Epoch:      current.Epoch,
			AcquiredAt: current.AcquiredAt,
			ExpiresAt:  now.Add(s.cfg.LeaseTimeout),
		}
		if err := s.writeLease(ctx, next); err != nil {
			return err
		}
		s.setLeader(true, next)

	default:
		s.setLeader(false, current)
	}

	if err := s.heartbeat(ctx, now); err != nil {
		return err
	}

	if s.IsLeader() {
		s.sweepStaleWorkers(ctx, now)
	}
	return nil
}

// tryAcquire writes a claim and re-reads it. Mutual exclusion is bounded,
// not linearizable: whoever's write landed last owns the epoch.
func (s *Service) tryAcquire(ctx context.Context, prior lease, priorExists bool, now time.Time) (bool, lease, error) {
	claim := lease{
		LeaderID:   s.cfg.ID,
		Epoch:      1,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.cfg.LeaseTimeout),
	}
	if priorExists {
		claim.Epoch = prior.Epoch + 1
	}

	if err := s.writeLease(ctx, claim); err != nil {
		return false, prior, err
	}

	verify, exists, err := s.readLease(ctx)
	if err != nil {
		return false, prior, err
	}
	if !exists || verify.LeaderID != s.cfg.ID || verify.Epoch != claim.Epoch {
		logger.Debug("lease acquisition contended, conceding",
			"namespace", s.cfg.Namespace, "winner", verify.LeaderID, "epoch", verify.Epoch)
		return false, verify, nil
	}

	logger.Info("lease acquired",
		"namespace", s.cfg.Namespace, "id", s.cfg.ID, "epoch", claim.Epoch)
	return true, claim, nil
}

// setLeader records the observation and fires change notifications in
// epoch order.
func (s *Service) setLeader(isLeader bool, observed lease) {
	s.mu.Lock()
	previous := s.observed
	s.isLeader = isLeader
	s.observed = observed

	var change *Change
	if observed.LeaderID != previous.LeaderID && observed.Epoch > s.notifiedEpoch {
		s.notifiedEpoch = observed.Epoch
		change = &Change{
			Namespace:      s.cfg.Namespace,
			PreviousLeader: previous.LeaderID,
			NewLeader:      observed.LeaderID,
			Epoch:          observed.Epoch,
		}
	}
	subscribers := append(([]func(Change))(nil), s.subscribers...)
	s.mu.Unlock()

	if change == nil {
		return
	}

	logger.Info("leadership changed",
		"namespace", change.Namespace, "previous", change.PreviousLeader,
		"new", change.NewLeader, "epoch", change.Epoch)
	for _, fn := range subscribers {
		fn(*change)
	}
	if s.cfg.Bus != nil {
		s.cfg.Bus.Emit(bus.Event{Name: bus.EventLeaderChanged, Payload: *change})
	}
}

// Workers lists the namespace's registered workers, marking none as
// stale; the caller applies its own timeout policy.
func (s *Service) Workers(ctx context.Context) ([]Worker, error) {
	keys, err := blob.ListAll(ctx, s.cfg.Store, s.workersPrefix())
	if err != nil {
		return nil, err
	}

	workers := make([]Worker, 0, len(keys))
	for _, key := range keys {
		obj, err := s.cfg.Store.Get(ctx, key)
		if err != nil {
			if errs.KindOf(err) == errs.KindNoSuchKey {
				continue // swept between LIST and GET
			}
			return nil, err
		}
		var w Worker
		if err := json.Unmarshal(obj.Body, &w); err != nil {
			logger.Warn("unparseable worker heartbeat, skipping", "key", key, "error", err)
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ActiveWorkers filters Workers by the worker timeout.
func (s *Service) ActiveWorkers(ctx context.Context) ([]Worker, error) {
	workers, err := s.Workers(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-s.cfg.WorkerTimeout)
	active := workers[:0]
	for _, w := range workers {
		if w.LastSeen.After(cutoff) {
			active = append(active, w)
		}
	}
	return active, nil
}

// Metrics returns the current service view.
func (s *Service) Metrics(ctx context.Context) Metrics {
	s.mu.Lock()
	m := Metrics{
		Namespace: s.cfg.Namespace,
		ID:        s.cfg.ID,
		IsLeader:  s.isLeader,
		Leader:    s.observed.LeaderID,
		Epoch:     s.observed.Epoch,
	}
	s.mu.Unlock()

	if workers, err := s.ActiveWorkers(ctx); err == nil {
		m.Workers = len(workers)
	}
	return m
}

// Observed is a read-only view of a namespace, taken without joining it.
type Observed struct {
	Namespace  string    `json:"namespace"`
	Leader     string    `json:"leader,omitempty"`
	Epoch      int64     `json:"epoch"`
	AcquiredAt time.Time `json:"acquiredAt,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	Expired    bool      `json:"expired"`
	Workers    []Worker  `json:"workers"`
}

// Observe inspects the namespace without heartbeating or contending for
// the lease. Safe on a stopped service.
func (s *Service) Observe(ctx context.Context) (Observed, error) {
	obs := Observed{Namespace: s.cfg.Namespace}

	l, ok, err := s.readLease(ctx)
	if err != nil {
		return obs, err
	}
	if ok {
		obs.Leader = l.LeaderID
		obs.Epoch = l.Epoch
		obs.AcquiredAt = l.AcquiredAt
		obs.ExpiresAt = l.ExpiresAt
		obs.Expired = time.Now().UTC().After(l.ExpiresAt)
	}

	workers, err := s.ActiveWorkers(ctx)
	if err != nil {
		return obs, err
	}
	obs.Workers = workers
	return obs, nil
}

// ----------------------------------------------------------------------------
// Blob state
// ----------------------------------------------------------------------------

func (s *Service) leaseKey() string {
	return "coord/" + s.cfg.Namespace + "/lease"
}

func (s *Service) workersPrefix() string {
	return "coord/" + s.cfg.Namespace + "/workers/"
}

func (s *Service) workerKey(id string) string {
	return s.workersPrefix() + id
}

func (s *Service) readLease(ctx context.Context) (lease, bool, error) {
	obj, err := s.cfg.Store.Get(ctx, s.leaseKey())
	if err != nil {
		if errs.KindOf(err) == errs.KindNoSuchKey {
			return lease{}, false, nil
		}
		return lease{}, false, fmt.Errorf("read lease: %w", err)
	}
	var l lease
	if err := json.Unmarshal(obj.Body, &l); err != nil {
		// A corrupt lease is treated as absent so the namespace can
		// recover by re-acquisition.
		logger.Warn("corrupt lease object, treating as absent",
			"namespace", s.cfg.Namespace, "error", err)
		return lease{}, false, nil
	}
	return l, true, nil
}

func (s *Service) writeLease(ctx context.Context, l lease) error {
	body, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return s.cfg.Store.Put(ctx, blob.PutInput{
		Key:         s.leaseKey(),
		Body:        body,
		ContentType: "application/json",
	})
}

func (s *Service) heartbeat(ctx context.Context, now time.Time) error {
	body, err := json.Marshal(Worker{WorkerID: s.cfg.ID, LastSeen: now})
	if err != nil {
		return err
	}
	return s.cfg.Store.Put(ctx, blob.PutInput{
		Key:         s.workerKey(s.cfg.ID),
		Body:        body,
		ContentType: "application/json",
	})
}

// sweepStaleWorkers removes heartbeat objects older than the worker
// timeout. Best effort; failures surface next tick.
func (s *Service) sweepStaleWorkers(ctx context.Context, now time.Time) {
	workers, err := s.Workers(ctx)
	if err != nil {
		logger.Warn("worker sweep listing failed", "namespace", s.cfg.Namespace, "error", err)
		return
	}
	cutoff := now.Add(-s.cfg.WorkerTimeout)
	for _, w := range workers {
		if w.LastSeen.After(cutoff) {
			continue
		}
		if err := s.cfg.Store.Delete(ctx, s.workerKey(w.WorkerID)); err != nil {
			logger.Warn("stale worker sweep failed",
				"namespace", s.cfg.Namespace, "worker", w.WorkerID, "error", err)
			continue
		}
		logger.Info("swept stale worker",
			"namespace", s.cfg.Namespace, "worker", w.WorkerID, "lastSeen", w.LastSeen)
	}
}
