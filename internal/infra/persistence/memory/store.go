// Package memory provides the in-memory durable store. The SQL drivers wrap
// it: state is hydrated from the database at startup and every mutation is
// journaled to the database before it is applied here.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquawatch/pkg/domain"
)

var _ domain.DurableStore = (*Store)(nil)

// HistoryRecord is one persisted reading with its server assigned sequence.
type HistoryRecord struct {
	UserID     string         `json:"user_id"`
	TankID     string         `json:"tank_id"`
	Seq        int64          `json:"seq"`
	Reading    domain.Reading `json:"reading"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// TankRecord is one persisted tank.
type TankRecord struct {
	UserID    string             `json:"user_id"`
	Tank      domain.TankProfile `json:"tank"`
	CreatedAt time.Time          `json:"created_at"`
}

// ProfileRecord is the persisted threshold profile of one user.
type ProfileRecord struct {
	UserID    string                  `json:"user_id"`
	Profile   domain.ThresholdProfile `json:"profile"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Snapshot is the full store state used for hydration and export.
type Snapshot struct {
	Tanks    []TankRecord    `json:"tanks"`
	History  []HistoryRecord `json:"history"`
	Profiles []ProfileRecord `json:"profiles"`
}

// Journal durably records a mutation before the store applies it. A journal
// error aborts the mutation.
type Journal interface {
	RecordTank(ctx context.Context, rec TankRecord) error
	RecordReading(ctx context.Context, rec HistoryRecord) error
	RecordProfile(ctx context.Context, rec ProfileRecord) error
}

type historyKey struct {
	user string
	tank string
}

// Store is a goroutine safe in-memory implementation of domain.DurableStore.
type Store struct {
	mu       sync.RWMutex
	journal  Journal
	clock    func() time.Time
	newID    func() string
	seq      int64
	version  uint64
	tanks    map[string][]TankRecord
	history  map[historyKey][]HistoryRecord
	profiles map[string]ProfileRecord

	watchMu         sync.Mutex
	nextWatch       uint64
	historyWatchers map[historyKey]map[uint64]*watcher[[]domain.Reading]
	tankWatchers    map[string]map[uint64]*watcher[[]domain.TankProfile]
}

// Option configures a Store.
type Option func(*Store)

// WithJournal installs the write-ahead journal used by the SQL drivers.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithClock overrides the recorded_at clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides tank id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:           func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
		tanks:           make(map[string][]TankRecord),
		history:         make(map[historyKey][]HistoryRecord),
		profiles:        make(map[string]ProfileRecord),
		historyWatchers: make(map[historyKey]map[uint64]*watcher[[]domain.Reading]),
		tankWatchers:    make(map[string]map[uint64]*watcher[[]domain.TankProfile]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImportState replaces the store contents with snapshot. Watchers are not
// notified; it is meant for hydration before first use.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tanks = make(map[string][]TankRecord)
	s.history = make(map[historyKey][]HistoryRecord)
	s.profiles = make(map[string]ProfileRecord)
	s.seq = 0
	for _, t := range snapshot.Tanks {
		s.tanks[t.UserID] = append(s.tanks[t.UserID], t)
	}
	for _, h := range snapshot.History {
		k := historyKey{user: h.UserID, tank: h.TankID}
		s.history[k] = insertSorted(s.history[k], h)
		if h.Seq > s.seq {
			s.seq = h.Seq
		}
	}
	for _, p := range snapshot.Profiles {
		s.profiles[p.UserID] = p
	}
	s.version++
}

// ExportState returns a deep copy of the store contents.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	users := make([]string, 0, len(s.tanks))
	for u := range s.tanks {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		snap.Tanks = append(snap.Tanks, s.tanks[u]...)
	}
	for _, recs := range s.history {
		snap.History = append(snap.History, recs...)
	}
	sort.Slice(snap.History, func(i, j int) bool { return snap.History[i].Seq < snap.History[j].Seq })
	for _, p := range s.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	sort.Slice(snap.Profiles, func(i, j int) bool { return snap.Profiles[i].UserID < snap.Profiles[j].UserID })
	return snap
}

// AppendReading appends reading to the tank history of target.
func (s *Store) AppendReading(ctx context.Context, target domain.Target, reading domain.Reading) error {
	if err := ctx.Err(); err != nil {
		return domain.PersistenceError{Op: "append_reading", Err: err}
	}
	if !target.Valid() {
		return domain.ValidationError{Field: "target", Reason: "user and tank are required"}
	}
	k := historyKey{user: target.UserID, tank: target.TankID}

	s.mu.Lock()
	rec := HistoryRecord{
		UserID:     target.UserID,
		TankID:     target.TankID,
		Seq:        s.seq + 1,
		Reading:    reading,
		RecordedAt: s.clock(),
	}
	if s.journal != nil {
		if err := s.journal.RecordReading(ctx, rec); err != nil {
			s.mu.Unlock()
			return domain.PersistenceError{Op: "append_reading", Err: err}
		}
	}
	s.seq = rec.Seq
	s.version++
	s.history[k] = insertSorted(s.history[k], rec)
	version, readings := s.version, readingsOf(s.history[k])
	s.mu.Unlock()

	s.notifyHistory(k, version, readings)
	return nil
}

// History returns the tank history ascending by observation time.
func (s *Store) History(ctx context.Context, userID, tankID string) ([]domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "history", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readingsOf(s.history[historyKey{user: userID, tank: tankID}]), nil
}

// LatestReading returns the most recently observed reading of the tank.
func (s *Store) LatestReading(ctx context.Context, userID, tankID string) (domain.Reading, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, false, domain.PersistenceError{Op: "latest_reading", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.history[historyKey{user: userID, tank: tankID}]
	if len(recs) == 0 {
		return domain.Reading{}, false, nil
	}
	return recs[len(recs)-1].Reading, true, nil
}

// WatchHistory implements domain.ReadingStore.
func (s *Store) WatchHistory(ctx context.Context, userID, tankID string, fn func([]domain.Reading)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "watch_history", Err: err}
	}
	k := historyKey{user: userID, tank: tankID}
	w := &watcher[[]domain.Reading]{fn: fn}

	s.watchMu.Lock()
	s.nextWatch++
	id := s.nextWatch
	if s.historyWatchers[k] == nil {
		s.historyWatchers[k] = make(map[uint64]*watcher[[]domain.Reading])
	}
	s.historyWatchers[k][id] = w
	s.watchMu.Unlock()

	s.mu.RLock()
	version, readings := s.version, readingsOf(s.history[k])
	s.mu.RUnlock()
	w.deliver(version, readings)

	return domain.NewSubscription(func() {
		w.cancel()
		s.watchMu.Lock()
		delete(s.historyWatchers[k], id)
		if len(s.historyWatchers[k]) == 0 {
			delete(s.historyWatchers, k)
		}
		s.watchMu.Unlock()
	}), nil
}

// ListTanks returns the user's tanks in creation order.
func (s *Store) ListTanks(ctx context.Context, userID string) ([]domain.TankProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "list_tanks", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tanksOf(s.tanks[userID]), nil
}

// WatchTanks implements domain.TankStore.
func (s *Store) WatchTanks(ctx context.Context, userID string, fn func([]domain.TankProfile)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "watch_tanks", Err: err}
	}
	w := &watcher[[]domain.TankProfile]{fn: fn}

	s.watchMu.Lock()
	s.nextWatch++
	id := s.nextWatch
	if s.tankWatchers[userID] == nil {
		s.tankWatchers[userID] = make(map[uint64]*watcher[[]domain.TankProfile])
	}
	s.tankWatchers[userID][id] = w
	s.watchMu.Unlock()

	s.mu.RLock()
	version, tanks := s.version, tanksOf(s.tanks[userID])
	s.mu.RUnlock()
	w.deliver(version, tanks)

	return domain.NewSubscription(func() {
		w.cancel()
		s.watchMu.Lock()
		delete(s.tankWatchers[userID], id)
		if len(s.tankWatchers[userID]) == 0 {
			delete(s.tankWatchers, userID)
		}
		s.watchMu.Unlock()
	}), nil
}

// CreateTank registers a new tank for userID with a generated id.
func (s *Store) CreateTank(ctx context.Context, userID, displayName string) (domain.TankProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.TankProfile{}, domain.PersistenceError{Op: "create_tank", Err: err}
	}
	if userID == "" {
		return domain.TankProfile{}, domain.ErrNotAuthenticated
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		return domain.TankProfile{}, domain.ValidationError{Field: "display_name", Reason: "must not be blank"}
	}

	s.mu.Lock()
	rec := TankRecord{
		UserID:    userID,
		Tank:      domain.TankProfile{ID: s.newID(), DisplayName: name},
		CreatedAt: s.clock(),
	}
	if s.journal != nil {
		if err := s.journal.RecordTank(ctx, rec); err != nil {
			s.mu.Unlock()
			return domain.TankProfile{}, domain.PersistenceError{Op: "create_tank", Err: err}
		}
	}
	s.version++
	s.tanks[userID] = append(s.tanks[userID], rec)
	version, tanks := s.version, tanksOf(s.tanks[userID])
	s.mu.Unlock()

	s.notifyTanks(userID, version, tanks)
	return rec.Tank, nil
}

// LoadProfile returns the user's profile or domain.ErrProfileNotFound.
func (s *Store) LoadProfile(ctx context.Context, userID string) (domain.ThresholdProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.ThresholdProfile{}, domain.PersistenceError{Op: "load_profile", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.profiles[userID]
	if !ok {
		return domain.ThresholdProfile{}, fmt.Errorf("user %s: %w", userID, domain.ErrProfileNotFound)
	}
	return rec.Profile, nil
}

// SaveProfile validates and stores the user's profile.
func (s *Store) SaveProfile(ctx context.Context, userID string, profile domain.ThresholdProfile) error {
	if err := ctx.Err(); err != nil {
		return domain.PersistenceError{Op: "save_profile", Err: err}
	}
	if userID == "" {
		return domain.ErrNotAuthenticated
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := ProfileRecord{UserID: userID, Profile: profile, UpdatedAt: s.clock()}
	if s.journal != nil {
		if err := s.journal.RecordProfile(ctx, rec); err != nil {
			return domain.PersistenceError{Op: "save_profile", Err: err}
		}
	}
	s.version++
	s.profiles[userID] = rec
	return nil
}

// Close implements domain.DurableStore.
func (s *Store) Close() error { return nil }

func (s *Store) notifyHistory(k historyKey, version uint64, readings []domain.Reading) {
	s.watchMu.Lock()
	ws := make([]*watcher[[]domain.Reading], 0, len(s.historyWatchers[k]))
	for _, w := range s.historyWatchers[k] {
		ws = append(ws, w)
	}
	s.watchMu.Unlock()
	for _, w := range ws {
		w.deliver(version, readings)
	}
}

func (s *Store) notifyTanks(userID string, version uint64, tanks []domain.TankProfile) {
	s.watchMu.Lock()
	ws := make([]*watcher[[]domain.TankProfile], 0, len(s.tankWatchers[userID]))
	for _, w := range s.tankWatchers[userID] {
		ws = append(ws, w)
	}
	s.watchMu.Unlock()
	for _, w := range ws {
		w.deliver(version, tanks)
	}
}

// watcher serializes deliveries for one subscription and drops snapshots
// older than the last one delivered.
type watcher[T any] struct {
	mu        sync.Mutex
	fn        func(T)
	last      uint64
	delivered bool
	cancelled bool
}

func (w *watcher[T]) deliver(version uint64, v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled || (w.delivered && version <= w.last) {
		return
	}
	w.last = version
	w.delivered = true
	w.fn(v)
}

func (w *watcher[T]) cancel() {
	w.mu.Lock()
	w.cancelled = true
	w.mu.Unlock()
}

// insertSorted keeps records ordered by (ObservedAt, Seq).
func insertSorted(recs []HistoryRecord, rec HistoryRecord) []HistoryRecord {
	i := sort.Search(len(recs), func(i int) bool {
		o := recs[i]
		if o.Reading.ObservedAt.Equal(rec.Reading.ObservedAt) {
			return o.Seq > rec.Seq
		}
		return o.Reading.ObservedAt.After(rec.Reading.ObservedAt)
	})
	recs = append(recs, HistoryRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	return recs
}

func readingsOf(recs []HistoryRecord) []domain.Reading {
	out := make([]domain.Reading, len(recs))
	for i, r := range recs {
		out[i] = r.Reading
	}
	return out
}

func tanksOf(recs []TankRecord) []domain.TankProfile {
	out := make([]domain.TankProfile, len(recs))
	for i, r := range recs {
		out[i] = r.Tank
	}
	return out
}
