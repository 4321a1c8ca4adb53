package core

import (
	"context"
	"slices"
	"sync"

	"aquawatch/internal/observability"
	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

// TankRegistry follows the tank list of the current identity and holds the
// selected tank.
type TankRegistry struct {
	store  domain.TankStore
	logger observability.Logger

	list     *Stream[[]domain.TankProfile]
	selected *Stream[string]

	mu         sync.Mutex
	user       string
	tanks      []domain.TankProfile
	selectedID string
	gen        uint64
	sub        domain.Subscription
}

// NewTankRegistry returns an empty registry for the anonymous identity.
func NewTankRegistry(store domain.TankStore, exec *timeline.Executor, logger observability.Logger) *TankRegistry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TankRegistry{
		store:    store,
		logger:   logger,
		list:     NewStream[[]domain.TankProfile](exec),
		selected: NewStream[string](exec),
	}
}

// List is the stream of tank lists for the current identity.
func (r *TankRegistry) List() *Stream[[]domain.TankProfile] { return r.list }

// Selected is the stream of selected tank ids; "" means none.
func (r *TankRegistry) Selected() *Stream[string] { return r.selected }

// Reset cancels the previous list subscription, clears the list and the
// selection, and follows the tanks of id when it is authenticated.
func (r *TankRegistry) Reset(ctx context.Context, id domain.Identity) error {
	r.mu.Lock()
	prev := r.sub
	r.sub = nil
	r.gen++
	gen := r.gen
	r.user, _ = id.UserID()
	user := r.user
	r.tanks = nil
	r.list.Emit(nil)
	if r.selectedID != "" {
		r.selectedID = ""
		r.selected.Emit("")
	}
	r.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if user == "" {
		return nil
	}
	sub, err := r.store.WatchTanks(ctx, user, func(tanks []domain.TankProfile) {
		r.apply(gen, tanks)
	})
	if err != nil {
		r.logger.Warn("tank_watch_failed", "user_id", user, "error", err)
		return err
	}
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		sub.Cancel()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	return nil
}

func (r *TankRegistry) apply(gen uint64, tanks []domain.TankProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.tanks = slices.Clone(tanks)
	r.list.Emit(slices.Clone(tanks))
}

// Tanks returns the current list.
func (r *TankRegistry) Tanks() []domain.TankProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.tanks)
}

// SelectedTank returns the selected tank, if any.
func (r *TankRegistry) SelectedTank() (domain.TankProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(r.selectedID)
}

func (r *TankRegistry) find(id string) (domain.TankProfile, bool) {
	if id == "" {
		return domain.TankProfile{}, false
	}
	for _, t := range r.tanks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.TankProfile{}, false
}

// Select makes tankID the selected tank. It reports whether the selection
// changed; a tank outside the current list yields a SelectionError and
// leaves the state untouched.
func (r *TankRegistry) Select(tankID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.find(tankID); !ok {
		return false, domain.SelectionError{TankID: tankID}
	}
	if r.selectedID == tankID {
		return false, nil
	}
	r.selectedID = tankID
	r.selected.Emit(tankID)
	return true, nil
}

// Create adds a tank for the current identity. The list stream picks the
// new tank up from the store watch.
func (r *TankRegistry) Create(ctx context.Context, name string) (domain.TankProfile, error) {
	r.mu.Lock()
	user := r.user
	r.mu.Unlock()
	if user == "" {
		return domain.TankProfile{}, domain.ErrNotAuthenticated
	}
	return r.store.CreateTank(ctx, user, name)
}
