// Package records keeps the signed-in user's cats in sync with the
// platform.
package records

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/observable"
	"github.com/starford/catnip/internal/platform"
)

// State is the store's snapshot. Cats are ordered newest first. Failed is
// set when the last load could not reach the platform.
type State struct {
	Cats    []models.Cat `json:"cats"`
	Loading bool         `json:"loading"`
	Failed  bool         `json:"failed,omitempty"`
}

// Store owns the in-memory cat collection of one platform client. Every
// successful mutation is followed by a full reload; the last load to
// finish wins. The reload is detached from the caller's cancellation so a
// dropped request cannot leave the snapshot behind the platform.
type Store struct {
	client platform.Client
	log    *slog.Logger
	state  *observable.Value[State]
}

// NewStore returns an empty store.
func NewStore(client platform.Client, log *slog.Logger) *Store {
	return &Store{
		client: client,
		log:    log,
		state:  observable.New(State{Cats: []models.Cat{}}),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	return s.state.Get()
}

// Subscribe returns a channel of future snapshots and its cancel function.
func (s *Store) Subscribe() (<-chan State, func()) {
	return s.state.Subscribe()
}

// Load replaces the snapshot with every cat visible to the caller. A
// failure empties the collection and is logged.
func (s *Store) Load(ctx context.Context) {
	s.setLoading()
	s.fetch(ctx)
}

// StartLoad marks the store loading and fetches in the background.
func (s *Store) StartLoad(ctx context.Context) {
	s.setLoading()
	go s.fetch(ctx)
}

// Reset drops the snapshot, e.g. after sign-out.
func (s *Store) Reset() {
	s.state.Set(State{Cats: []models.Cat{}})
}

// Add inserts draft owned by the current user and reloads.
func (s *Store) Add(ctx context.Context, draft models.CatDraft) (*models.Cat, error) {
	u, err := s.client.GetUser(ctx)
	if err != nil {
		s.log.Error("add cat failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("records: add: %w", err)
	}
	if u == nil {
		s.log.Error("add cat failed", slog.String("error", apperr.ErrUnauthenticated.Error()))
		return nil, apperr.ErrUnauthenticated
	}

	cat, err := s.client.Cats().Insert(ctx, platform.NewCatFromDraft(draft, u.ID))
	if err != nil {
		s.log.Error("add cat failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("records: add: %w", err)
	}
	s.Load(context.WithoutCancel(ctx))
	return cat, nil
}

// Update patches the cat with id and reloads. Updating a cat the caller
// cannot see returns apperr.ErrNotFound.
func (s *Store) Update(ctx context.Context, id string, patch models.CatPatch) (*models.Cat, error) {
	cat, err := s.client.Cats().Update(ctx, id, patch)
	if err != nil {
		s.log.Error("update cat failed", slog.String("id", id), slog.String("error", err.Error()))
		return nil, fmt.Errorf("records: update: %w", err)
	}
	s.Load(context.WithoutCancel(ctx))
	return cat, nil
}

// Delete removes the cat with id and reloads.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Cats().Delete(ctx, id); err != nil {
		s.log.Error("delete cat failed", slog.String("id", id), slog.String("error", err.Error()))
		return fmt.Errorf("records: delete: %w", err)
	}
	s.Load(context.WithoutCancel(ctx))
	return nil
}

func (s *Store) setLoading() {
	s.state.Update(func(st State) State {
		st.Loading = true
		return st
	})
}

func (s *Store) fetch(ctx context.Context) {
	cats, err := s.client.Cats().List(ctx)
	if err != nil {
		s.log.Error("load cats failed", slog.String("error", err.Error()))
		s.state.Set(State{Cats: []models.Cat{}, Failed: true})
		return
	}
	s.state.Set(State{Cats: cats})
}
