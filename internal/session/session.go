// Package session owns the current bearer credential and its persisted copy.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Joseda-hg/tasksync/internal/logging"
)

var (
	ErrNoCredential    = errors.New("not logged in")
	ErrEmptyCredential = errors.New("empty credential")
)

// Persister is durable client storage for the credential.
type Persister interface {
	LoadCredential(ctx context.Context) (string, error)
	SaveCredential(ctx context.Context, token string) error
	DeleteCredential(ctx context.Context) error
}

type Reason string

const (
	ReasonRestored     Reason = "restored"
	ReasonLogin        Reason = "login"
	ReasonLogout       Reason = "logout"
	ReasonUnauthorized Reason = "unauthorized"
)

type Change struct {
	Authenticated bool
	Epoch         uint64
	Reason        Reason
}

type Holder struct {
	// writeMu serializes credential writes with their persistence.
	writeMu   sync.Mutex
	mu        sync.Mutex
	token     string
	epoch     uint64
	persist   Persister
	listeners map[int]func(Change)
	order     []int
	nextID    int
	logger    *slog.Logger
}

func NewHolder(persist Persister, logger *slog.Logger) *Holder {
	return &Holder{
		persist:   persist,
		listeners: make(map[int]func(Change)),
		logger:    logging.OrDefault(logger),
	}
}

// Restore loads the persisted credential, if any, and makes it current.
func (h *Holder) Restore(ctx context.Context) error {
	if h.persist == nil {
		return nil
	}
	token, err := h.persist.LoadCredential(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	h.mu.Lock()
	h.token = token
	h.epoch++
	change := Change{Authenticated: true, Epoch: h.epoch, Reason: ReasonRestored}
	h.mu.Unlock()

	h.logger.Debug("session restored")
	h.notify(change)
	return nil
}

func (h *Holder) Credential() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token, h.token != ""
}

// Current returns the credential together with its generation.
func (h *Holder) Current() (string, uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token, h.epoch, h.token != ""
}

// Valid reports whether the credential generation epoch is still the current one.
func (h *Holder) Valid(epoch uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token != "" && h.epoch == epoch
}

func (h *Holder) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyCredential
	}

	h.writeMu.Lock()
	if h.persist != nil {
		if err := h.persist.SaveCredential(ctx, token); err != nil {
			h.writeMu.Unlock()
			return fmt.Errorf("persist credential: %w", err)
		}
	}
	h.mu.Lock()
	h.token = token
	h.epoch++
	change := Change{Authenticated: true, Epoch: h.epoch, Reason: ReasonLogin}
	h.mu.Unlock()
	h.writeMu.Unlock()

	h.logger.Info("session started")
	h.notify(change)
	return nil
}

func (h *Holder) Clear(ctx context.Context) error {
	return h.clear(ctx, ReasonLogout)
}

// OnUnauthorized is the transport's global hook for authorization failures.
func (h *Holder) OnUnauthorized() {
	if err := h.clear(context.Background(), ReasonUnauthorized); err != nil {
		h.logger.Error("clear session after unauthorized response", "error", err)
	}
}

func (h *Holder) clear(ctx context.Context, reason Reason) error {
	h.writeMu.Lock()
	h.mu.Lock()
	if h.token == "" {
		h.mu.Unlock()
		h.writeMu.Unlock()
		return nil
	}
	h.token = ""
	h.epoch++
	change := Change{Authenticated: false, Epoch: h.epoch, Reason: reason}
	h.mu.Unlock()

	var persistErr error
	if h.persist != nil {
		if err := h.persist.DeleteCredential(ctx); err != nil {
			persistErr = fmt.Errorf("remove persisted credential: %w", err)
		}
	}
	h.writeMu.Unlock()

	h.logger.Info("session ended", "reason", string(reason))
	h.notify(change)
	return persistErr
}

// Subscribe registers fn for session transitions. Listeners run in
// subscription order on the goroutine that caused the change.
func (h *Holder) Subscribe(fn func(Change)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
		h.order = slices.DeleteFunc(h.order, func(v int) bool { return v == id })
	}
}

func (h *Holder) notify(change Change) {
	h.mu.Lock()
	fns := make([]func(Change), 0, len(h.listeners))
	for _, id := range h.order {
		if fn, ok := h.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
