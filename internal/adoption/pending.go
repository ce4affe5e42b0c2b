// SPDX-License-Identifier: MIT

package adoption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartvenue/venued/internal/model"
)

// ErrSessionExpired means the pairing window closed before CompleteAdopt.
var ErrSessionExpired = errors.New("adoption session expired")

// pairingWindow is how long an awaiting_confirmation session stays valid.
// Samsung panels show the pairing dialog for about a minute.
const pairingWindow = 60 * time.Second

// SessionState is the two-step adoption progress.
type SessionState string

const (
	StateAwaitingConfirmation SessionState = "awaiting_confirmation"
	StateAdopted              SessionState = "adopted"
)

// Session is one two-step adoption in flight.
type Session struct {
	ID         string
	MAC        string
	State      SessionState
	Controller model.ManagedController // set when State is adopted
	ExpiresAt  time.Time
}

type pendingSessions struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// BeginAdopt starts a two-step adoption. Candidates that need a user-visible
// pairing step (Samsung websocket generation) get an awaiting_confirmation
// session; everything else adopts synchronously and returns an adopted
// session for a uniform caller surface.
func (s *Service) BeginAdopt(ctx context.Context, mac, name string) (Session, error) {
	canonical, err := model.CanonicalMAC(mac)
	if err != nil {
		return Session{}, fmt.Errorf("begin adopt: %w", err)
	}
	cand, err := s.store.GetCandidate(ctx, canonical)
	if err != nil {
		return Session{}, err
	}
	if cand.IsAdopted {
		return Session{}, fmt.Errorf("candidate %s: %w", canonical, ErrAlreadyAdopted)
	}

	if !isSamsung(cand) || model.IsIRHostname(cand.Hostname) {
		ctrl, err := s.Adopt(ctx, canonical, name)
		if err != nil {
			return Session{}, err
		}
		return Session{ID: uuid.NewString(), MAC: canonical, State: StateAdopted, Controller: ctrl}, nil
	}

	sess := Session{
		ID:        uuid.NewString(),
		MAC:       canonical,
		State:     StateAwaitingConfirmation,
		ExpiresAt: time.Now().Add(pairingWindow),
	}
	s.pending.put(sess)
	s.logger.Info().
		Str("event", "adoption.pairing_started").
		Str("mac", canonical).
		Str("session_id", sess.ID).
		Time("expires_at", sess.ExpiresAt).
		Msg("awaiting pairing confirmation")
	return sess, nil
}

// CompleteAdopt finishes an awaiting_confirmation session. The operator
// calls it after accepting the dialog on the panel; the synchronous Samsung
// probe then lands the token.
func (s *Service) CompleteAdopt(ctx context.Context, sessionID, name string) (model.ManagedController, error) {
	sess, ok := s.pending.take(sessionID)
	if !ok {
		return model.ManagedController{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionExpired)
	}
	if time.Now().After(sess.ExpiresAt) {
		return model.ManagedController{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionExpired)
	}
	return s.Adopt(ctx, sess.MAC, name)
}

func (p *pendingSessions) put(sess Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == nil {
		p.sessions = make(map[string]Session)
	}
	// drop expired residue while we hold the lock
	now := time.Now()
	for id, old := range p.sessions {
		if now.After(old.ExpiresAt) {
			delete(p.sessions, id)
		}
	}
	p.sessions[sess.ID] = sess
}

func (p *pendingSessions) take(id string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	return sess, ok
}
