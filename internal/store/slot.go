package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/shared"
)

// SessionSlotKey is the slot holding a device's serialized session.
const SessionSlotKey = "usba-session"

var errMalformedSession = errors.New("stored session has no id or plan")

// SessionSlot persists one device's session as a single JSON blob.
// Failures are logged and never returned: a failed load reads as absent.
type SessionSlot struct {
	repo   Repository
	userID string
	key    string
	retry  shared.RetryPolicy
}

// NewSessionSlot returns the session slot for userID.
func NewSessionSlot(repo Repository, userID string) *SessionSlot {
	return &SessionSlot{
		repo:   repo,
		userID: userID,
		key:    SessionSlotKey,
		retry:  shared.DefaultRetryPolicy,
	}
}

// Load returns the stored session. Malformed data is cleared and reported as absent.
func (s *SessionSlot) Load(ctx context.Context) (domain.Session, bool) {
	payload, err := s.repo.GetSlot(ctx, s.userID, s.key)
	if err != nil {
		slog.Error("Failed to load session from storage", "error", err, "user_id", s.userID)
		return domain.Session{}, false
	}
	if len(payload) == 0 {
		return domain.Session{}, false
	}

	sess, err := decodeSession(payload)
	if err != nil {
		slog.Warn("Discarding malformed stored session", "error", err, "user_id", s.userID)
		s.Clear(ctx)
		return domain.Session{}, false
	}
	return sess, true
}

// Save overwrites the slot with sess.
func (s *SessionSlot) Save(ctx context.Context, sess domain.Session) {
	payload, err := json.Marshal(sess)
	if err != nil {
		slog.Error("Failed to encode session", "error", err, "user_id", s.userID, "session_id", sess.ID)
		return
	}
	err = shared.RetryOnConflict(ctx, s.retry, "save session", func() error {
		return s.repo.PutSlot(ctx, s.userID, s.key, payload)
	})
	if err != nil {
		slog.Error("Failed to save session to storage", "error", err, "user_id", s.userID, "session_id", sess.ID)
	}
}

// Clear removes the stored session.
func (s *SessionSlot) Clear(ctx context.Context) {
	err := shared.RetryOnConflict(ctx, s.retry, "clear session", func() error {
		return s.repo.DeleteSlot(ctx, s.userID, s.key)
	})
	if err != nil {
		slog.Error("Failed to clear stored session", "error", err, "user_id", s.userID)
	}
}

func decodeSession(payload []byte) (domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return domain.Session{}, err
	}
	if sess.ID == "" || len(sess.Plan) == 0 {
		return domain.Session{}, errMalformedSession
	}
	if sess.Spins == nil {
		sess.Spins = []domain.Spin{}
	}
	sess.CurrentStageIndex = max(0, min(sess.CurrentStageIndex, len(sess.Plan)-1))
	return sess, nil
}
