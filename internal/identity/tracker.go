package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/usba/internal/domain"
)

const (
	cookieMaxAge  = 30 * 24 * time.Hour
	touchInterval = time.Minute
)

// DeviceStore is the part of the repository the tracker writes to.
type DeviceStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Tracker issues the device cookie and records devices in the store. A
// device is written at most once per touchInterval; requests in between
// skip the store entirely.
type Tracker struct {
	store  DeviceStore
	secure bool
	now    func() time.Time

	mu      sync.Mutex
	touched map[string]time.Time
}

// NewTracker creates a tracker. Cookies are Secure unless isDev is set.
func NewTracker(store DeviceStore, isDev bool) *Tracker {
	return &Tracker{
		store:   store,
		secure:  !isDev,
		now:     time.Now,
		touched: make(map[string]time.Time),
	}
}

// Handler resolves the device for every request and stores it in the
// request context.
func (t *Tracker) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := newAnonID()
		if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
			userID = c.Value
		}
		t.setCookie(w, userID)

		if err := t.touch(r.Context(), userID); err != nil {
			slog.Error("Failed to record device", "error", err, "user_id", userID)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "failed to initialize anonymous user"})
			return
		}

		ctx := WithDevice(r.Context(), Device{UserID: userID, TabID: tabID(r)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Prune forgets devices not touched for at least idle and returns how many.
func (t *Tracker) Prune(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for id, at := range t.touched {
		if now.Sub(at) >= idle {
			delete(t.touched, id)
			n++
		}
	}
	return n
}

func (t *Tracker) setCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   t.secure,
	})
}

// touch creates the device row on first sight and refreshes last_seen_at.
func (t *Tracker) touch(ctx context.Context, userID string) error {
	now := t.now()
	t.mu.Lock()
	if at, ok := t.touched[userID]; ok && now.Sub(at) < touchInterval {
		t.mu.Unlock()
		return nil
	}
	t.touched[userID] = now
	t.mu.Unlock()

	user, err := t.store.GetUser(ctx, userID)
	if err == nil && user == nil {
		err = t.store.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   usernameFor(userID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err != nil {
		t.mu.Lock()
		delete(t.touched, userID)
		t.mu.Unlock()
		return err
	}
	if user != nil && user.IdleFor(now) >= touchInterval {
		if err := t.store.UpdateLastSeen(ctx, userID, now); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "user_id", userID)
		}
	}
	return nil
}
