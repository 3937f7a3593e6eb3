// Package identity gives each browser an anonymous device ID and each open
// tab its own ID, without accounts.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	AnonCookieName    = "usba_anon_id"
	TabHeaderName     = "X-USBA-Tab-ID"
	DefaultTabIDValue = "default"
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Device is the caller of one request. UserID keys the wizard and the
// session slot; TabID only routes live updates.
type Device struct {
	UserID string
	TabID  string
}

type deviceKey struct{}

// WithDevice returns ctx carrying d.
func WithDevice(ctx context.Context, d Device) context.Context {
	return context.WithValue(ctx, deviceKey{}, d)
}

// DeviceFromContext returns the device stored by the middleware.
func DeviceFromContext(ctx context.Context) (Device, bool) {
	d, ok := ctx.Value(deviceKey{}).(Device)
	return d, ok
}

// WithUser returns ctx carrying userID on the default tab.
func WithUser(ctx context.Context, userID string) context.Context {
	return WithDevice(ctx, Device{UserID: userID, TabID: DefaultTabIDValue})
}

// UserIDFromContext returns the device ID, or "" outside the middleware.
func UserIDFromContext(ctx context.Context) string {
	d, _ := DeviceFromContext(ctx)
	return d.UserID
}

// TabIDFromContext returns the tab ID, or DefaultTabIDValue.
func TabIDFromContext(ctx context.Context) string {
	if d, ok := DeviceFromContext(ctx); ok && d.TabID != "" {
		return d.TabID
	}
	return DefaultTabIDValue
}

func newAnonID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// tabID reads the tab from the header, or the query string for WebSocket
// upgrades where browsers cannot set headers.
func tabID(r *http.Request) string {
	id := r.Header.Get(TabHeaderName)
	if id == "" {
		id = r.URL.Query().Get("tab_id")
	}
	id = strings.TrimSpace(id)
	if !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func usernameFor(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

// IPFromRequest returns the remote IP without the port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
