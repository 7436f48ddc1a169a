// Package remote holds the connection state every remote-backed mount
// shares: identity, transport health, access control and traffic metrics.
// Concrete mounts embed a Connection and drive their platform SDK through
// the Transport port.
package remote

import (
	"context"

	"github.com/arborstore/arbor/pkg/domain"
)

// Connection is the aggregate root for one remote transport a mount speaks
// through. It encapsulates identity, connection state, access control and
// metrics.
type Connection struct {
	domain.AggregateRoot

	Name        string             `json:"name"`
	Type        domain.ChannelType `json:"type"`
	Description string             `json:"description,omitempty"`

	Status  domain.ConnectionStatus `json:"status"`
	Enabled bool                    `json:"enabled"`
	Error   string                  `json:"error,omitempty"`

	ACL AccessControlList `json:"acl"`

	Config Settings `json:"config"`

	Metrics Metrics `json:"metrics"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// NewConnection creates a Connection aggregate with a generated ID.
func NewConnection(name string, connType domain.ChannelType, cfg Settings) *Connection {
	c := &Connection{
		Name:      name,
		Type:      connType,
		Status:    domain.StatusDisconnected,
		Enabled:   false,
		ACL:       NewAccessControlList(nil),
		Config:    cfg,
		Metrics:   Metrics{},
		CreatedAt: domain.Now(),
		UpdatedAt: domain.Now(),
	}
	c.SetID(domain.NewID())
	return c
}

// Enable activates the connection for traffic.
func (c *Connection) Enable() {
	c.Enabled = true
	c.UpdatedAt = domain.Now()
}

// Disable deactivates the connection.
func (c *Connection) Disable() {
	c.Enabled = false
	c.UpdatedAt = domain.Now()
}

// MarkConnected transitions to connected state.
func (c *Connection) MarkConnected() {
	c.Status = domain.StatusConnected
	c.Error = ""
	c.Metrics.ConnectedSince = domain.Now()
	c.UpdatedAt = domain.Now()
	c.RecordEvent(domain.NewEvent(domain.EventMountAttached, c.ID(), map[string]string{
		"connection": c.Name,
		"type":       string(c.Type),
	}))
}

// MarkDisconnected transitions to disconnected state.
func (c *Connection) MarkDisconnected() {
	c.Status = domain.StatusDisconnected
	c.UpdatedAt = domain.Now()
	c.RecordEvent(domain.NewEvent(domain.EventMountDetached, c.ID(), map[string]string{
		"connection": c.Name,
	}))
}

// MarkError records an error state.
func (c *Connection) MarkError(err string) {
	c.Status = domain.StatusError
	c.Error = err
	c.Metrics.ErrorCount++
	c.UpdatedAt = domain.Now()
	c.RecordEvent(domain.NewEvent(domain.EventMountError, c.ID(), map[string]string{
		"connection": c.Name,
		"error":      err,
	}))
}

// RecordQuery counts one served query.
func (c *Connection) RecordQuery() {
	c.Metrics.QueriesServed++
	c.Metrics.LastActivityAt = domain.Now()
	c.UpdatedAt = domain.Now()
}

// RecordEventOut counts one event forwarded to the remote.
func (c *Connection) RecordEventOut() {
	c.Metrics.EventsOut++
	c.Metrics.LastActivityAt = domain.Now()
	c.UpdatedAt = domain.Now()
}

// RecordEventIn counts one event received from the remote.
func (c *Connection) RecordEventIn() {
	c.Metrics.EventsIn++
	c.Metrics.LastActivityAt = domain.Now()
	c.UpdatedAt = domain.Now()
}

// IsAllowed checks a remote principal against the access control list.
func (c *Connection) IsAllowed(principal string) bool {
	return c.ACL.IsAllowed(principal)
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// AccessControlList controls which remote principals may publish through a
// mount.
type AccessControlList struct {
	AllowList []string `json:"allow_list"`
}

// NewAccessControlList creates an ACL from a whitelist.
func NewAccessControlList(allowList []string) AccessControlList {
	if allowList == nil {
		allowList = []string{}
	}
	return AccessControlList{AllowList: allowList}
}

// IsAllowed returns true if the principal is in the allow list, or if the
// list is empty (open).
func (acl AccessControlList) IsAllowed(principal string) bool {
	if len(acl.AllowList) == 0 {
		return true
	}
	for _, allowed := range acl.AllowList {
		if allowed == principal {
			return true
		}
	}
	return false
}

// Settings holds connection-specific configuration as a flexible map; each
// mount kind interprets its own keys (token, host, app id, …).
type Settings struct {
	Values map[string]string `json:"values,omitempty"`
}

// NewSettings creates a settings map.
func NewSettings(values map[string]string) Settings {
	if values == nil {
		values = make(map[string]string)
	}
	return Settings{Values: values}
}

// Get retrieves a configuration value.
func (s Settings) Get(key string) string { return s.Values[key] }

// Metrics tracks connection usage statistics.
type Metrics struct {
	QueriesServed  int64            `json:"queries_served"`
	EventsIn       int64            `json:"events_in"`
	EventsOut      int64            `json:"events_out"`
	ErrorCount     int64            `json:"error_count"`
	LastActivityAt domain.Timestamp `json:"last_activity_at"`
	ConnectedSince domain.Timestamp `json:"connected_since"`
}

// Transport is the infrastructure contract a mount's SDK adapter fulfils.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error
	// Disconnect tears down the transport connection.
	Disconnect(ctx context.Context) error
	// IsConnected returns the current connection state.
	IsConnected() bool
}

// Errors shared across remote mounts.
type ConnectionError string

func (e ConnectionError) Error() string { return string(e) }

const (
	ErrNotConnected     ConnectionError = "connection is not established"
	ErrNotEnabled       ConnectionError = "connection is not enabled"
	ErrSenderNotAllowed ConnectionError = "principal not in allow list"
)
