// Package slackmount projects a Slack workspace's channels into the
// namespace, one child per conversation under the mount's anchor.
// Publications to a channel object post messages back into Slack.
package slackmount

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

// Mount bridges one Slack workspace.
type Mount struct {
	vstore.BaseMount

	conn *remote.Connection
	api  *slack.Client
}

// New creates a Slack mount anchored at from.
func New(name, from, token string) *Mount {
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		conn: remote.NewConnection(name, domain.ChannelSlack, remote.NewSettings(nil)),
		api:  slack.New(token),
	}
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect verifies the token against the auth endpoint.
func (m *Mount) Connect(ctx context.Context) error {
	if _, err := m.api.AuthTestContext(ctx); err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("slackmount: auth: %w", err)
	}
	m.conn.MarkConnected()
	return nil
}

// Disconnect marks the transport down; the Slack web API holds no
// persistent connection to tear.
func (m *Mount) Disconnect(ctx context.Context) error {
	m.conn.MarkDisconnected()
	return nil
}

// IsConnected reports transport health.
func (m *Mount) IsConnected() bool { return m.conn.Status == domain.StatusConnected }

// OnQuery lists the workspace's conversations as children of the anchor.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	var results []vstore.Result
	params := &slack.GetConversationsParameters{Limit: 200}
	for {
		channels, cursor, err := m.api.GetConversations(params)
		if err != nil {
			m.conn.MarkError(err.Error())
			return nil, fmt.Errorf("slackmount: list conversations: %w", err)
		}
		for _, ch := range channels {
			if !vstore.MatchPattern(q.Expr, ch.Name) {
				continue
			}
			results = append(results, vstore.Result{
				ID:          ch.Name,
				Name:        ch.Name,
				Type:        "channel",
				Value:       []byte(ch.Purpose.Value),
				ContentType: "text/plain",
				Flags:       vstore.FlagLeaf,
				Owner:       m.ID(),
			})
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	m.conn.RecordQuery()
	return vstore.NewSliceIter(results, nil), nil
}

// OnPublish posts the value as a message to the named conversation.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	channels, _, err := m.api.GetConversations(&slack.GetConversationsParameters{Limit: 200})
	if err != nil {
		return fmt.Errorf("slackmount: list conversations: %w", err)
	}
	for _, ch := range channels {
		if ch.Name != id {
			continue
		}
		if _, _, err := m.api.PostMessage(ch.ID, slack.MsgOptionText(string(value), false)); err != nil {
			m.conn.MarkError(err.Error())
			return fmt.Errorf("slackmount: post to %s: %w", id, err)
		}
		m.conn.RecordEventOut()
		return nil
	}
	return fmt.Errorf("slackmount: no such channel %s", id)
}
