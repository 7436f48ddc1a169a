// Package qqmount projects a QQ guild's channels into the namespace via
// the official bot API. Publications to a channel object post messages
// back into the channel.
package qqmount

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

// Mount bridges one QQ guild.
type Mount struct {
	vstore.BaseMount

	conn    *remote.Connection
	api     openapi.OpenAPI
	guildID string
}

// New creates a QQ mount anchored at from for one guild.
func New(name, from string, appID uint64, accessToken, guildID string) *Mount {
	tk := token.BotToken(appID, accessToken)
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		conn: remote.NewConnection(name, domain.ChannelQQ, remote.NewSettings(map[string]string{
			"app_id": strconv.FormatUint(appID, 10),
			"guild":  guildID,
		})),
		api:     botgo.NewOpenAPI(tk).WithTimeout(10 * time.Second),
		guildID: guildID,
	}
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect verifies the credentials by fetching the bot identity.
func (m *Mount) Connect(ctx context.Context) error {
	if _, err := m.api.Me(ctx); err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("qqmount: me: %w", err)
	}
	m.conn.MarkConnected()
	return nil
}

// Disconnect marks the transport down.
func (m *Mount) Disconnect(ctx context.Context) error {
	m.conn.MarkDisconnected()
	return nil
}

// IsConnected reports transport health.
func (m *Mount) IsConnected() bool { return m.conn.Status == domain.StatusConnected }

// OnQuery lists the guild's text channels as children of the anchor.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	channels, err := m.api.Channels(context.Background(), m.guildID)
	if err != nil {
		m.conn.MarkError(err.Error())
		return nil, fmt.Errorf("qqmount: list channels: %w", err)
	}
	m.conn.RecordQuery()

	var results []vstore.Result
	for _, ch := range channels {
		if ch.Type != dto.ChannelTypeText {
			continue
		}
		if !vstore.MatchPattern(q.Expr, ch.Name) {
			continue
		}
		results = append(results, vstore.Result{
			ID:    ch.Name,
			Name:  ch.Name,
			Type:  "channel",
			Flags: vstore.FlagLeaf,
			Owner: m.ID(),
		})
	}
	return vstore.NewSliceIter(results, nil), nil
}

// OnPublish posts the value as a message into the named channel.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	channels, err := m.api.Channels(context.Background(), m.guildID)
	if err != nil {
		return fmt.Errorf("qqmount: list channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Name != id {
			continue
		}
		_, err := m.api.PostMessage(context.Background(), ch.ID, &dto.MessageToCreate{Content: string(value)})
		if err != nil {
			m.conn.MarkError(err.Error())
			return fmt.Errorf("qqmount: post to %s: %w", id, err)
		}
		m.conn.RecordEventOut()
		return nil
	}
	return fmt.Errorf("qqmount: no such channel %s", id)
}
