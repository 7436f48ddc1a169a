// Package telegrammount projects a set of Telegram chats into the
// namespace. The bot API offers no chat enumeration, so the mount serves
// the chats it was configured with; publications to a chat object send bot
// messages into it.
package telegrammount

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

// Chat is one configured Telegram chat served by the mount.
type Chat struct {
	Name string
	ID   int64
}

// Mount bridges a Telegram bot.
type Mount struct {
	vstore.BaseMount

	conn *remote.Connection
	bot  *telego.Bot

	mu    sync.Mutex
	chats map[string]Chat
}

// New creates a Telegram mount anchored at from.
func New(name, from, token string, chats []Chat) (*Mount, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegrammount: bot: %w", err)
	}
	byName := make(map[string]Chat, len(chats))
	for _, c := range chats {
		byName[c.Name] = c
	}
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		conn:  remote.NewConnection(name, domain.ChannelTelegram, remote.NewSettings(nil)),
		bot:   bot,
		chats: byName,
	}, nil
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect verifies the bot token.
func (m *Mount) Connect(ctx context.Context) error {
	if _, err := m.bot.GetMe(ctx); err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("telegrammount: get me: %w", err)
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

// AddChat registers another chat with the mount.
func (m *Mount) AddChat(c Chat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.Name] = c
}

// OnQuery lists the configured chats as children of the anchor.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []vstore.Result
	for _, c := range m.chats {
		if !vstore.MatchPattern(q.Expr, c.Name) {
			continue
		}
		results = append(results, vstore.Result{
			ID:          c.Name,
			Name:        c.Name,
			Type:        "chat",
			Value:       []byte(strconv.FormatInt(c.ID, 10)),
			ContentType: "text/plain",
			Flags:       vstore.FlagLeaf,
			Owner:       m.ID(),
		})
	}
	m.conn.RecordQuery()
	return vstore.NewSliceIter(results, nil), nil
}

// OnPublish sends the value as a bot message into the named chat.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	m.mu.Lock()
	c, ok := m.chats[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("telegrammount: no such chat %s", id)
	}
	_, err := m.bot.SendMessage(context.Background(), &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: c.ID},
		Text:   string(value),
	})
	if err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("telegrammount: send to %s: %w", id, err)
	}
	m.conn.RecordEventOut()
	return nil
}
