// Package discordmount projects a Discord guild's channels into the
// namespace. Each text channel appears as a child of the mount's anchor;
// incoming messages surface as synthetic updates on the channel object, and
// publications to a channel object are sent back as messages.
package discordmount

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/oauth2"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "discordmount"

// Publisher re-enters remote messages into the local dispatcher.
type Publisher interface {
	Publish(event domain.EventType, id string) *vstore.PublishBuilder
}

// Mount bridges one Discord guild.
type Mount struct {
	vstore.BaseMount

	conn    *remote.Connection
	pub     Publisher
	guildID string

	session *discordgo.Session
	// rest is a token-authenticated HTTP client built at construction; no
	// method of this package sends requests through it.
	rest *http.Client
}

// New creates a Discord mount anchored at from for one guild.
func New(name, from, token, guildID string, pub Publisher) (*Mount, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discordmount: session: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bot"})
	m := &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		conn:    remote.NewConnection(name, domain.ChannelDiscord, remote.NewSettings(map[string]string{"guild": guildID})),
		pub:     pub,
		guildID: guildID,
		session: session,
		rest:    oauth2.NewClient(context.Background(), ts),
	}
	session.AddHandler(m.onMessage)
	return m, nil
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect opens the gateway session.
func (m *Mount) Connect(ctx context.Context) error {
	if err := m.session.Open(); err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("discordmount: open gateway: %w", err)
	}
	m.conn.MarkConnected()
	return nil
}

// Disconnect closes the gateway session.
func (m *Mount) Disconnect(ctx context.Context) error {
	err := m.session.Close()
	m.conn.MarkDisconnected()
	return err
}

// IsConnected reports gateway liveness.
func (m *Mount) IsConnected() bool { return m.conn.Status == domain.StatusConnected }

func (m *Mount) onMessage(s *discordgo.Session, mc *discordgo.MessageCreate) {
	if mc.Author != nil && mc.Author.Bot {
		return
	}
	if mc.Author != nil && !m.conn.IsAllowed(mc.Author.ID) {
		return
	}
	m.conn.RecordEventIn()
	channel, err := s.Channel(mc.ChannelID)
	if err != nil {
		return
	}
	id := joinRel(m.From(), channel.Name)
	err = m.pub.Publish(domain.EventUpdate, id).
		ContentType("text/plain").
		Value([]byte(mc.Content)).
		Instance(m.ID()).
		Do()
	if err != nil {
		logger.WarnCF(component, "inbound publish failed", map[string]interface{}{"channel": channel.Name, "error": err.Error()})
	}
}

// OnQuery lists the guild's text channels as children of the anchor.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	channels, err := m.session.GuildChannels(m.guildID)
	if err != nil {
		m.conn.MarkError(err.Error())
		return nil, fmt.Errorf("discordmount: list channels: %w", err)
	}
	m.conn.RecordQuery()

	var results []vstore.Result
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if !vstore.MatchPattern(q.Expr, ch.Name) {
			continue
		}
		results = append(results, vstore.Result{
			ID:          ch.Name,
			Name:        ch.Name,
			Type:        "channel",
			Value:       []byte(ch.Topic),
			ContentType: "text/plain",
			Flags:       vstore.FlagLeaf,
			Owner:       m.ID(),
		})
	}
	return vstore.NewSliceIter(results, nil), nil
}

// OnPublish sends the value as a message to the named channel.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	channels, err := m.session.GuildChannels(m.guildID)
	if err != nil {
		return fmt.Errorf("discordmount: list channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Name != id {
			continue
		}
		if _, err := m.session.ChannelMessageSend(ch.ID, string(value)); err != nil {
			m.conn.MarkError(err.Error())
			return fmt.Errorf("discordmount: send to %s: %w", id, err)
		}
		m.conn.RecordEventOut()
		return nil
	}
	return fmt.Errorf("discordmount: no such channel %s", id)
}

func joinRel(base, name string) string {
	if base == "/" || base == "" {
		return name
	}
	return base + "/" + name
}
