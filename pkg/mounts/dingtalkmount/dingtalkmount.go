// Package dingtalkmount bridges DingTalk group chats over the stream API.
// Inbound chatbot messages surface as synthetic updates under the mount's
// anchor; publications reply into the originating session webhook.
package dingtalkmount

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "dingtalkmount"

// Publisher re-enters remote messages into the local dispatcher.
type Publisher interface {
	Publish(event domain.EventType, id string) *vstore.PublishBuilder
}

// Mount bridges a DingTalk app over the stream protocol.
type Mount struct {
	vstore.BaseMount

	conn *remote.Connection
	pub  Publisher
	cli  *client.StreamClient

	mu sync.Mutex
	// webhooks maps conversation id to the last session webhook seen for
	// it, the only reply route the stream protocol offers.
	webhooks map[string]string
	replier  *chatbot.ChatbotReplier
}

// New creates a DingTalk mount anchored at from.
func New(name, from, clientID, clientSecret string, pub Publisher) *Mount {
	m := &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		conn:     remote.NewConnection(name, domain.ChannelDingTalk, remote.NewSettings(map[string]string{"client_id": clientID})),
		pub:      pub,
		webhooks: make(map[string]string),
		replier:  chatbot.NewChatbotReplier(),
	}
	m.cli = client.NewStreamClient(
		client.WithAppCredential(client.NewAppCredentialConfig(clientID, clientSecret)),
	)
	m.cli.RegisterChatBotCallbackRouter(m.onMessage)
	return m
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect opens the stream connection.
func (m *Mount) Connect(ctx context.Context) error {
	if err := m.cli.Start(ctx); err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("dingtalkmount: start stream: %w", err)
	}
	m.conn.MarkConnected()
	return nil
}

// Disconnect closes the stream connection.
func (m *Mount) Disconnect(ctx context.Context) error {
	m.cli.Close()
	m.conn.MarkDisconnected()
	return nil
}

// IsConnected reports transport health.
func (m *Mount) IsConnected() bool { return m.conn.Status == domain.StatusConnected }

func (m *Mount) onMessage(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	if !m.conn.IsAllowed(data.SenderStaffId) {
		return nil, nil
	}
	m.conn.RecordEventIn()
	m.mu.Lock()
	m.webhooks[data.ConversationId] = data.SessionWebhook
	m.mu.Unlock()

	id := joinRel(m.From(), data.ConversationId)
	err := m.pub.Publish(domain.EventUpdate, id).
		ContentType("text/plain").
		Value([]byte(data.Text.Content)).
		Instance(m.ID()).
		Do()
	if err != nil {
		logger.WarnCF(component, "inbound publish failed", map[string]interface{}{"conversation": data.ConversationId, "error": err.Error()})
	}
	return nil, nil
}

// OnQuery lists the conversations the mount has seen traffic from.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []vstore.Result
	for convID := range m.webhooks {
		if !vstore.MatchPattern(q.Expr, convID) {
			continue
		}
		results = append(results, vstore.Result{
			ID:    convID,
			Name:  convID,
			Type:  "conversation",
			Flags: vstore.FlagLeaf,
			Owner: m.ID(),
		})
	}
	m.conn.RecordQuery()
	return vstore.NewSliceIter(results, nil), nil
}

// OnPublish replies into the named conversation's session webhook.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	m.mu.Lock()
	webhook, ok := m.webhooks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("dingtalkmount: no session webhook for conversation %s", id)
	}
	if err := m.replier.SimpleReplyText(context.Background(), webhook, value); err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("dingtalkmount: reply to %s: %w", id, err)
	}
	m.conn.RecordEventOut()
	return nil
}

func joinRel(base, name string) string {
	if base == "/" || base == "" {
		return name
	}
	return base + "/" + name
}
