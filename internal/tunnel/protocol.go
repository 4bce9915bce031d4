package tunnel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starksama/herald/internal/domain"
)

// ClientMessage is a tagged union of the frames an agent may send, selected
// by Type: Token is set for auth, DeliveryID for ack, and pong carries neither.
type ClientMessage struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

const (
	ClientMsgAuth = "auth"
	ClientMsgAck  = "ack"
	ClientMsgPong = "pong"
)

// ParseClientMessage decodes a client frame and rejects unknown tags, per
// §9's "deserialization rejects unknown tags."
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ClientMessage{}, err
	}
	switch m.Type {
	case ClientMsgAuth, ClientMsgAck, ClientMsgPong:
		return m, nil
	default:
		return ClientMessage{}, fmt.Errorf("tunnel: unknown client message type %q", m.Type)
	}
}

// TunnelSignal is the signal payload embedded in a ServerMessage of type
// "signal".
type TunnelSignal struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Urgency   domain.Urgency  `json:"urgency"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

func ToTunnelSignal(s *domain.Signal) TunnelSignal {
	return TunnelSignal{
		ID:        s.ID,
		Title:     s.Title,
		Body:      s.Body,
		Urgency:   s.Urgency,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
	}
}

// ServerMessage is a tagged union of the frames the server may send.
type ServerMessage struct {
	Type string `json:"type"`

	// auth_ok
	ConnectionID string `json:"connection_id,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`

	// auth_error
	Message string `json:"message,omitempty"`

	// signal
	DeliveryID  string        `json:"delivery_id,omitempty"`
	ChannelID   string        `json:"channel_id,omitempty"`
	ChannelSlug string        `json:"channel_slug,omitempty"`
	Signal      *TunnelSignal `json:"signal,omitempty"`
}

const (
	ServerMsgAuthOK    = "auth_ok"
	ServerMsgAuthError = "auth_error"
	ServerMsgSignal    = "signal"
	ServerMsgPing      = "ping"
)

func AuthOK(connectionID, subscriberID string) ServerMessage {
	return ServerMessage{Type: ServerMsgAuthOK, ConnectionID: connectionID, SubscriberID: subscriberID}
}

func AuthError(message string) ServerMessage {
	return ServerMessage{Type: ServerMsgAuthError, Message: message}
}

func SignalMessage(deliveryID, channelID, channelSlug string, sig TunnelSignal) ServerMessage {
	return ServerMessage{
		Type:        ServerMsgSignal,
		DeliveryID:  deliveryID,
		ChannelID:   channelID,
		ChannelSlug: channelSlug,
		Signal:      &sig,
	}
}

func Ping() ServerMessage {
	return ServerMessage{Type: ServerMsgPing}
}

// Encode marshals a ServerMessage to the bytes pushed onto a registry
// connection's outbound channel.
func Encode(m ServerMessage) ([]byte, error) {
	return json.Marshal(m)
}
