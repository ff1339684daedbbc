// Package wshub implements the WebSocket Hub (C9): the server-side
// connection registry, subscription protocol and broadcast queue that
// push dashboard clients connect to, per spec.md §4.9.
//
// Grounded on the teacher's internal/websocket package, which implements
// the client side of the same gorilla/websocket transport (dial, mutex-
// guarded conn, send/receive counters); the Hub is the server-side
// counterpart the teacher never needed since crankfire only drives load
// against someone else's WebSocket server.
package wshub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates the envelope's `type` field (§4.9).
type MessageType string

const (
	MsgPing              MessageType = "ping"
	MsgPong              MessageType = "pong"
	MsgSubscribe         MessageType = "subscribe"
	MsgUnsubscribe       MessageType = "unsubscribe"
	MsgMonitoringUpdate  MessageType = "monitoring_update"
	MsgStatusChange      MessageType = "status_change"
	MsgServerOnline      MessageType = "server_online"
	MsgServerOffline     MessageType = "server_offline"
	MsgConnectionInfo    MessageType = "connection_info"
	MsgSubscriptionAck   MessageType = "subscription_ack"
	MsgHeartbeat         MessageType = "heartbeat"
	MsgError             MessageType = "error"
)

// SupportedMessageTypes is sent in connection_info so clients know the
// full protocol vocabulary up front.
var SupportedMessageTypes = []MessageType{
	MsgPing, MsgPong, MsgSubscribe, MsgUnsubscribe, MsgMonitoringUpdate,
	MsgStatusChange, MsgServerOnline, MsgServerOffline, MsgConnectionInfo,
	MsgSubscriptionAck, MsgHeartbeat, MsgError,
}

// Envelope is the wire message shape of §4.9: {type, data, message_id,
// timestamp}.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals data and stamps a fresh message_id/timestamp.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{Type: t, Data: raw, MessageID: uuid.NewString(), Timestamp: time.Now().UTC()}, nil
}

// ConnectionInfoPayload is connection_info's data object.
type ConnectionInfoPayload struct {
	ConnectionID   string        `json:"connection_id"`
	SupportedTypes []MessageType `json:"supported_types"`
}

// SubscribePayload is subscribe's request data object.
type SubscribePayload struct {
	TargetIDs       []int64  `json:"target_ids,omitempty"`
	MetricKinds     []string `json:"metric_kinds,omitempty"`
	AlertLevels     []string `json:"alert_levels,omitempty"`
	UpdateIntervalS int      `json:"update_interval_s,omitempty"`
}

// SubscriptionAckPayload is subscription_ack's data object.
type SubscriptionAckPayload struct {
	Success      bool              `json:"success"`
	Subscription *SubscribePayload `json:"subscription"`
	Reason       string            `json:"reason,omitempty"`
}

// ErrorPayload is error's data object.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
