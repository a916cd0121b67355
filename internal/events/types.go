package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// MessageType represents different types of WebSocket messages
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePoolEvent   MessageType = "pool_event"
	MessageTypeError       MessageType = "error"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
)

// TopicPools receives every lifecycle notification; "pools:<id>" scopes
// to one pool.
const TopicPools = "pools"

// Name identifies a lifecycle notification.
type Name string

const (
	PoolCreated      Name = "pool_created"
	DepositAccepted  Name = "deposit_accepted"
	WinnerSelected   Name = "winner_selected"
	PrizeDistributed Name = "prize_distributed"
	PoolFinished     Name = "pool_finished"
)

// PoolEvent is one lifecycle notification. Fields beyond Name, PoolID
// and Timestamp are filled per event kind.
type PoolEvent struct {
	Name            Name            `json:"name"`
	PoolID          uint64          `json:"pool_id"`
	AssetAddress    string          `json:"asset_address,omitempty"`
	AssetLabel      string          `json:"asset_label,omitempty"`
	RequiredAmount  decimal.Decimal `json:"required_amount,omitempty"`
	MaxParticipants int             `json:"max_participants,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Participant     string          `json:"participant,omitempty"`
	Winner          string          `json:"winner,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Message represents a generic WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	PoolID    string      `json:"pool_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Error     string      `json:"error"`
	Code      int         `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionStats represents WebSocket connection statistics
type ConnectionStats struct {
	TotalConnections   int       `json:"total_connections"`
	ActiveConnections  int       `json:"active_connections"`
	TotalSubscriptions int       `json:"total_subscriptions"`
	MessagesSent       int64     `json:"messages_sent"`
	LastUpdate         time.Time `json:"last_update"`
}
