package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositRecorded
	EventTypeRedemptionQueued
	EventTypeRedemptionSettled
	EventTypeEmergencyRedemption
	EventTypeEpochClosed
	EventTypeYieldNotified
	EventTypeYieldDistributed
	EventTypeEpochStarted
	EventTypeFeesCollected
	EventTypeEmergencyWithdrawal
	EventTypeConfigChanged
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Unique event identifier (idempotency key for the log)
	EventID uuid.UUID

	// Event type discriminator
	Type EventType

	// User context (nil for epoch-lifecycle and admin events)
	User *uuid.UUID

	// Epoch the event was applied in
	Epoch uint64

	// Engine clock at apply time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of engine state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositRecorded:
		return "DepositRecorded"
	case EventTypeRedemptionQueued:
		return "RedemptionQueued"
	case EventTypeRedemptionSettled:
		return "RedemptionSettled"
	case EventTypeEmergencyRedemption:
		return "EmergencyRedemption"
	case EventTypeEpochClosed:
		return "EpochClosed"
	case EventTypeYieldNotified:
		return "YieldNotified"
	case EventTypeYieldDistributed:
		return "YieldDistributed"
	case EventTypeEpochStarted:
		return "EpochStarted"
	case EventTypeFeesCollected:
		return "FeesCollected"
	case EventTypeEmergencyWithdrawal:
		return "EmergencyWithdrawal"
	case EventTypeConfigChanged:
		return "ConfigChanged"
	default:
		return "Unknown"
	}
}

// ParseEventType maps a stored event type name back to its
// discriminator. Unrecognized names map to EventTypeUnknown.
func ParseEventType(name string) EventType {
	for et := EventTypeDepositRecorded; et <= EventTypeConfigChanged; et++ {
		if et.String() == name {
			return et
		}
	}
	return EventTypeUnknown
}

// MarshalPayload serializes an event payload to JSON. Payload structs
// carry amounts as decimal strings so 18-decimal values survive any
// downstream consumer.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
