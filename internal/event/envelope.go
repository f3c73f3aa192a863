package event

import (
	"time"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Admin
	EventTypeSetAsset
	EventTypeResetIndexes
	EventTypeSetPremiumRate
	EventTypeSetBonusRate
	EventTypeFundBonus

	// Funds
	EventTypeBuyerDeposit
	EventTypeBuyerWithdraw
	EventTypeSellerDeposit
	EventTypeSellerWithdraw
	EventTypeGuarantorDeposit
	EventTypeGuarantorWithdraw

	// Positions
	EventTypeSubscribe
	EventTypeChangeBasket

	// Per-epoch
	EventTypeBeforeUpdate
	EventTypeUpdateGuarantorBonus
	EventTypeUpdateSellerBonus
	EventTypeGuarantorUpdatePremium
	EventTypeSellerUpdatePremium
	EventTypeBuyerUpdate
	EventTypeSellerUpdate
	EventTypeEpochSettle
)

var eventTypeNames = map[EventType]string{
	EventTypeSetAsset:               "SetAsset",
	EventTypeResetIndexes:           "ResetIndexes",
	EventTypeSetPremiumRate:         "SetPremiumRate",
	EventTypeSetBonusRate:           "SetBonusRate",
	EventTypeFundBonus:              "FundBonus",
	EventTypeBuyerDeposit:           "BuyerDeposit",
	EventTypeBuyerWithdraw:          "BuyerWithdraw",
	EventTypeSellerDeposit:          "SellerDeposit",
	EventTypeSellerWithdraw:         "SellerWithdraw",
	EventTypeGuarantorDeposit:       "GuarantorDeposit",
	EventTypeGuarantorWithdraw:      "GuarantorWithdraw",
	EventTypeSubscribe:              "Subscribe",
	EventTypeChangeBasket:           "ChangeBasket",
	EventTypeBeforeUpdate:           "BeforeUpdate",
	EventTypeUpdateGuarantorBonus:   "UpdateGuarantorBonus",
	EventTypeUpdateSellerBonus:      "UpdateSellerBonus",
	EventTypeGuarantorUpdatePremium: "GuarantorUpdatePremium",
	EventTypeSellerUpdatePremium:    "SellerUpdatePremium",
	EventTypeBuyerUpdate:            "BuyerUpdate",
	EventTypeSellerUpdate:           "SellerUpdate",
	EventTypeEpochSettle:            "EpochSettle",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType returns the type for a command name such as "BuyerDeposit".
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// EventTypes returns every known command type in declaration order.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeSetAsset; et <= EventTypeEpochSettle; et++ {
		out = append(out, et)
	}
	return out
}

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Category context (nil for global commands)
	CategoryID *uint32

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface every command implements
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// CategoryID returns the category context (nil for global commands)
	CategoryID() *uint32

	// SourceSequence returns the upstream ordering key, 0 when unsequenced
	SourceSequence() int64

	// TimestampMicros is the versioned input time the command applies at
	TimestampMicros() int64
}

// Meta carries the fields every command shares.
type Meta struct {
	CommandID string
	Sequence  int64
	Timestamp int64 // epoch microseconds (versioned input)
}

func (m Meta) IdempotencyKey() string {
	return m.CommandID
}

func (m Meta) SourceSequence() int64 {
	return m.Sequence
}

func (m Meta) TimestampMicros() int64 {
	return m.Timestamp
}

func category(id uint32) *uint32 {
	return &id
}
