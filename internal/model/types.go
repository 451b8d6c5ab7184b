// Package model defines the core data types shared across the price
// oracle, aggregator, and alert engine. Every monetary and ratio value
// uses decimal.Decimal to avoid floating-point drift accumulating across
// the aggregation and LTV pipelines.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies one of the three independent price feeds.
type Exchange int

const (
	Kraken Exchange = iota
	Coinbase
	Bitstamp
)

// String renders the exchange name used as the "sources" entry in a PriceUpdate.
func (e Exchange) String() string {
	switch e {
	case Kraken:
		return "kraken"
	case Coinbase:
		return "coinbase"
	case Bitstamp:
		return "bitstamp"
	default:
		return "unknown"
	}
}

// Direction is the side of a threshold an alert watches for a crossing into.
type Direction int

const (
	Above Direction = iota
	Below
)

func (d Direction) String() string {
	if d == Above {
		return "ABOVE"
	}
	return "BELOW"
}

// Confidence grades how tightly the contributing sources agree.
type Confidence int

const (
	High Confidence = iota
	Medium
	Low
)

func (c Confidence) String() string {
	switch c {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// RiskTier is a presentation-only classification of current LTV.
type RiskTier int

const (
	TierGreen RiskTier = iota
	TierYellow
	TierOrange
	TierRed
	TierLiquidation
)

func (t RiskTier) String() string {
	switch t {
	case TierGreen:
		return "GREEN"
	case TierYellow:
		return "YELLOW"
	case TierOrange:
		return "ORANGE"
	case TierRed:
		return "RED"
	case TierLiquidation:
		return "LIQUIDATION"
	default:
		return "UNKNOWN"
	}
}

// Loan is read-only to the core; it is registered and mutated by the
// chat/HTTP front end and only read here.
type Loan struct {
	Token          string          `validate:"required,len=48,hexadecimal"`
	LoanAmountUSD  decimal.Decimal `validate:"required"`
	BTCCollateral  decimal.Decimal `validate:"required"`
	MarginCallLTV  decimal.Decimal `validate:"required"`
	LiquidationLTV decimal.Decimal `validate:"required"`
	ChatID         int64           `validate:"required"`

	// Optional fields, irrelevant to the core's numeric pipeline.
	InterestRatePct decimal.Decimal
	EndDate         *time.Time
	Lender          string
}

// PriceAlert fires once, edge-triggered, when the live price crosses Threshold.
type PriceAlert struct {
	AlertID     string
	Token       string
	Threshold   decimal.Decimal
	Direction   Direction
	Triggered   bool
	TriggeredAt time.Time
}

// LtvAlert fires once, edge-triggered, when a loan's computed LTV crosses LTVThreshold.
type LtvAlert struct {
	AlertID      string
	Token        string
	LTVThreshold decimal.Decimal
	Direction    Direction
	Triggered    bool
	TriggeredAt  time.Time
}

// PriceUpdate is the canonical output of the aggregator/oracle: one
// validated market observation per poll tick.
type PriceUpdate struct {
	Price          decimal.Decimal
	TimestampMS    int64
	Sources        []string
	TWAP5m         decimal.Decimal
	Confidence     Confidence
	CircuitBreaker bool
}

// PriceSample is an aggregator-internal accepted observation retained
// for the TWAP window.
type PriceSample struct {
	Price               decimal.Decimal
	TimestampMS         int64
	ContributingSources []string
}

// SystemEventType classifies an emitted SystemEvent.
type SystemEventType int

const (
	EventPriceUpdate SystemEventType = iota
	EventCircuitBreaker
	EventSourceDegraded
	EventAlertTriggered
)

func (t SystemEventType) String() string {
	switch t {
	case EventPriceUpdate:
		return "PRICE_UPDATE"
	case EventCircuitBreaker:
		return "CIRCUIT_BREAKER"
	case EventSourceDegraded:
		return "SOURCE_DEGRADED"
	case EventAlertTriggered:
		return "ALERT_TRIGGERED"
	default:
		return "UNKNOWN"
	}
}

// SystemEvent is a diagnostic record published on the system:event channel
// and retained in the bus's ring buffer.
type SystemEvent struct {
	Type      SystemEventType
	Timestamp time.Time
	Fields    map[string]any
}

// AlertTriggerKind distinguishes which alert family fired, for the
// ALERT_TRIGGERED event payload.
type AlertTriggerKind string

const (
	TriggerPrice AlertTriggerKind = "price"
	TriggerLTV   AlertTriggerKind = "ltv"
)
