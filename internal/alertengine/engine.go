// Package alertengine implements the Alert Engine (C4): two
// edge-detection loops, one over price alerts and one over LTV alerts,
// driven by every price:update delivered on the bus.
package alertengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/bus"
	"btc-loan-sentinel/internal/ltv"
	"btc-loan-sentinel/internal/model"
	"btc-loan-sentinel/internal/notify"
	"btc-loan-sentinel/internal/state"
)

// Engine owns the previous-price and previous-ltv-by-token scalars
// that make edge detection possible.
type Engine struct {
	bus      *bus.Bus
	store    state.Store
	notifier notify.Notifier

	mu               sync.Mutex
	previousPrice    decimal.Decimal
	previousLTVByTok map[string]decimal.Decimal

	now func() time.Time
}

// New wires an Engine and subscribes it to price:update immediately.
func New(b *bus.Bus, store state.Store, notifier notify.Notifier) *Engine {
	e := &Engine{
		bus:              b,
		store:            store,
		notifier:         notifier,
		previousLTVByTok: make(map[string]decimal.Decimal),
		now:              time.Now,
	}
	b.SubscribePriceUpdate(func(u model.PriceUpdate) {
		e.onPriceUpdate(context.Background(), u)
	})
	return e
}

func (e *Engine) onPriceUpdate(ctx context.Context, update model.PriceUpdate) {
	e.mu.Lock()
	prevPrice := e.previousPrice
	e.mu.Unlock()

	e.sweepPriceAlerts(ctx, prevPrice, update.Price)
	e.sweepLTVAlerts(ctx, update.Price)

	e.mu.Lock()
	e.previousPrice = update.Price
	e.mu.Unlock()

	if err := e.store.SetLastPrice(ctx, update); err != nil {
		log.Error().Err(err).Msg("persist last price failed")
	}
}

func (e *Engine) sweepPriceAlerts(ctx context.Context, prevPrice, currPrice decimal.Decimal) {
	alerts, err := e.store.GetAllPriceAlerts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load price alerts failed")
		return
	}

	for _, alert := range alerts {
		if alert.Triggered {
			continue
		}
		if !crosses(prevPrice, currPrice, alert.Threshold, alert.Direction) {
			continue
		}
		e.fire(ctx, alert.AlertID, alert.Token, model.TriggerPrice, alert.Direction, alert.Threshold, currPrice, e.triggerPrice)
	}
}

func (e *Engine) sweepLTVAlerts(ctx context.Context, currPrice decimal.Decimal) {
	loans, err := e.store.GetAllLoans(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load loans failed")
		return
	}

	currLTVByTok := make(map[string]decimal.Decimal, len(loans))
	for _, loan := range loans {
		currLTV, ok := ltv.Compute(loan.LoanAmountUSD, loan.BTCCollateral, currPrice)
		if !ok {
			continue
		}
		currLTVByTok[loan.Token] = currLTV
	}

	alerts, err := e.store.GetAllLTVAlerts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load ltv alerts failed")
		return
	}

	for _, alert := range alerts {
		if alert.Triggered {
			continue
		}
		currLTV, ok := currLTVByTok[alert.Token]
		if !ok {
			continue
		}

		e.mu.Lock()
		prevLTV, hasPrev := e.previousLTVByTok[alert.Token]
		e.mu.Unlock()
		if !hasPrev {
			prevLTV = decimal.Zero
		}

		if !crosses(prevLTV, currLTV, alert.LTVThreshold, alert.Direction) {
			continue
		}
		e.fire(ctx, alert.AlertID, alert.Token, model.TriggerLTV, alert.Direction, alert.LTVThreshold, currLTV, e.triggerLTV)
	}

	e.mu.Lock()
	for token, ltvValue := range currLTVByTok {
		e.previousLTVByTok[token] = ltvValue
	}
	e.mu.Unlock()
}

type triggerFunc func(ctx context.Context, alertID string) error

func (e *Engine) triggerPrice(ctx context.Context, alertID string) error {
	return e.store.TriggerPriceAlert(ctx, alertID)
}

func (e *Engine) triggerLTV(ctx context.Context, alertID string) error {
	return e.store.TriggerLTVAlert(ctx, alertID)
}

func (e *Engine) fire(ctx context.Context, alertID, token string, kind model.AlertTriggerKind, direction model.Direction, threshold, current decimal.Decimal, trigger triggerFunc) {
	if err := trigger(ctx, alertID); err != nil {
		log.Error().Err(err).Str("alert_id", alertID).Msg("mark alert triggered failed")
		return
	}

	loan, ok, err := e.store.GetLoan(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("load loan for notification failed")
	}

	var text string
	if kind == model.TriggerLTV {
		text = notify.RenderLTVAlertText(token, direction.String(), threshold, current)
	} else {
		text = notify.RenderPriceAlertText(token, direction.String(), threshold, current)
	}

	if ok {
		if err := e.notifier.Notify(ctx, loan.ChatID, text); err != nil {
			log.Error().Err(err).Str("alert_id", alertID).Msg("notify failed, alert remains triggered")
		}
	}

	e.bus.PublishSystemEvent(model.SystemEvent{
		Type: model.EventAlertTriggered,
		Fields: map[string]any{
			"type":      string(kind),
			"alert_id":  alertID,
			"value":     current,
			"threshold": threshold,
		},
	})
}

// crosses is the shared price/LTV crossing rule: the prev=0 clauses
// let the very first observation act as a fresh boundary, so an alert
// created while the world is already past its threshold fires once on
// the first tick it's evaluated.
func crosses(prev, curr, threshold decimal.Decimal, direction model.Direction) bool {
	switch direction {
	case model.Below:
		if prev.IsPositive() {
			return prev.GreaterThanOrEqual(threshold) && curr.LessThan(threshold)
		}
		return curr.LessThan(threshold)
	case model.Above:
		if prev.IsPositive() {
			return prev.LessThanOrEqual(threshold) && curr.GreaterThan(threshold)
		}
		return curr.GreaterThan(threshold)
	default:
		return false
	}
}
