// Package dashboard fans price updates and system events out to any
// number of dashboard clients as JSON envelopes. A single goroutine
// owns the subscriber map, so no mutex is needed around it, and a slow
// client has its oldest buffered message dropped rather than stalling
// the broadcast for everyone else.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"btc-loan-sentinel/internal/bus"
	"btc-loan-sentinel/internal/model"
)

const subscriberBuffer = 100

// Envelope is the wire shape pushed to every dashboard client.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type subscriber struct {
	id int64
	ch chan []byte
}

// Broadcaster owns the subscriber set and serializes every price:update
// and system:event it receives into a JSON Envelope for delivery.
type Broadcaster struct {
	subscribers      map[int64]*subscriber
	subscriptionCh   chan *subscriber
	unsubscriptionCh chan int64
	envelopeCh       chan []byte
	started          atomic.Bool
	randIDGen        *rand.Rand
}

// NewBroadcaster wires a Broadcaster to the bus's price:update and
// system:event channels. Call Start to begin dispatching to clients.
func NewBroadcaster(b *bus.Bus) *Broadcaster {
	d := &Broadcaster{
		subscribers:      make(map[int64]*subscriber),
		subscriptionCh:   make(chan *subscriber, 10),
		unsubscriptionCh: make(chan int64, 10),
		envelopeCh:       make(chan []byte, 100),
		randIDGen:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	b.SubscribePriceUpdate(func(u model.PriceUpdate) {
		d.publish("price", u)
	})
	b.SubscribeSystemEvent(func(e model.SystemEvent) {
		d.publish("event", e)
	})

	return d
}

func (d *Broadcaster) publish(kind string, data any) {
	raw, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("marshal dashboard envelope failed")
		return
	}
	select {
	case d.envelopeCh <- raw:
	default:
		log.Warn().Str("kind", kind).Msg("dashboard envelope queue full, dropping")
	}
}

// Subscribe registers a new dashboard client sink and returns its
// channel plus an unsubscribe func.
func (d *Broadcaster) Subscribe() (<-chan []byte, func(), error) {
	if !d.started.Load() {
		return nil, nil, errors.New("dashboard: broadcaster not started")
	}

	sub := &subscriber{id: d.randIDGen.Int63(), ch: make(chan []byte, subscriberBuffer)}
	select {
	case d.subscriptionCh <- sub:
	default:
		return nil, nil, errors.New("dashboard: subscription queue full")
	}

	unsubscribe := func() {
		select {
		case d.unsubscriptionCh <- sub.id:
		default:
		}
	}
	return sub.ch, unsubscribe, nil
}

// Start begins the dispatch goroutine; it is idempotent, so calls after
// the first have no effect. Subscribe returns an error until Start has
// run.
func (d *Broadcaster) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer func() {
			for _, sub := range d.subscribers {
				close(sub.ch)
			}
			d.subscribers = make(map[int64]*subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sub := <-d.subscriptionCh:
				d.subscribers[sub.id] = sub
			case id := <-d.unsubscriptionCh:
				if sub, ok := d.subscribers[id]; ok {
					delete(d.subscribers, id)
					close(sub.ch)
				}
			case envelope := <-d.envelopeCh:
				// Apply subscriptions queued before this envelope so a
				// client that subscribed before the publish receives it.
				for drained := false; !drained; {
					select {
					case sub := <-d.subscriptionCh:
						d.subscribers[sub.id] = sub
					default:
						drained = true
					}
				}
				d.dispatch(envelope)
			}
		}
	}()
}

// dispatch delivers one envelope to every subscriber, dropping the
// oldest buffered message for a slow client rather than blocking.
func (d *Broadcaster) dispatch(envelope []byte) {
	for _, sub := range d.subscribers {
		select {
		case sub.ch <- envelope:
		default:
			<-sub.ch
			sub.ch <- envelope
		}
	}
}
