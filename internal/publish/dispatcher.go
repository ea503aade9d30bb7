package publish

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Message is one published payload as delivered to in-process subscribers.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber is an in-process client subscription to a set of topics.
//
// Each subscriber has its own buffered channel; a subscriber that stops
// draining loses its oldest buffered message, never the newest.
type Subscriber struct {
	id     int64
	ch     chan Message
	topics map[string]struct{}
}

// Messages returns the subscriber's delivery channel. It is closed on
// unsubscribe and on dispatcher shutdown.
func (s *Subscriber) Messages() <-chan Message {
	return s.ch
}

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	// MaxTopicsAllowed caps topics per subscription to prevent resource
	// abuse. Zero selects a default of 100.
	MaxTopicsAllowed int

	// SubscriberBuffer is the per-subscriber channel capacity. Zero
	// selects a default of 100.
	SubscriberBuffer int
}

// Dispatcher implements fan-out distribution of published messages to
// in-process subscribers.
//
// The dispatcher follows the actor pattern: a single goroutine owns the
// subscriber map, so subscription management and delivery need no mutex.
// External interactions happen through buffered channels, which also keeps
// the publishing ingestion path from blocking on subscriber bookkeeping.
type Dispatcher struct {
	cfg              DispatcherConfig
	subscribers      map[int64]*Subscriber
	subscriptionCh   chan *Subscriber
	unsubscriptionCh chan *Subscriber
	publishCh        chan Message
	started          atomic.Bool
	randIDGen        *rand.Rand
}

// NewDispatcher creates a dispatcher with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxTopicsAllowed <= 0 {
		cfg.MaxTopicsAllowed = 100
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 100
	}
	return &Dispatcher{
		cfg:              cfg,
		subscribers:      make(map[int64]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10),
		unsubscriptionCh: make(chan *Subscriber, 10),
		publishCh:        make(chan Message, 1024),
		randIDGen:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe creates a subscription for the given topics.
func (d *Dispatcher) Subscribe(topics []string) (*Subscriber, error) {
	if !d.started.Load() {
		return nil, errors.New("dispatcher not started")
	}
	if len(topics) == 0 {
		return nil, errors.New("no topics given")
	}
	if len(topics) > d.cfg.MaxTopicsAllowed {
		return nil, fmt.Errorf("requested %d topics, maximum allowed %d", len(topics), d.cfg.MaxTopicsAllowed)
	}

	topicSet := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		topicSet[topic] = struct{}{}
	}

	sub := &Subscriber{
		id:     d.randIDGen.Int63(),
		ch:     make(chan Message, d.cfg.SubscriberBuffer),
		topics: topicSet,
	}

	select {
	case d.subscriptionCh <- sub:
	default:
		return nil, errors.New("subscription channel is full")
	}
	return sub, nil
}

// Unsubscribe removes a subscriber and releases its channel.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case d.unsubscriptionCh <- sub:
		return nil
	default:
		return errors.New("unsubscription channel is full")
	}
}

// Publish implements Publisher: the payload is marshaled once and queued
// for the dispatch goroutine. When the queue is full the message is
// dropped rather than blocking the ingestion path.
func (d *Dispatcher) Publish(_ context.Context, topic string, payload any) error {
	if !d.started.Load() {
		return errors.New("dispatcher not started")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	select {
	case d.publishCh <- Message{Topic: topic, Payload: data}:
		return nil
	default:
		log.Warn().Str("topic", topic).Msg("dispatch queue full, dropping message")
		return nil
	}
}

// Start launches the dispatch goroutine. It returns an error if the
// dispatcher is already running.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			for _, sub := range d.subscribers {
				close(sub.ch)
			}
			d.subscribers = make(map[int64]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case sub := <-d.subscriptionCh:
				d.subscribers[sub.id] = sub
			case sub := <-d.unsubscriptionCh:
				if _, ok := d.subscribers[sub.id]; ok {
					delete(d.subscribers, sub.id)
					close(sub.ch)
				}
			case msg := <-d.publishCh:
				d.dispatch(msg)
			}
		}
	}()
	return nil
}

// dispatch delivers a message to every subscriber of its topic. Only the
// dispatch goroutine calls this, so the subscriber map needs no locking.
//
// Slow clients: a full subscriber channel loses its oldest buffered
// message so the newest is always delivered.
func (d *Dispatcher) dispatch(msg Message) {
	for _, sub := range d.subscribers {
		if _, ok := sub.topics[msg.Topic]; !ok {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Debug().Str("topic", msg.Topic).Int64("subscriber", sub.id).
				Msg("subscriber too slow, dropping oldest buffered message")
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
}
