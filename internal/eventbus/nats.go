/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to NATS so plan changes
// and catalog updates propagate across instances. Single-instance
// deployments run without it; the local bus alone is enough there.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_news/internal/events"
)

// SubjectPrefix namespaces every bridged event on the wire.
const SubjectPrefix = "mimir.events."

// nodeKey marks payloads that arrived from a remote node so the bridge does
// not forward them back out.
const nodeKey = "_node"

// BridgedEvents are the event types mirrored across instances. Device-level
// playback state stays local; it is meaningless on another node.
var BridgedEvents = []events.EventType{
	events.EventPlanChanged,
	events.EventCatalogRefreshed,
	events.EventCompanionResolved,
}

type envelope struct {
	Node    string           `json:"node"`
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
	SentAt  time.Time        `json:"sent_at"`
}

// Bridge mirrors selected local events to NATS and re-injects remote ones.
type Bridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string
	subs   []*nats.Subscription
}

// NewBridge connects to NATS. The connection retries forever in the
// background once established; the initial dial failure is returned so the
// caller can decide whether the bridge is required.
func NewBridge(url string, bus *events.Bus, logger zerolog.Logger) (*Bridge, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Bridge{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: uuid.NewString(),
	}, nil
}

// Start wires both directions and blocks until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	remote, err := b.conn.Subscribe(SubjectPrefix+">", b.handleRemote)
	if err != nil {
		return fmt.Errorf("subscribe to NATS: %w", err)
	}
	b.subs = append(b.subs, remote)

	local := make([]events.Subscriber, len(BridgedEvents))
	for i, et := range BridgedEvents {
		local[i] = b.bus.Subscribe(et)
	}
	defer func() {
		for i, et := range BridgedEvents {
			b.bus.Unsubscribe(et, local[i])
		}
	}()

	b.logger.Info().Str("node", b.nodeID).Msg("event bridge started")

	for i, et := range BridgedEvents {
		go b.forward(ctx, et, local[i])
	}

	<-ctx.Done()
	return ctx.Err()
}

func (b *Bridge) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			if _, remote := payload[nodeKey]; remote {
				continue
			}
			env := envelope{
				Node:    b.nodeID,
				Type:    eventType,
				Payload: payload,
				SentAt:  time.Now().UTC(),
			}
			data, err := json.Marshal(env)
			if err != nil {
				b.logger.Warn().Err(err).Str("type", string(eventType)).Msg("failed to marshal event")
				continue
			}
			if err := b.conn.Publish(SubjectPrefix+string(eventType), data); err != nil {
				b.logger.Warn().Err(err).Str("type", string(eventType)).Msg("failed to publish event")
			}
		}
	}
}

func (b *Bridge) handleRemote(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("discarding malformed event")
		return
	}
	if env.Node == b.nodeID {
		return
	}
	payload := env.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload[nodeKey] = env.Node
	b.bus.Publish(env.Type, payload)
}

// Close drains the connection.
func (b *Bridge) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Debug().Err(err).Msg("NATS drain failed")
	}
}
