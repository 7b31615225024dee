/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/telemetry"
)

// streamedEvents are pushed to every connected frontend so progress bars
// and notices track the engine without polling.
var streamedEvents = []events.EventType{
	events.EventPlaybackState,
	events.EventNowPlaying,
	events.EventPlaybackEnded,
	events.EventPlaybackError,
	events.EventLeadInStarted,
	events.EventAutoAdvance,
	events.EventEntitlementDenied,
	events.EventCatalogRefreshed,
	events.EventPlanChanged,
	events.EventDeviceCommand,
	events.EventNotice,
}

func (a *API) handlePlayerStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIActiveConnections.Inc()
	defer telemetry.APIActiveConnections.Dec()

	subscribers := make([]events.Subscriber, 0, len(streamedEvents))
	for _, eventType := range streamedEvents {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range streamedEvents {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	// Initial snapshot so a reconnecting client renders immediately.
	if err := a.writeEvent(ctx, conn, events.EventPlaybackState, events.Payload{"state": a.engine.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, streamedEvents[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}
