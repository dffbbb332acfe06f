package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

const (
	StreamEventReservationChange = "reservation-change"
	StreamEventPriceSampleChange = "price-sample-change"
	streamEventHeartbeat         = "heartbeat"
	defaultHeartbeatInterval     = 30 * time.Second
)

type streamEventPayload struct {
	Collection       string              `json:"collection"`
	Kind             string              `json:"kind"`
	EntityID         string              `json:"entity_id"`
	ReservationID    string              `json:"reservation_id,omitempty"`
	Reservation      *reservationPayload `json:"reservation,omitempty"`
	PriceSample      *priceSamplePayload `json:"price_sample,omitempty"`
	TimestampSeconds int64               `json:"timestamp_s"`
}

// handleStream serves the change feed over SSE. Without parameters it streams
// reservation events; with ?reservation_id= it streams that reservation's
// price sample events instead.
func (h *httpHandler) handleStream(c *gin.Context) {
	topic := trips.FeedTopic(trips.CollectionReservations, "")
	if reservationID := strings.TrimSpace(c.Query("reservation_id")); reservationID != "" {
		if _, err := h.trips.GetReservation(c.Request.Context(), reservationID); err != nil {
			h.respondServiceError(c, "failed to load reservation for stream", err)
			return
		}
		topic = trips.FeedTopic(trips.CollectionPriceSamples, reservationID)
	}

	ctx := c.Request.Context()
	stream, cleanup := h.feed.Subscribe(ctx, topic)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeStreamEvent(c, streamEventHeartbeat, []byte("{}"))
		case message, ok := <-stream:
			if !ok {
				return
			}
			data, err := json.Marshal(feedMessageToPayload(message))
			if err != nil {
				h.logger.Warn("failed to encode stream event", zap.Error(err))
				continue
			}
			writeStreamEvent(c, streamEventName(message.Collection), data)
		}
	}
}

func streamEventName(collection string) string {
	if collection == trips.CollectionPriceSamples {
		return StreamEventPriceSampleChange
	}
	return StreamEventReservationChange
}

func feedMessageToPayload(message trips.FeedMessage) streamEventPayload {
	payload := streamEventPayload{
		Collection:       message.Collection,
		Kind:             string(message.Kind),
		EntityID:         message.EntityID,
		ReservationID:    message.ReservationID,
		TimestampSeconds: message.Timestamp.Unix(),
	}
	if message.Reservation != nil {
		wire := reservationToPayload(*message.Reservation)
		payload.Reservation = &wire
	}
	if message.PriceSample != nil {
		wire := priceSampleToPayload(*message.PriceSample)
		payload.PriceSample = &wire
	}
	return payload
}

func writeStreamEvent(c *gin.Context, eventType string, data []byte) {
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data)
	c.Writer.Flush()
}
