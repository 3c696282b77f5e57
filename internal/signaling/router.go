package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/hallway/hallway/internal/metrics"
	"github.com/hallway/hallway/internal/presence"
)

// Deliverer hands an event to a single connection and reports whether that
// connection was still attached to the hub.
type Deliverer interface {
	Deliver(connID string, ev presence.Event) bool
}

// Router forwards addressed session-negotiation messages between connections.
// It performs no room membership checks: possession of a target's connection
// ID is the capability to signal it, and room IDs are unguessable.
type Router struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	deliverer Deliverer
}

func NewRouter(log *slog.Logger, m *metrics.Metrics, d Deliverer) *Router {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = &metrics.Metrics{}
	}
	return &Router{log: log, metrics: m, deliverer: d}
}

// Relay validates the payload for its kind and forwards it to the target,
// stamped with the sender's connection ID. A target that is no longer
// connected is a silent drop; only malformed payloads are reported back to
// the caller.
func (r *Router) Relay(senderID, targetID, kind string, payload json.RawMessage) error {
	if err := validateSignalPayload(kind, payload); err != nil {
		r.metrics.Inc(metrics.DropReasonBadSignal)
		return err
	}

	if !r.deliverer.Deliver(targetID, presence.Signal(senderID, kind, payload)) {
		r.metrics.Inc(metrics.DropReasonTargetGone)
		r.log.Debug("relay target gone", "from", senderID, "target", targetID, "kind", kind)
		return nil
	}

	r.metrics.Inc(metrics.SignalRelayed)
	return nil
}

// validateSignalPayload checks that the opaque payload decodes as the WebRTC
// structure its kind claims before it is forwarded: offers and answers as a
// webrtc.SessionDescription whose SDP type matches the kind, candidates as a
// webrtc.ICECandidateInit. The server never interprets the SDP body itself.
func validateSignalPayload(kind string, payload json.RawMessage) error {
	switch kind {
	case SignalKindOffer, SignalKindAnswer:
		var desc webrtc.SessionDescription
		if err := decodeStrictJSON(payload, &desc); err != nil {
			return fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if desc.Type.String() != kind {
			return fmt.Errorf("%s payload has sdp type %q", kind, desc.Type)
		}
		if desc.SDP == "" {
			return fmt.Errorf("%s payload missing sdp", kind)
		}
	case SignalKindCandidate:
		// An empty candidate string signals end-of-candidates and is forwarded
		// as-is.
		var init webrtc.ICECandidateInit
		if err := decodeStrictJSON(payload, &init); err != nil {
			return fmt.Errorf("invalid candidate payload: %w", err)
		}
	default:
		return fmt.Errorf("unsupported signal kind %q", kind)
	}
	return nil
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
