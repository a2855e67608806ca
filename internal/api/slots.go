package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// slotView is one slot as reported by the API.
type slotView struct {
	Index        int            `json:"index"`
	Active       bool           `json:"active"`
	Advertising  bool           `json:"advertising"`
	Empty        bool           `json:"empty"`
	FrameType    string         `json:"frame_type,omitempty"`
	ServiceData  string         `json:"service_data,omitempty"`
	URL          string         `json:"url,omitempty"`
	Namespace    string         `json:"namespace,omitempty"`
	Instance     string         `json:"instance,omitempty"`
	Telemetry    *slotTelemetry `json:"telemetry,omitempty"`
	RadioTxPower int8           `json:"radio_tx_power"`
}

// slotTelemetry holds the readings of the last advertised TLM frame.
type slotTelemetry struct {
	BatteryMV   uint16   `json:"battery_mv"`
	Celsius     *float64 `json:"temperature_c,omitempty"`
	AdvCount    uint32   `json:"adv_count"`
	UptimeTicks uint32   `json:"uptime_ticks"`
}

// slotRequest is the body of PUT /slots/{index}.
//
//	{"frame_type": "url", "url": "https://example.com"}
//	{"frame_type": "uid", "namespace": "...", "instance": "..."}
//	{"frame_type": "tlm"}
//	{"value": "10036578616d706c6507"}
type slotRequest struct {
	FrameType string  `json:"frame_type"`
	URL       string  `json:"url"`
	Namespace string  `json:"namespace"`
	Instance  string  `json:"instance"`
	Value     *string `json:"value"`
}

func (r slotRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if r.FrameType == "" {
		return nil, errMissingField("frame_type")
	}
	ft, err := eddystone.ParseFrameType(r.FrameType)
	if err != nil {
		return nil, err
	}

	switch ft {
	case eddystone.FrameUID:
		ns, err := eddystone.ParseNamespace(r.Namespace)
		if err != nil {
			return nil, err
		}
		inst, err := eddystone.ParseInstance(r.Instance)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(ft)}, eddystone.UIDPayload(ns, inst)...), nil
	case eddystone.FrameURL:
		payload, err := eddystone.EncodeURL(r.URL)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(ft)}, payload...), nil
	case eddystone.FrameTLM:
		return []byte{byte(ft)}, nil
	default:
		return nil, fmt.Errorf("frame type %s cannot be configured", ft)
	}
}

// handleListSlots returns every slot.
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	views := make([]slotView, 0, s.state.Slots())
	for i := range s.state.Slots() {
		v, err := s.slotView(r.Context(), i)
		if err != nil {
			s.logger.Error("failed to read slot", "slot", i, "error", err)
			writeInternalError(w, "failed to read slots")
			return
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slots": views,
		"count": len(views),
	})
}

// handleGetSlot returns a single slot.
func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	index, ok := s.slotIndex(w, r)
	if !ok {
		return
	}
	s.respondSlot(w, r, index, http.StatusOK)
}

// handlePutSlot applies a slot data write. Writes the beacon cannot
// advertise are dropped and the unchanged slot is returned.
func (s *Server) handlePutSlot(w http.ResponseWriter, r *http.Request) {
	index, ok := s.slotIndex(w, r)
	if !ok {
		return
	}

	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, err := req.encode()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.configurator.WriteSlot(s.writeContext(r), index, value); err != nil {
		s.writeBeaconError(w, err)
		return
	}
	s.respondSlot(w, r, index, http.StatusOK)
}

// handleDeleteSlot clears a slot.
func (s *Server) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	index, ok := s.slotIndex(w, r)
	if !ok {
		return
	}

	if err := s.configurator.WriteSlot(s.writeContext(r), index, nil); err != nil {
		s.writeBeaconError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondSlot(w http.ResponseWriter, r *http.Request, index, status int) {
	v, err := s.slotView(r.Context(), index)
	if err != nil {
		s.logger.Error("failed to read slot", "slot", index, "error", err)
		writeInternalError(w, "failed to read slot")
		return
	}
	writeJSON(w, status, v)
}

// slotIndex parses the {index} URL parameter. Out-of-range indices are
// answered with 404 instead of being clamped.
func (s *Server) slotIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= s.state.Slots() {
		writeNotFound(w, "slot not found")
		return 0, false
	}
	return index, true
}

// slotView reads a slot. An empty or corrupt slot is reported as empty.
func (s *Server) slotView(ctx context.Context, index int) (slotView, error) {
	v := slotView{
		Index:        index,
		Active:       index == s.state.ActiveSlot(),
		RadioTxPower: s.state.RadioTxPower(index),
	}

	advertising, err := s.configurator.SlotAdvertising(ctx, index)
	if err != nil {
		return v, err
	}
	v.Advertising = advertising

	data, err := s.configurator.ReadSlot(ctx, index)
	if errors.Is(err, beacon.ErrSlotEmpty) {
		v.Empty = true
		return v, nil
	}
	if err != nil {
		return v, err
	}

	describeServiceData(&v, data)
	return v, nil
}

// describeServiceData fills the decoded fields of v from slot service data.
// Data the codec cannot parse is reported raw.
func describeServiceData(v *slotView, data []byte) {
	v.ServiceData = hex.EncodeToString(data)
	if len(data) == 0 {
		return
	}
	v.FrameType = eddystone.FrameType(data[0]).String()

	frame, err := eddystone.ParseServiceData(data)
	if err != nil {
		return
	}
	switch f := frame.(type) {
	case *eddystone.URLFrame:
		if u, err := f.URL(); err == nil {
			v.URL = u
		}
	case *eddystone.UIDFrame:
		v.Namespace = f.Namespace.String()
		v.Instance = f.Instance.String()
	case *eddystone.TLMFrame:
		v.Telemetry = &slotTelemetry{BatteryMV: f.BatteryMV, AdvCount: f.AdvCount, UptimeTicks: f.Uptime}
		if f.Temperature != eddystone.TemperatureUnsupported {
			c := f.Celsius()
			v.Telemetry.Celsius = &c
		}
	}
}
