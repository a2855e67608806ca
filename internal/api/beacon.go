package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
)

// Characteristic write requests accept either a typed field or "value",
// the raw characteristic bytes as hex. "value" wins when both are set.

type activeSlotRequest struct {
	Slot  *int    `json:"slot"`
	Value *string `json:"value"`
}

func (r activeSlotRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if r.Slot == nil {
		return nil, errMissingField("slot")
	}
	if *r.Slot < 0 || *r.Slot > 0xFF {
		return nil, fmt.Errorf("slot %d out of range", *r.Slot)
	}
	return []byte{byte(*r.Slot)}, nil
}

type advIntervalRequest struct {
	IntervalMS *int    `json:"interval_ms"`
	Value      *string `json:"value"`
}

func (r advIntervalRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if r.IntervalMS == nil {
		return nil, errMissingField("interval_ms")
	}
	if *r.IntervalMS < 0 || *r.IntervalMS > 0xFFFF {
		return nil, fmt.Errorf("interval_ms %d out of range", *r.IntervalMS)
	}
	v := uint16(*r.IntervalMS)
	return []byte{byte(v >> 8), byte(v)}, nil
}

// txPowerRequest addresses the active slot unless Slot is set.
type txPowerRequest struct {
	DBm   *int    `json:"dbm"`
	Slot  *int    `json:"slot"`
	Value *string `json:"value"`
}

func (r txPowerRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if r.DBm == nil {
		return nil, errMissingField("dbm")
	}
	if *r.DBm < -128 || *r.DBm > 127 {
		return nil, fmt.Errorf("dbm %d out of range", *r.DBm)
	}
	return []byte{byte(int8(*r.DBm))}, nil
}

type remainConnectableRequest struct {
	Enabled *bool   `json:"enabled"`
	Value   *string `json:"value"`
}

func (r remainConnectableRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if r.Enabled == nil {
		return nil, errMissingField("enabled")
	}
	if *r.Enabled {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

// lockRequest sets the lock state. NewKey replaces the lock key and is
// only valid with state "locked".
type lockRequest struct {
	State  string  `json:"state"`
	NewKey string  `json:"new_key"`
	Value  *string `json:"value"`
}

func (r lockRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if r.State == "" {
		return nil, errMissingField("state")
	}
	ls, err := beacon.ParseLockState(r.State)
	if err != nil {
		return nil, err
	}
	out := []byte{byte(ls)}
	if r.NewKey != "" {
		if ls != beacon.Locked {
			return nil, errors.New("new_key requires state locked")
		}
		key, err := decodeHexValue(r.NewKey)
		if err != nil {
			return nil, err
		}
		out = append(out, key...)
	}
	return out, nil
}

type unlockRequest struct {
	Key string `json:"key"`
}

type factoryResetRequest struct {
	Confirm bool    `json:"confirm"`
	Value   *string `json:"value"`
}

func (r factoryResetRequest) encode() ([]byte, error) {
	if r.Value != nil {
		return decodeHexValue(*r.Value)
	}
	if !r.Confirm {
		return nil, errMissingField("confirm")
	}
	return []byte{beacon.FactoryResetMagic}, nil
}

// valueEncoder turns a write request into characteristic bytes.
type valueEncoder interface {
	encode() ([]byte, error)
}

// beaconStatusResponse is the body of GET /beacon.
type beaconStatusResponse struct {
	beacon.Status
	Lock                  string `json:"lock"`
	Slots                 int    `json:"slots"`
	ActiveSlotAdvertising bool   `json:"active_slot_advertising"`
}

// handleBeaconStatus returns the machine status and the beacon state.
func (s *Server) handleBeaconStatus(w http.ResponseWriter, r *http.Request) {
	advertising, err := s.configurator.ActiveSlotAdvertising(r.Context())
	if err != nil {
		s.logger.Error("failed to read active slot", "error", err)
		writeInternalError(w, "failed to read active slot")
		return
	}

	status := s.machine.Status()
	writeJSON(w, http.StatusOK, beaconStatusResponse{
		Status:                status,
		Lock:                  status.State.LockState.String(),
		Slots:                 s.state.Slots(),
		ActiveSlotAdvertising: advertising,
	})
}

// capabilitiesResponse is the body of GET /beacon/capabilities.
type capabilitiesResponse struct {
	Raw           string `json:"raw"`
	Version       uint8  `json:"version"`
	MaxSlots      uint8  `json:"max_slots"`
	MaxEIDSlots   uint8  `json:"max_eid_slots"`
	Capabilities  uint8  `json:"capabilities"`
	FrameTypes    uint16 `json:"supported_frame_types"`
	TxPowerLevels []int8 `json:"tx_power_levels"`
}

// handleCapabilities returns the broadcast capabilities characteristic,
// raw and decoded.
func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	raw := s.configurator.Capabilities()
	writeJSON(w, http.StatusOK, capabilitiesResponse{
		Raw:           hex.EncodeToString(raw),
		Version:       raw[0],
		MaxSlots:      raw[1],
		MaxEIDSlots:   raw[2],
		Capabilities:  raw[3],
		FrameTypes:    uint16(raw[4])<<8 | uint16(raw[5]),
		TxPowerLevels: s.state.TxPowerLevels(),
	})
}

func (s *Server) handleSetActiveSlot(w http.ResponseWriter, r *http.Request) {
	var req activeSlotRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteActiveSlot(ctx, v)
	})
}

func (s *Server) handleSetAdvInterval(w http.ResponseWriter, r *http.Request) {
	var req advIntervalRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteAdvInterval(ctx, v)
	})
}

func (s *Server) handleSetRadioTxPower(w http.ResponseWriter, r *http.Request) {
	var req txPowerRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteRadioTxPower(ctx, s.targetSlot(req.Slot), v)
	})
}

func (s *Server) handleSetAdvTxPower(w http.ResponseWriter, r *http.Request) {
	var req txPowerRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteAdvTxPower(ctx, s.targetSlot(req.Slot), v)
	})
}

func (s *Server) handleSetRemainConnectable(w http.ResponseWriter, r *http.Request) {
	var req remainConnectableRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteRemainConnectable(ctx, v)
	})
}

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteLockState(ctx, v)
	})
}

// handleUnlock compares the supplied key with the stored lock key.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	key, err := decodeHexValue(req.Key)
	if err != nil {
		writeBadRequest(w, "key: "+err.Error())
		return
	}

	if err := s.configurator.Unlock(s.writeContext(r), key); err != nil {
		s.writeBeaconError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleFactoryReset clears every slot and the lock key.
func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	var req factoryResetRequest
	s.applyWrite(w, r, &req, func(ctx context.Context, v []byte) error {
		return s.configurator.WriteFactoryReset(ctx, v)
	})
}

// applyWrite decodes a JSON write request into req, encodes it as
// characteristic bytes and applies it with write. On success the current
// beacon state is returned.
func (s *Server) applyWrite(w http.ResponseWriter, r *http.Request, req valueEncoder, write func(context.Context, []byte) error) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, err := req.encode()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := write(s.writeContext(r), value); err != nil {
		s.writeBeaconError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// writeContext tags the request context as an HTTP configuration write.
func (s *Server) writeContext(r *http.Request) context.Context {
	return beacon.WithSource(r.Context(), "http")
}

// targetSlot resolves an optional slot field to the active slot.
func (s *Server) targetSlot(slot *int) int {
	if slot == nil {
		return s.state.ActiveSlot()
	}
	return *slot
}

func decodeHexValue(v string) ([]byte, error) {
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("value is not hex: %w", err)
	}
	return b, nil
}

func errMissingField(name string) error {
	return fmt.Errorf("%s or value is required", name)
}
