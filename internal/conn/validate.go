package conn

import (
	"encoding/json"
	"errors"
	"fmt"

	"marketstream/internal/model"
)

// ErrInvalidPacket marks malformed payloads. Invalid packets are discarded
// and logged — they never mutate buffer or connection state.
var ErrInvalidPacket = errors.New("invalid packet")

// Validator parses and validates raw transport payloads against the declared
// group/series layout. A packet is accepted only if it carries a metadata
// block with a numeric timestamp and sequence id, and every declared group
// contains its expected named series as arrays (possibly empty).
type Validator struct {
	groups map[string][]string // group name → expected series names
}

// NewValidator creates a validator for the declared groups.
func NewValidator(groups map[string][]string) *Validator {
	return &Validator{groups: groups}
}

// wireMeta uses pointers to distinguish absent from zero.
type wireMeta struct {
	Timestamp  *int64  `json:"timestamp"`
	SequenceID *int64  `json:"sequenceId"`
	SessionTag *string `json:"sessionTag"`
}

// wirePoint is the on-the-wire [timestamp, value] pair.
type wirePoint [2]float64

// Parse decodes a raw payload into a DataPacket, rejecting anything that
// violates the packet contract.
func (v *Validator) Parse(data []byte) (model.DataPacket, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.DataPacket{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}

	metaRaw, ok := raw["metadata"]
	if !ok {
		return model.DataPacket{}, fmt.Errorf("%w: missing metadata block", ErrInvalidPacket)
	}
	var meta wireMeta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return model.DataPacket{}, fmt.Errorf("%w: malformed metadata: %v", ErrInvalidPacket, err)
	}
	if meta.Timestamp == nil {
		return model.DataPacket{}, fmt.Errorf("%w: metadata missing numeric timestamp", ErrInvalidPacket)
	}
	if meta.SequenceID == nil {
		return model.DataPacket{}, fmt.Errorf("%w: metadata missing numeric sequenceId", ErrInvalidPacket)
	}

	pkt := model.DataPacket{
		Meta: model.PacketMeta{
			Timestamp:  *meta.Timestamp,
			SequenceID: *meta.SequenceID,
		},
		Groups: make(map[string]map[string][]model.Point, len(raw)-1),
	}
	if meta.SessionTag != nil {
		pkt.Meta.SessionTag = *meta.SessionTag
	}

	for name, groupRaw := range raw {
		if name == "metadata" {
			continue
		}
		expected, declared := v.groups[name]
		if !declared {
			return model.DataPacket{}, fmt.Errorf("%w: undeclared group %q", ErrInvalidPacket, name)
		}

		var wire map[string][]wirePoint
		if err := json.Unmarshal(groupRaw, &wire); err != nil {
			return model.DataPacket{}, fmt.Errorf("%w: group %q malformed: %v", ErrInvalidPacket, name, err)
		}
		for _, seriesName := range expected {
			if _, ok := wire[seriesName]; !ok {
				return model.DataPacket{}, fmt.Errorf("%w: group %q missing series %q", ErrInvalidPacket, name, seriesName)
			}
		}

		group := make(map[string][]model.Point, len(wire))
		for seriesName, pts := range wire {
			points := make([]model.Point, len(pts))
			for i, wp := range pts {
				points[i] = model.Point{TS: int64(wp[0]), Value: wp[1]}
			}
			group[seriesName] = points
		}
		pkt.Groups[name] = group
	}

	return pkt, nil
}
