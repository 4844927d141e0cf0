package bridge

import (
	"strconv"

	"github.com/linjuya-lu/fsr_bridge_go/internal/profile"
	"github.com/linjuya-lu/fsr_bridge_go/internal/protocol"
)

// Messages sent to clients. Map keys are decimal sensor IDs; encoding/json
// writes them sorted and without whitespace.

type valuesMessage struct {
	Values map[string]protocol.Pair `json:"values"`
}

type thresholdsMessage struct {
	Thresholds map[string]profile.Threshold `json:"thresholds"`
}

type activeProfileMessage struct {
	Thresholds    map[string]profile.Threshold `json:"thresholds"`
	ActiveProfile string                       `json:"activeProfile"`
}

type secondaryProfileMessage struct {
	Thresholds       map[string]profile.Threshold `json:"thresholds"`
	SecondaryProfile *string                      `json:"secondaryProfile"`
}

type sensorInfo struct {
	Group int    `json:"group"`
	Label string `json:"label"`
}

type profileInfo struct {
	Name   string `json:"name"`
	Groups []int  `json:"groups"`
}

type snapshotMessage struct {
	Sensors          []sensorInfo                 `json:"sensors"`
	Thresholds       map[string]profile.Threshold `json:"thresholds"`
	Profiles         []profileInfo                `json:"profiles"`
	ActiveProfile    string                       `json:"activeProfile"`
	SecondaryProfile *string                      `json:"secondaryProfile"`
}

func thresholdMap(ts []profile.Threshold) map[string]profile.Threshold {
	m := make(map[string]profile.Threshold, len(ts))
	for id, t := range ts {
		m[strconv.Itoa(id)] = t
	}
	return m
}

func (h *Hub) secondaryName() *string {
	if name, ok := h.profiles.Secondary(); ok {
		return &name
	}
	return nil
}

func (h *Hub) snapshot() snapshotMessage {
	sensors := h.reg.Sensors()
	infos := make([]sensorInfo, len(sensors))
	for i, s := range sensors {
		infos[i] = sensorInfo{Group: s.Group, Label: s.Label}
	}

	names := h.profiles.Names()
	profiles := make([]profileInfo, len(names))
	for i, name := range names {
		profiles[i] = profileInfo{Name: name, Groups: h.profiles.Groups(name, h.sensorGroups)}
	}

	return snapshotMessage{
		Sensors:          infos,
		Thresholds:       thresholdMap(h.profiles.EffectiveAll()),
		Profiles:         profiles,
		ActiveProfile:    h.profiles.Active(),
		SecondaryProfile: h.secondaryName(),
	}
}
