package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/fsr_bridge_go/internal/profile"
)

// Command is one client request. The concrete types are SetThreshold,
// ChangeThreshold, SetActiveProfile and SetSecondaryProfile.
type Command interface {
	command() string
}

// SetThreshold stores Threshold for sensor ID in whichever selected
// profile owns it.
type SetThreshold struct {
	ID        int
	Threshold int
}

// ChangeThreshold adjusts the effective threshold of sensor ID by Delta.
type ChangeThreshold struct {
	ID    int
	Delta int
}

// SetActiveProfile selects Name, creating it when unknown.
type SetActiveProfile struct {
	Name string
}

// SetSecondaryProfile layers Name under the active profile. A nil Name
// clears the secondary.
type SetSecondaryProfile struct {
	Name *string
}

func (SetThreshold) command() string        { return keySetThreshold }
func (ChangeThreshold) command() string     { return keyChangeThreshold }
func (SetActiveProfile) command() string    { return keySetActiveProfile }
func (SetSecondaryProfile) command() string { return keySetSecondaryProfile }

const (
	keySetThreshold        = "setThreshold"
	keyChangeThreshold     = "changeThreshold"
	keySetActiveProfile    = "setActiveProfile"
	keySetSecondaryProfile = "setSecondaryProfile"
)

// DecodeCommands parses one client message. A message may carry several
// commands; they are returned in the order setThreshold, changeThreshold,
// setActiveProfile, setSecondaryProfile. Sensor IDs are checked against
// sensors. Any invalid part rejects the whole message.
func DecodeCommands(data []byte, sensors int) ([]Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, invalid("message is not a JSON object", err)
	}

	var cmds []Command
	if raw, ok := fields[keySetThreshold]; ok {
		var body struct {
			ID        *int `json:"id"`
			Threshold *int `json:"threshold"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, invalid(keySetThreshold, err)
		}
		if body.ID == nil || body.Threshold == nil {
			return nil, invalid(keySetThreshold+" requires id and threshold", nil)
		}
		if err := checkID(*body.ID, sensors); err != nil {
			return nil, err
		}
		cmds = append(cmds, SetThreshold{ID: *body.ID, Threshold: *body.Threshold})
	}

	if raw, ok := fields[keyChangeThreshold]; ok {
		var body struct {
			ID    *int `json:"id"`
			Delta *int `json:"delta"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, invalid(keyChangeThreshold, err)
		}
		if body.ID == nil || body.Delta == nil {
			return nil, invalid(keyChangeThreshold+" requires id and delta", nil)
		}
		if err := checkID(*body.ID, sensors); err != nil {
			return nil, err
		}
		cmds = append(cmds, ChangeThreshold{ID: *body.ID, Delta: *body.Delta})
	}

	if raw, ok := fields[keySetActiveProfile]; ok {
		var name *string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, invalid(keySetActiveProfile, err)
		}
		if name == nil || *name == "" {
			return nil, invalid(keySetActiveProfile+" requires a profile name", nil)
		}
		if err := profile.CheckName(*name); err != nil {
			return nil, invalid(keySetActiveProfile, err)
		}
		cmds = append(cmds, SetActiveProfile{Name: *name})
	}

	if raw, ok := fields[keySetSecondaryProfile]; ok {
		var name *string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, invalid(keySetSecondaryProfile, err)
		}
		if name != nil && *name == "" {
			name = nil
		}
		if name != nil {
			if err := profile.CheckName(*name); err != nil {
				return nil, invalid(keySetSecondaryProfile, err)
			}
		}
		cmds = append(cmds, SetSecondaryProfile{Name: name})
	}

	if len(cmds) == 0 {
		return nil, invalid("no known command in message", nil)
	}
	return cmds, nil
}

func checkID(id, sensors int) error {
	if id < 0 || id >= sensors {
		return invalid(fmt.Sprintf("sensor id %d out of range [0,%d)", id, sensors), nil)
	}
	return nil
}

func invalid(msg string, err error) error {
	return errors.NewCommonEdgeX(errors.KindContractInvalid, msg, err)
}
