// Package profile holds the named threshold profiles and the
// active/secondary selection. A Set is not safe for concurrent use; the
// bridge hub owns it from a single goroutine.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

const (
	// DefaultThreshold fills new profiles and pads short ones.
	DefaultThreshold = 500
	// GuestProfile is created when nothing could be loaded.
	GuestProfile = "Guest"
)

// Profile is a full vector of per-sensor thresholds.
type Profile struct {
	Name       string
	Thresholds []Threshold
}

func newProfile(name string, size int) *Profile {
	p := &Profile{Name: name, Thresholds: make([]Threshold, size)}
	for i := range p.Thresholds {
		p.Thresholds[i] = Value(DefaultThreshold)
	}
	return p
}

// CheckName rejects names that cannot be stored on one line of
// profiles.txt and read back unchanged.
func CheckName(name string) error {
	switch {
	case name == "":
		return errors.NewCommonEdgeX(errors.KindContractInvalid, "profile name is empty", nil)
	case strings.ContainsAny(name, ",\r\n"):
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("profile name %q contains a comma or line break", name), nil)
	case strings.TrimSpace(name) != name:
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("profile name %q has surrounding whitespace", name), nil)
	}
	return nil
}

// Governs reports which sensor slots the profile sets.
func (p *Profile) Governs(id int) bool {
	return id >= 0 && id < len(p.Thresholds) && p.Thresholds[id].IsSet()
}

// Set is the collection of profiles plus the current selection.
type Set struct {
	lc        logger.LoggingClient
	size      int
	profiles  map[string]*Profile
	active    string
	secondary string
}

// NewSet returns a set holding only the Guest profile.
func NewSet(size int, lc logger.LoggingClient) *Set {
	s := &Set{lc: lc, size: size, profiles: make(map[string]*Profile)}
	s.ensureActive()
	return s
}

func (s *Set) ensureActive() {
	if s.active != "" {
		return
	}
	s.active = GuestProfile
	if _, ok := s.profiles[GuestProfile]; !ok {
		s.profiles[GuestProfile] = newProfile(GuestProfile, s.size)
	}
}

// add stores a profile, repairing its length to the sensor count.
// The first profile added becomes active.
func (s *Set) add(name string, thresholds []Threshold) {
	if len(thresholds) != s.size {
		s.lc.Warnf("Adjusting threshold count for profile %s from %d to %d", name, len(thresholds), s.size)
	}
	for len(thresholds) < s.size {
		thresholds = append(thresholds, Value(DefaultThreshold))
	}
	s.profiles[name] = &Profile{Name: name, Thresholds: thresholds[:s.size]}
	if s.active == "" {
		s.active = name
	}
}

// Active is the name of the active profile.
func (s *Set) Active() string {
	return s.active
}

// Secondary returns the secondary profile name, if one is selected.
func (s *Set) Secondary() (string, bool) {
	return s.secondary, s.secondary != ""
}

// Names lists every profile name in ascending order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns a copy of the named profile.
func (s *Set) Profile(name string) (Profile, bool) {
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return Profile{Name: p.Name, Thresholds: append([]Threshold(nil), p.Thresholds...)}, true
}

// Effective is the threshold enforced for sensor id after merging the
// active and secondary profiles.
func (s *Set) Effective(id int) Threshold {
	if id < 0 || id >= s.size {
		return Unset()
	}
	t := s.profiles[s.active].Thresholds[id]
	if s.secondary != "" {
		t = Merge(t, s.profiles[s.secondary].Thresholds[id])
	}
	return t
}

// EffectiveAll returns Effective for every sensor in ID order.
func (s *Set) EffectiveAll() []Threshold {
	out := make([]Threshold, s.size)
	for id := range out {
		out[id] = s.Effective(id)
	}
	return out
}

// SetActive selects name as the active profile and clears the secondary.
// An unknown name is created with default thresholds; created reports that.
func (s *Set) SetActive(name string) (thresholds []Threshold, created bool) {
	if _, ok := s.profiles[name]; !ok {
		s.profiles[name] = newProfile(name, s.size)
		created = true
	}
	s.active = name
	s.secondary = ""
	return s.EffectiveAll(), created
}

// SetSecondary layers name under the active profile, or clears the
// secondary when name is nil or empty. If the profile is unknown or
// overlaps the active one, the secondary is cleared and the error is
// returned together with the resulting thresholds.
func (s *Set) SetSecondary(name *string) ([]Threshold, error) {
	s.secondary = ""
	if name == nil || *name == "" {
		return s.EffectiveAll(), nil
	}

	candidate, ok := s.profiles[*name]
	if !ok {
		return s.EffectiveAll(), errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("secondary profile %s not found", *name), nil)
	}
	if err := compatible(s.profiles[s.active], candidate); err != nil {
		return s.EffectiveAll(), err
	}

	s.secondary = *name
	return s.EffectiveAll(), nil
}

// layerable reports whether b can be layered under a.
func (s *Set) layerable(a, b string) error {
	pa, ok := s.profiles[a]
	if !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("profile %s not found", a), nil)
	}
	pb, ok := s.profiles[b]
	if !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("profile %s not found", b), nil)
	}
	return compatible(pa, pb)
}

func compatible(a, b *Profile) error {
	if a.Name == b.Name {
		return errors.NewCommonEdgeX(errors.KindStatusConflict,
			fmt.Sprintf("profile %s cannot be layered under itself", a.Name), nil)
	}
	for id := range a.Thresholds {
		if a.Thresholds[id].IsSet() && b.Thresholds[id].IsSet() {
			return errors.NewCommonEdgeX(errors.KindStatusConflict,
				fmt.Sprintf("profiles %s and %s both set sensor %d", a.Name, b.Name, id), nil)
		}
	}
	return nil
}

// SetThreshold writes t into whichever selected profile owns sensor id:
// the active profile, unless its slot is unset, in which case the
// secondary. The caller persists the set afterwards.
func (s *Set) SetThreshold(id int, t Threshold) error {
	if id < 0 || id >= s.size {
		return errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("sensor %d out of range", id), nil)
	}

	owner := s.profiles[s.active]
	if !owner.Thresholds[id].IsSet() {
		if s.secondary == "" {
			return errors.NewCommonEdgeX(errors.KindStatusConflict,
				fmt.Sprintf("sensor %d is not governed by profile %s and no secondary is selected", id, s.active), nil)
		}
		owner = s.profiles[s.secondary]
	}
	owner.Thresholds[id] = t
	return nil
}

// Groups lists, in ascending order, the UI groups of every sensor the
// named profile sets. sensorGroups maps sensor ID to its group.
func (s *Set) Groups(name string, sensorGroups []int) []int {
	p, ok := s.profiles[name]
	if !ok {
		return nil
	}
	seen := make(map[int]bool)
	groups := []int{}
	for id, g := range sensorGroups {
		if p.Governs(id) && !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	sort.Ints(groups)
	return groups
}
