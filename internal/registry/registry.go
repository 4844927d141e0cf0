// Package registry loads the sensor layout from sensors.txt.
//
// Each non-blank, non-comment line is
//
//	port, pin, button, group, label
//
// IDs are assigned in file order across all ports. Index counts the
// sensors seen so far on the same port.
package registry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// Sensor is the immutable location of one FSR.
type Sensor struct {
	ID     int
	Port   string
	Index  int
	Pin    int
	Button int
	Group  int
	Label  string
}

// Registry is read-only after Load.
type Registry struct {
	sensors []Sensor
	byPort  map[string][]Sensor
	ports   []string
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindIOError, fmt.Sprintf("open sensors file %s", path), err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses sensor records. Any malformed line fails the whole load.
func Load(r io.Reader) (*Registry, error) {
	reg := &Registry{byPort: make(map[string][]Sensor)}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := reg.add(line); err != nil {
			return nil, errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("failed to parse sensors line %d", lineNum), err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindIOError, "read sensors", err)
	}
	return reg, nil
}

func (r *Registry) add(line string) error {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return fmt.Errorf("expected 5 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	port := parts[0]
	if port == "" {
		return fmt.Errorf("empty port")
	}
	nums := make([]int, 3)
	for i, name := range []string{"pin", "button", "group"} {
		n, err := strconv.Atoi(parts[i+1])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if n < 0 {
			return fmt.Errorf("%s: negative value %d", name, n)
		}
		nums[i] = n
	}

	if _, ok := r.byPort[port]; !ok {
		r.ports = append(r.ports, port)
	}
	s := Sensor{
		ID:     len(r.sensors),
		Port:   port,
		Index:  len(r.byPort[port]),
		Pin:    nums[0],
		Button: nums[1],
		Group:  nums[2],
		Label:  parts[4],
	}
	r.sensors = append(r.sensors, s)
	r.byPort[port] = append(r.byPort[port], s)
	return nil
}

// Len is the total sensor count across all ports.
func (r *Registry) Len() int {
	return len(r.sensors)
}

// Sensor looks up a sensor by global ID.
func (r *Registry) Sensor(id int) (Sensor, bool) {
	if id < 0 || id >= len(r.sensors) {
		return Sensor{}, false
	}
	return r.sensors[id], true
}

// Sensors returns every sensor in ID order.
func (r *Registry) Sensors() []Sensor {
	return append([]Sensor(nil), r.sensors...)
}

// Port returns the sensors on port in index order, or nil if the port is unknown.
func (r *Registry) Port(port string) []Sensor {
	sensors, ok := r.byPort[port]
	if !ok {
		return nil
	}
	return append([]Sensor{}, sensors...)
}

// Ports lists distinct ports in order of first appearance.
func (r *Registry) Ports() []string {
	return append([]string(nil), r.ports...)
}
