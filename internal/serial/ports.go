package serial

import (
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/fsr_bridge_go/internal/config"
	bugserial "go.bug.st/serial"
)

// listPorts enumerates the serial devices present on the host.
var listPorts = bugserial.GetPortsList

// Open opens cfg and wraps it in a Link. The error is of kind
// CommunicationError when the port is unavailable.
func Open(cfg config.Port, open Opener, lc logger.LoggingClient) (*Link, error) {
	p, err := open(cfg)
	if err != nil {
		return nil, err
	}
	return NewLink(p, lc), nil
}

// OpenAll opens one Link per configured port, in order. Ports that fail
// to open become null links.
func OpenAll(ports []config.Port, open Opener, lc logger.LoggingClient) []*Link {
	links := make([]*Link, 0, len(ports))
	for _, cfg := range ports {
		l, err := Open(cfg, open, lc)
		if err != nil {
			lc.Errorf("Failed to connect to port %s: %v", cfg.Name, err)
			links = append(links, NullLink(cfg.Name, lc))
			continue
		}
		lc.Infof("Connected to port %s (%s, %d baud)", cfg.Name, cfg.Device, cfg.Baudrate)
		links = append(links, l)
	}
	return links
}

// CheckPresence compares the configured devices with those present on
// the host. Missing devices are returned and logged as warnings; present
// but unused devices are logged at info level.
func CheckPresence(ports []config.Port, lc logger.LoggingClient) []string {
	present, err := listPorts()
	if err != nil {
		lc.Warnf("Unable to enumerate serial ports: %v", err)
		return nil
	}

	actual := make(map[string]bool, len(present))
	for _, p := range present {
		actual[p] = true
	}
	wanted := make(map[string]bool, len(ports))
	var missing []string
	for _, cfg := range ports {
		wanted[cfg.Device] = true
		if !actual[cfg.Device] {
			lc.Warnf("Port %s is missing!", cfg.Device)
			missing = append(missing, cfg.Device)
		}
	}
	for _, p := range present {
		if !wanted[p] {
			lc.Infof("(Port %s is unused)", p)
		}
	}
	return missing
}
