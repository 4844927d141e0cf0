package bridge

import (
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/fsr_bridge_go/internal/config"
	"github.com/linjuya-lu/fsr_bridge_go/internal/registry"
	"github.com/linjuya-lu/fsr_bridge_go/internal/serial"
)

// InitializeLinks does the serial side of startup:
//  1. resolve every port named in the registry against the configuration
//  2. compare the configured devices with those present on the host
//  3. open one link per port; ports that fail become null links
func InitializeLinks(cfg *config.BridgeConfig, reg *registry.Registry, open serial.Opener, lc logger.LoggingClient) []*serial.Link {
	ports := make([]config.Port, 0, len(reg.Ports()))
	for _, name := range reg.Ports() {
		ports = append(ports, cfg.GetPort(name))
	}

	serial.CheckPresence(ports, lc)
	return serial.OpenAll(ports, open, lc)
}

// StartLinks starts every link's goroutines with h as the frame sink.
func StartLinks(links []*serial.Link, h *Hub) {
	for _, l := range links {
		l.Start(h.HandleFrame)
	}
}

// AsLinks adapts serial links for Options.Links.
func AsLinks(links []*serial.Link) []Link {
	out := make([]Link, len(links))
	for i, l := range links {
		out[i] = l
	}
	return out
}
