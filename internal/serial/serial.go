// internal/serial/serial.go

package serial

import (
	"fmt"
	"io"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/fsr_bridge_go/internal/config"
)

// Port is the raw byte interface a Link drives.
type Port interface {
	io.ReadWriteCloser
	Open() error
	Name() string
}

// Opener builds and opens the Port for a configuration. Tests swap it out.
type Opener func(cfg config.Port) (Port, error)

// OpenUART opens cfg with the tarm/serial backed UARTPort.
func OpenUART(cfg config.Port) (Port, error) {
	p := NewUARTPort(cfg)
	if err := p.Open(); err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindCommunicationError,
			fmt.Sprintf("port %s unavailable", cfg.Name), err)
	}
	return p, nil
}
