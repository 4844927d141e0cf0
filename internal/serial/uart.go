package serial

import (
	"fmt"

	"github.com/linjuya-lu/fsr_bridge_go/internal/config"
	"github.com/tarm/serial"
)

// UARTPort is a pad attached over USB CDC or a plain UART. Reads block
// until data arrives; there is no read timeout.
type UARTPort struct {
	cfg    config.Port
	handle *serial.Port
}

func NewUARTPort(cfg config.Port) *UARTPort {
	return &UARTPort{cfg: cfg}
}

func (u *UARTPort) Open() error {
	sc := &serial.Config{
		Name: u.cfg.Device,
		Baud: u.cfg.Baudrate,
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return fmt.Errorf("open UART %s failed: %w", u.cfg.Device, err)
	}
	u.handle = p
	return nil
}

func (u *UARTPort) Close() error {
	if u.handle != nil {
		return u.handle.Close()
	}
	return nil
}

func (u *UARTPort) Read(p []byte) (int, error) {
	return u.handle.Read(p)
}

func (u *UARTPort) Write(p []byte) (int, error) {
	n, err := u.handle.Write(p)
	if err != nil {
		return n, fmt.Errorf("UART write failed: %w", err)
	}
	return n, nil
}

// Name returns the logical port name from sensors.txt.
func (u *UARTPort) Name() string {
	return u.cfg.Name
}
