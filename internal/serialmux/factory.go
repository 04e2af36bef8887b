package serialmux

import "fmt"

// NewRealSerialMux creates a SerialMux instance backed by the serial port at
// path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := OpenSerialPort(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	return NewSerialMux(port), nil
}
