package link

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port available on the host.
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	IsUSB        bool   `json:"isUSB"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// ListPorts returns the serial ports present on the host, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			Description:  describe(d),
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}

	slices.SortFunc(ports, func(a, b PortInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	return ports, nil
}

func describe(d *enumerator.PortDetails) string {
	switch {
	case d.Product != "":
		return d.Product
	case d.IsUSB:
		return fmt.Sprintf("USB device %s:%s", d.VID, d.PID)
	default:
		return "n/a"
	}
}
