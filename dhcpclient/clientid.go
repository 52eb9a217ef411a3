package dhcpclient

import (
	"net"
)

// Hardware type of Ethernet used as the client identifier type.
const ClientIDTypeEthernet byte = 1

// Creates the client identifier from the hardware address: the hardware
// type followed by the address. It returns nil for an empty address.
func ClientIDFromHWAddr(hwAddr net.HardwareAddr) []byte {
	if len(hwAddr) == 0 {
		return nil
	}
	return append([]byte{ClientIDTypeEthernet}, hwAddr...)
}
