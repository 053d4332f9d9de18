package nattraversal

import "time"

// PortMapper opens ports on one gateway reached through a discovered
// GatewayPair. Mappings point at the pair's local address; externalPort is
// whatever the gateway granted and is the key for UnmapPort.
type PortMapper interface {
	MapPort(protocol string, internalPort int, duration time.Duration) (externalPort int, err error)
	UnmapPort(protocol string, externalPort int) error
	GetExternalIP() (string, error)
}
