package device

import (
	"errors"
	"net"
	"os"

	"github.com/google/uuid"
)

// idSpace namespaces generated device ids.
var idSpace = uuid.MustParse("6f1c2f1e-6a0b-4d0e-9a57-2b7c3f0d9e41")

// GetMACAddress returns the MAC address of the first valid network interface (non-loopback).
func GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}

	return "", errors.New("no valid network interface found")
}

// ID returns a stable identifier for this machine: a name-based UUID of the
// MAC address, or of the hostname when no interface qualifies.
func ID() string {
	if mac, err := GetMACAddress(); err == nil {
		return FromSeed(mac)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return FromSeed(host)
}

// FromSeed derives the device id for seed.
func FromSeed(seed string) string {
	return uuid.NewSHA1(idSpace, []byte(seed)).String()
}
