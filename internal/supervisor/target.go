package supervisor

import (
	"fmt"

	"hublink/internal/discovery"
	ncerr "hublink/internal/errors"
	"hublink/util"
)

// Target selects the hub: a discovered service name, or a direct host
// and port when Service is empty or the no-selection sentinel.
type Target struct {
	Service string
	Host    string
	Port    int
}

// ServiceMode reports whether the target is resolved through discovery.
func (t Target) ServiceMode() bool {
	return t.Service != "" && t.Service != discovery.NoSelection
}

// Validate rejects out-of-range ports and incomplete direct targets.
// Ports are never clamped.
func (t Target) Validate() error {
	if t.ServiceMode() {
		if t.Port != 0 && !util.ValidPort(t.Port) {
			return ncerr.PortError("port", t.Port)
		}
		return nil
	}
	if t.Host == "" {
		return &ncerr.ConfigError{
			Field:   "host",
			Message: "required when no service is selected",
			Hint:    "pass <host> <port>, or -s <service>",
		}
	}
	if !util.ValidPort(t.Port) {
		return ncerr.PortError("port", t.Port)
	}
	return nil
}

func (t Target) String() string {
	if t.ServiceMode() {
		return fmt.Sprintf("service %q", t.Service)
	}
	return util.FormatAddr(t.Host, t.Port)
}
