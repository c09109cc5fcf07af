package server

// Status represents the lifecycle state of a VPN server.
type Status string

const (
	StatusRequested    Status = "requested"
	StatusProvisioning Status = "provisioning"
	StatusConfiguring  Status = "configuring"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDestroying   Status = "destroying"
	StatusDestroyed    Status = "destroyed"
	StatusError        Status = "error"
)

// IsValid checks if the status is a known server status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRequested, StatusProvisioning, StatusConfiguring, StatusActive,
		StatusIdle, StatusDestroying, StatusDestroyed, StatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if the current status may transition to target.
// Error is reachable from every non-terminal state; a manual retry re-enters
// Requested from Error.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusRequested:
		return target == StatusProvisioning || target == StatusDestroying || target == StatusError
	case StatusProvisioning:
		return target == StatusConfiguring || target == StatusError
	case StatusConfiguring:
		return target == StatusActive || target == StatusError
	case StatusActive:
		return target == StatusIdle || target == StatusDestroying || target == StatusError
	case StatusIdle:
		return target == StatusActive || target == StatusDestroying || target == StatusError
	case StatusDestroying:
		return target == StatusDestroyed || target == StatusError
	case StatusError:
		return target == StatusRequested || target == StatusDestroying
	case StatusDestroyed:
		return false
	default:
		return false
	}
}

// IsTerminal returns true once no automatic progress remains.
func (s Status) IsTerminal() bool {
	return s == StatusDestroyed
}

// HasPublicIP reports whether a server in this status must carry a public IP.
func (s Status) HasPublicIP() bool {
	return s == StatusActive || s == StatusIdle || s == StatusDestroying
}

// AcceptsPeers reports whether peer profiles may be added in this status.
func (s Status) AcceptsPeers() bool {
	return s == StatusActive || s == StatusIdle
}

func (s Status) String() string {
	return string(s)
}
