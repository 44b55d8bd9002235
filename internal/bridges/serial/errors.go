package serial

import "errors"

// Domain errors for the serial bridge package.
var (
	// ErrMalformedFrame is returned when a line does not split into exactly
	// three comma-separated fields.
	ErrMalformedFrame = errors.New("serial: malformed frame")

	// ErrUnknownKind is returned when the kind field is not SEN, CMD, ACK or CMO.
	ErrUnknownKind = errors.New("serial: unknown frame kind")

	// ErrInvalidField is returned when a field to be encoded contains the
	// field delimiter or a line break.
	ErrInvalidField = errors.New("serial: invalid frame field")

	// ErrTargetNotFound is returned when no known device matches a metric name.
	ErrTargetNotFound = errors.New("serial: no target device for metric")

	// ErrTransportWrite is returned when writing to a port fails.
	ErrTransportWrite = errors.New("serial: transport write failed")

	// ErrTransportRead is returned when reading from a port fails for a
	// reason other than a read timeout.
	ErrTransportRead = errors.New("serial: transport read failed")

	// ErrTransportOpen is returned when a port cannot be opened.
	ErrTransportOpen = errors.New("serial: transport open failed")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("serial: session closed")

	// ErrUnknownDevice is returned when a request names a device that has
	// no attached session.
	ErrUnknownDevice = errors.New("serial: unknown device")

	// ErrEngineStopped is returned when submitting to an engine that is not
	// running.
	ErrEngineStopped = errors.New("serial: engine stopped")

	// ErrEngineStarted is returned when reconfiguring a running engine.
	ErrEngineStarted = errors.New("serial: engine already started")

	// ErrInvalidRegistry is returned when the device list cannot form a registry.
	ErrInvalidRegistry = errors.New("serial: invalid device registry")

	// ErrNoSessions is returned when the bridge could not open any port.
	ErrNoSessions = errors.New("serial: no port sessions available")
)
