package serial

import (
	"fmt"
	"strings"
)

// deviceSeparator separates the metric prefix from the rest of a device ID.
const deviceSeparator = "_"

// DeviceConfig describes one configured device.
type DeviceConfig struct {
	// ID is the device identifier, e.g. "ele_001".
	ID string

	// Address is the transport address, e.g. "/dev/ttyUSB0" or "sim://ele_001".
	Address string
}

// Registry is the immutable set of devices known to the bridge.
//
// Device IDs keep their configuration order, which is also the tie-break
// order for target resolution. A Registry is read-only after construction
// and safe for concurrent reads.
type Registry struct {
	ids       []string
	addresses map[string]string
	allowSelf bool
}

// NewRegistry builds a registry from the configured device list.
//
// Parameters:
//   - devices: Devices in configuration order
//   - allowSelfTarget: Whether a local command may be routed back to its origin
//
// Returns:
//   - *Registry: The registry
//   - error: ErrInvalidRegistry on an empty list, empty ID or duplicate ID
func NewRegistry(devices []DeviceConfig, allowSelfTarget bool) (*Registry, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices configured", ErrInvalidRegistry)
	}

	r := &Registry{
		ids:       make([]string, 0, len(devices)),
		addresses: make(map[string]string, len(devices)),
		allowSelf: allowSelfTarget,
	}
	for i, d := range devices {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: device %d has empty id", ErrInvalidRegistry, i)
		}
		if err := ValidateField("device id", d.ID); err != nil {
			return nil, fmt.Errorf("%w: device %q: %w", ErrInvalidRegistry, d.ID, err)
		}
		if _, dup := r.addresses[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate device id %q", ErrInvalidRegistry, d.ID)
		}
		r.ids = append(r.ids, d.ID)
		r.addresses[d.ID] = d.Address
	}
	return r, nil
}

// DeviceIDs returns a copy of the device IDs in configuration order.
func (r *Registry) DeviceIDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Address returns the transport address of a device.
func (r *Registry) Address(id string) (string, bool) {
	addr, ok := r.addresses[id]
	return addr, ok
}

// Has reports whether id is a configured device.
func (r *Registry) Has(id string) bool {
	_, ok := r.addresses[id]
	return ok
}

// Len returns the number of configured devices.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Resolve picks the target device for a local command observed on origin.
// The origin itself is skipped unless the registry allows self-targeting.
func (r *Registry) Resolve(metricName, originDeviceID string) (string, error) {
	candidates := r.ids
	if !r.allowSelf && originDeviceID != "" {
		candidates = make([]string, 0, len(r.ids))
		for _, id := range r.ids {
			if id != originDeviceID {
				candidates = append(candidates, id)
			}
		}
	}
	return ResolveTarget(metricName, candidates)
}

// ResolveTarget returns the first ID in knownDeviceIDs whose prefix before
// the "_" separator equals metricName. An ID equal to metricName also matches.
//
// Returns ErrTargetNotFound when nothing matches.
func ResolveTarget(metricName string, knownDeviceIDs []string) (string, error) {
	if metricName == "" {
		return "", fmt.Errorf("%w: empty metric name", ErrTargetNotFound)
	}
	prefix := metricName + deviceSeparator
	for _, id := range knownDeviceIDs {
		if id == metricName || strings.HasPrefix(id, prefix) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrTargetNotFound, metricName)
}
