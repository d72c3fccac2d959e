package authority

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pbus-protocol/pbus-go/pkg/frame"
)

// Registry errors.
var (
	// ErrReservedDevice indicates an attempt to provision a reserved
	// bus identifier.
	ErrReservedDevice = errors.New("authority: reserved device id")

	// ErrEmptySecret indicates a provisioning record without a secret.
	ErrEmptySecret = errors.New("authority: empty device secret")
)

// Registry holds the provisioning records the authority was deployed
// with: one long-term secret per device identifier. Only provisioned
// devices can ever join; everyone else is noise on the bus.
type Registry struct {
	secrets map[uint16][]byte
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{secrets: make(map[uint16][]byte)}
}

// Add records a device's provisioning secret. The slice is copied.
func (r *Registry) Add(deviceID uint16, secret []byte) error {
	if !frame.IsDeviceID(deviceID) {
		return fmt.Errorf("%w: %d", ErrReservedDevice, deviceID)
	}
	if len(secret) == 0 {
		return fmt.Errorf("%w: device %d", ErrEmptySecret, deviceID)
	}
	r.secrets[deviceID] = append([]byte(nil), secret...)
	return nil
}

// Secret returns the provisioning secret for deviceID, or nil when the
// device is not provisioned.
func (r *Registry) Secret(deviceID uint16) []byte {
	return r.secrets[deviceID]
}

// Known reports whether deviceID is provisioned.
func (r *Registry) Known(deviceID uint16) bool {
	_, ok := r.secrets[deviceID]
	return ok
}

// IDs lists provisioned device identifiers in ascending order.
func (r *Registry) IDs() []uint16 {
	ids := make([]uint16, 0, len(r.secrets))
	for id := range r.secrets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of provisioned devices.
func (r *Registry) Len() int {
	return len(r.secrets)
}
