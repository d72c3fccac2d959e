// Package config loads the YAML deployment files for device
// controllers and the registration authority.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/secure"
)

const (
	// DefaultMQTTTopic is the shared bus topic used when a broker is
	// configured without one.
	DefaultMQTTTopic = "pbus/bus"

	// DefaultHandshakeTimeoutTicks bounds a registration handshake
	// when the device file does not set one. At the default
	// millisecond step it is five seconds.
	DefaultHandshakeTimeoutTicks = 5000

	// DefaultStepIntervalMS is the poll cadence when unset.
	DefaultStepIntervalMS = 1
)

// Bus selects the shared bus transport. Exactly one endpoint must be
// set.
type Bus struct {
	// TCP is a hub address, host:port.
	TCP string `yaml:"tcp,omitempty"`

	// MQTTBroker is a broker URL, e.g. tcp://127.0.0.1:1883.
	MQTTBroker string `yaml:"mqtt_broker,omitempty"`

	// MQTTTopic is the shared bus topic. Defaults to DefaultMQTTTopic.
	MQTTTopic string `yaml:"mqtt_topic,omitempty"`
}

func (b *Bus) applyDefaults() {
	if b.MQTTBroker != "" && b.MQTTTopic == "" {
		b.MQTTTopic = DefaultMQTTTopic
	}
}

func (b *Bus) validate() error {
	if b.TCP == "" && b.MQTTBroker == "" {
		return errors.New("bus: tcp or mqtt_broker is required")
	}
	if b.TCP != "" && b.MQTTBroker != "" {
		return errors.New("bus: tcp and mqtt_broker are mutually exclusive")
	}
	return nil
}

// Abuse overrides the abuse monitor tunables. Zero fields keep the
// built-in defaults.
type Abuse struct {
	BucketCapacity       uint32 `yaml:"bucket_capacity,omitempty"`
	RefillIntervalTicks  uint64 `yaml:"refill_interval_ticks,omitempty"`
	PeerFaultThreshold   uint32 `yaml:"peer_fault_threshold,omitempty"`
	DeviceFaultThreshold uint32 `yaml:"device_fault_threshold,omitempty"`
	RateLimitFaultStreak uint32 `yaml:"rate_limit_fault_streak,omitempty"`
}

// Monitor converts the overrides to monitor tunables.
func (a Abuse) Monitor() abuse.Config {
	return abuse.Config{
		BucketCapacity:       a.BucketCapacity,
		RefillIntervalTicks:  a.RefillIntervalTicks,
		PeerFaultThreshold:   a.PeerFaultThreshold,
		DeviceFaultThreshold: a.DeviceFaultThreshold,
		RateLimitFaultStreak: a.RateLimitFaultStreak,
	}
}

// Device is a device controller's deployment file.
type Device struct {
	// DeviceID is this controller's bus identity.
	DeviceID uint16 `yaml:"device_id"`

	// Secret is the hex-encoded provisioning secret.
	Secret string `yaml:"secret"`

	// CPUListen is the TCP address served to the host CPU.
	CPUListen string `yaml:"cpu_listen"`

	// Bus selects the shared bus transport.
	Bus Bus `yaml:"bus"`

	// HandshakeTimeoutTicks bounds a registration handshake.
	HandshakeTimeoutTicks uint64 `yaml:"handshake_timeout_ticks,omitempty"`

	// StepIntervalMS is the poll cadence in milliseconds.
	StepIntervalMS int `yaml:"step_interval_ms,omitempty"`

	// LogFile receives CBOR protocol events. Empty disables logging.
	LogFile string `yaml:"log_file,omitempty"`

	// Abuse overrides the abuse monitor tunables.
	Abuse Abuse `yaml:"abuse,omitempty"`
}

func (d *Device) applyDefaults() {
	if d.HandshakeTimeoutTicks == 0 {
		d.HandshakeTimeoutTicks = DefaultHandshakeTimeoutTicks
	}
	if d.StepIntervalMS == 0 {
		d.StepIntervalMS = DefaultStepIntervalMS
	}
	d.Bus.applyDefaults()
}

func (d *Device) validate() error {
	if !frame.IsDeviceID(d.DeviceID) {
		return fmt.Errorf("device_id %d is reserved", d.DeviceID)
	}
	if _, err := parseSecret("secret", d.Secret); err != nil {
		return err
	}
	if d.CPUListen == "" {
		return errors.New("cpu_listen is required")
	}
	if d.StepIntervalMS < 0 {
		return fmt.Errorf("step_interval_ms %d is negative", d.StepIntervalMS)
	}
	return d.Bus.validate()
}

// SecretBytes decodes the provisioning secret.
func (d *Device) SecretBytes() ([]byte, error) {
	return parseSecret("secret", d.Secret)
}

// StepInterval returns the poll cadence as a duration.
func (d *Device) StepInterval() time.Duration {
	return time.Duration(d.StepIntervalMS) * time.Millisecond
}

// LoadDevice reads and validates a device file.
func LoadDevice(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device config: %w", err)
	}
	return ParseDevice(data)
}

// ParseDevice parses and validates a device file.
func ParseDevice(data []byte) (*Device, error) {
	var d Device
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse device config: %w", err)
	}
	d.applyDefaults()
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Provisioned is one registry entry in the authority file.
type Provisioned struct {
	DeviceID uint16 `yaml:"device_id"`

	// Secret is the hex-encoded provisioning secret.
	Secret string `yaml:"secret"`
}

// SecretBytes decodes the provisioning secret.
func (p *Provisioned) SecretBytes() ([]byte, error) {
	return parseSecret(fmt.Sprintf("devices[%d].secret", p.DeviceID), p.Secret)
}

// Authority is the registration authority's deployment file.
type Authority struct {
	// NetworkSecret seeds the deployment, hex-encoded. Empty draws a
	// random secret at startup.
	NetworkSecret string `yaml:"network_secret,omitempty"`

	// Epoch is the starting network epoch. Zero selects 1.
	Epoch uint64 `yaml:"epoch,omitempty"`

	// Bus selects the shared bus transport.
	Bus Bus `yaml:"bus"`

	// StepIntervalMS is the poll cadence in milliseconds.
	StepIntervalMS int `yaml:"step_interval_ms,omitempty"`

	// LogFile receives CBOR protocol events. Empty disables logging.
	LogFile string `yaml:"log_file,omitempty"`

	// StateFile persists the network secret, epoch, and membership roll
	// across restarts. Empty disables persistence.
	StateFile string `yaml:"state_file,omitempty"`

	// Abuse overrides the abuse monitor tunables.
	Abuse Abuse `yaml:"abuse,omitempty"`

	// Devices is the provisioning registry.
	Devices []Provisioned `yaml:"devices"`
}

func (a *Authority) applyDefaults() {
	if a.StepIntervalMS == 0 {
		a.StepIntervalMS = DefaultStepIntervalMS
	}
	a.Bus.applyDefaults()
}

func (a *Authority) validate() error {
	if a.NetworkSecret != "" {
		if _, err := parseSecret("network_secret", a.NetworkSecret); err != nil {
			return err
		}
	}
	if len(a.Devices) == 0 {
		return errors.New("devices: at least one provisioning entry is required")
	}
	seen := make(map[uint16]struct{}, len(a.Devices))
	for _, p := range a.Devices {
		if !frame.IsDeviceID(p.DeviceID) {
			return fmt.Errorf("devices: device_id %d is reserved", p.DeviceID)
		}
		if _, dup := seen[p.DeviceID]; dup {
			return fmt.Errorf("devices: device_id %d appears twice", p.DeviceID)
		}
		seen[p.DeviceID] = struct{}{}
		if _, err := p.SecretBytes(); err != nil {
			return err
		}
	}
	if a.StepIntervalMS < 0 {
		return fmt.Errorf("step_interval_ms %d is negative", a.StepIntervalMS)
	}
	return a.Bus.validate()
}

// NetworkSecretBytes decodes the network secret, or returns nil when
// the deployment draws a random one.
func (a *Authority) NetworkSecretBytes() ([]byte, error) {
	if a.NetworkSecret == "" {
		return nil, nil
	}
	return parseSecret("network_secret", a.NetworkSecret)
}

// StepInterval returns the poll cadence as a duration.
func (a *Authority) StepInterval() time.Duration {
	return time.Duration(a.StepIntervalMS) * time.Millisecond
}

// LoadAuthority reads and validates an authority file.
func LoadAuthority(path string) (*Authority, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authority config: %w", err)
	}
	return ParseAuthority(data)
}

// ParseAuthority parses and validates an authority file.
func ParseAuthority(data []byte) (*Authority, error) {
	var a Authority
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse authority config: %w", err)
	}
	a.applyDefaults()
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseSecret(field, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if len(b) != secure.SecretSize {
		return nil, fmt.Errorf("%s: %d bytes, want %d", field, len(b), secure.SecretSize)
	}
	return b, nil
}
