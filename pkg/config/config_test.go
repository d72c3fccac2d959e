package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/secure"
)

// 32 bytes of 0xAB.
var testSecretHex = strings.Repeat("ab", secure.SecretSize)

func TestParseDevice_Full(t *testing.T) {
	input := `
device_id: 10
secret: "` + testSecretHex + `"
cpu_listen: "127.0.0.1:7210"
bus:
  tcp: "127.0.0.1:7200"
handshake_timeout_ticks: 250
step_interval_ms: 5
log_file: "device.plog"
abuse:
  bucket_capacity: 8
  peer_fault_threshold: 3
`
	d, err := ParseDevice([]byte(input))
	if err != nil {
		t.Fatalf("ParseDevice failed: %v", err)
	}

	if d.DeviceID != 10 {
		t.Errorf("DeviceID = %d, want 10", d.DeviceID)
	}
	if d.CPUListen != "127.0.0.1:7210" {
		t.Errorf("CPUListen = %q", d.CPUListen)
	}
	if d.Bus.TCP != "127.0.0.1:7200" {
		t.Errorf("Bus.TCP = %q", d.Bus.TCP)
	}
	if d.HandshakeTimeoutTicks != 250 {
		t.Errorf("HandshakeTimeoutTicks = %d, want 250", d.HandshakeTimeoutTicks)
	}
	if d.StepInterval() != 5*time.Millisecond {
		t.Errorf("StepInterval = %v, want 5ms", d.StepInterval())
	}
	if d.LogFile != "device.plog" {
		t.Errorf("LogFile = %q", d.LogFile)
	}

	mon := d.Abuse.Monitor()
	if mon.BucketCapacity != 8 || mon.PeerFaultThreshold != 3 {
		t.Errorf("abuse overrides not carried: %+v", mon)
	}

	secret, err := d.SecretBytes()
	if err != nil {
		t.Fatalf("SecretBytes failed: %v", err)
	}
	if len(secret) != secure.SecretSize || secret[0] != 0xAB {
		t.Errorf("secret = %d bytes starting %#x", len(secret), secret[0])
	}
}

func TestParseDevice_Defaults(t *testing.T) {
	input := `
device_id: 10
secret: "` + testSecretHex + `"
cpu_listen: "127.0.0.1:7210"
bus:
  tcp: "127.0.0.1:7200"
`
	d, err := ParseDevice([]byte(input))
	if err != nil {
		t.Fatalf("ParseDevice failed: %v", err)
	}

	if d.HandshakeTimeoutTicks != DefaultHandshakeTimeoutTicks {
		t.Errorf("HandshakeTimeoutTicks = %d, want %d", d.HandshakeTimeoutTicks, DefaultHandshakeTimeoutTicks)
	}
	if d.StepInterval() != time.Millisecond {
		t.Errorf("StepInterval = %v, want 1ms", d.StepInterval())
	}
	if d.LogFile != "" {
		t.Errorf("LogFile = %q, want empty", d.LogFile)
	}
}

func TestParseDevice_MQTTTopicDefault(t *testing.T) {
	input := `
device_id: 10
secret: "` + testSecretHex + `"
cpu_listen: "127.0.0.1:7210"
bus:
  mqtt_broker: "tcp://127.0.0.1:1883"
`
	d, err := ParseDevice([]byte(input))
	if err != nil {
		t.Fatalf("ParseDevice failed: %v", err)
	}
	if d.Bus.MQTTTopic != DefaultMQTTTopic {
		t.Errorf("MQTTTopic = %q, want %q", d.Bus.MQTTTopic, DefaultMQTTTopic)
	}
}

func TestParseDevice_Rejects(t *testing.T) {
	busTCP := "\nbus:\n  tcp: \"127.0.0.1:7200\"\n"
	cases := []struct {
		name  string
		input string
	}{
		{"reserved id", `
device_id: 1
secret: "` + testSecretHex + `"
cpu_listen: "x"` + busTCP},
		{"missing secret", `
device_id: 10
cpu_listen: "x"` + busTCP},
		{"odd hex", `
device_id: 10
secret: "abc"
cpu_listen: "x"` + busTCP},
		{"short secret", `
device_id: 10
secret: "abab"
cpu_listen: "x"` + busTCP},
		{"missing cpu_listen", `
device_id: 10
secret: "` + testSecretHex + `"` + busTCP},
		{"no bus endpoint", `
device_id: 10
secret: "` + testSecretHex + `"
cpu_listen: "x"
bus: {}
`},
		{"both bus endpoints", `
device_id: 10
secret: "` + testSecretHex + `"
cpu_listen: "x"
bus:
  tcp: "a"
  mqtt_broker: "b"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDevice([]byte(tc.input)); err == nil {
				t.Error("ParseDevice accepted invalid input")
			}
		})
	}
}

func TestParseAuthority_Full(t *testing.T) {
	netHex := strings.Repeat("cd", secure.SecretSize)
	input := `
network_secret: "` + netHex + `"
epoch: 7
state_file: "/var/lib/pbus/authority.json"
bus:
  tcp: "127.0.0.1:7200"
devices:
  - device_id: 10
    secret: "` + testSecretHex + `"
  - device_id: 11
    secret: "` + strings.Repeat("ef", secure.SecretSize) + `"
`
	a, err := ParseAuthority([]byte(input))
	if err != nil {
		t.Fatalf("ParseAuthority failed: %v", err)
	}

	if a.Epoch != 7 {
		t.Errorf("Epoch = %d, want 7", a.Epoch)
	}
	if a.StateFile != "/var/lib/pbus/authority.json" {
		t.Errorf("StateFile = %q", a.StateFile)
	}
	if len(a.Devices) != 2 {
		t.Fatalf("Devices = %d entries, want 2", len(a.Devices))
	}
	if a.Devices[1].DeviceID != 11 {
		t.Errorf("Devices[1].DeviceID = %d, want 11", a.Devices[1].DeviceID)
	}

	net, err := a.NetworkSecretBytes()
	if err != nil {
		t.Fatalf("NetworkSecretBytes failed: %v", err)
	}
	if len(net) != secure.SecretSize || net[0] != 0xCD {
		t.Errorf("network secret = %d bytes starting %#x", len(net), net[0])
	}

	secret, err := a.Devices[0].SecretBytes()
	if err != nil {
		t.Fatalf("SecretBytes failed: %v", err)
	}
	if secret[0] != 0xAB {
		t.Errorf("device secret starts %#x, want 0xab", secret[0])
	}
}

func TestParseAuthority_RandomSecretByDefault(t *testing.T) {
	input := `
bus:
  tcp: "127.0.0.1:7200"
devices:
  - device_id: 10
    secret: "` + testSecretHex + `"
`
	a, err := ParseAuthority([]byte(input))
	if err != nil {
		t.Fatalf("ParseAuthority failed: %v", err)
	}
	net, err := a.NetworkSecretBytes()
	if err != nil {
		t.Fatalf("NetworkSecretBytes failed: %v", err)
	}
	if net != nil {
		t.Error("empty network_secret should yield nil, meaning draw at startup")
	}
	if a.StepInterval() != time.Millisecond {
		t.Errorf("StepInterval = %v, want 1ms", a.StepInterval())
	}
}

func TestParseAuthority_Rejects(t *testing.T) {
	busTCP := "bus:\n  tcp: \"127.0.0.1:7200\"\n"
	cases := []struct {
		name  string
		input string
	}{
		{"no devices", "\n" + busTCP + "devices: []\n"},
		{"reserved id", "\n" + busTCP + `devices:
  - device_id: 2
    secret: "` + testSecretHex + `"
`},
		{"duplicate id", "\n" + busTCP + `devices:
  - device_id: 10
    secret: "` + testSecretHex + `"
  - device_id: 10
    secret: "` + testSecretHex + `"
`},
		{"bad device secret", "\n" + busTCP + `devices:
  - device_id: 10
    secret: "zz"
`},
		{"bad network secret", "\nnetwork_secret: \"abcd\"\n" + busTCP + `devices:
  - device_id: 10
    secret: "` + testSecretHex + `"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAuthority([]byte(tc.input)); err == nil {
				t.Error("ParseAuthority accepted invalid input")
			}
		})
	}
}

func TestLoadDeviceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	input := `
device_id: 10
secret: "` + testSecretHex + `"
cpu_listen: "127.0.0.1:7210"
bus:
  tcp: "127.0.0.1:7200"
`
	if err := os.WriteFile(path, []byte(input), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	d, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("LoadDevice failed: %v", err)
	}
	if d.DeviceID != 10 {
		t.Errorf("DeviceID = %d, want 10", d.DeviceID)
	}

	if _, err := LoadDevice(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadDevice accepted a missing file")
	}
}
