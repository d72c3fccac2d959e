package persistence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/secure"
)

// StateVersion stamps snapshots so a future format change can migrate
// old files.
const StateVersion = 1

// AuthorityState is one authority snapshot: the secret and epoch in
// force plus the membership roll at save time.
type AuthorityState struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`

	Epoch uint64 `json:"epoch"`

	// NetworkSecret is hex encoded; SetNetworkSecret and
	// NetworkSecretBytes convert.
	NetworkSecret string `json:"network_secret"`

	Members []uint16 `json:"members,omitempty"`
}

// SetNetworkSecret stores the secret in its file encoding.
func (s *AuthorityState) SetNetworkSecret(secret []byte) {
	s.NetworkSecret = hex.EncodeToString(secret)
}

// NetworkSecretBytes decodes the stored secret.
func (s *AuthorityState) NetworkSecretBytes() ([]byte, error) {
	secret, err := hex.DecodeString(s.NetworkSecret)
	if err != nil {
		return nil, fmt.Errorf("network_secret: %w", err)
	}
	if len(secret) != secure.SecretSize {
		return nil, fmt.Errorf("network_secret: %d bytes, want %d", len(secret), secure.SecretSize)
	}
	return secret, nil
}

// AuthorityStateStore reads and writes snapshots at a fixed path.
type AuthorityStateStore struct {
	mu   sync.Mutex
	path string
}

func NewAuthorityStateStore(path string) *AuthorityStateStore {
	return &AuthorityStateStore{path: path}
}

// Save writes the snapshot, stamping Version and SavedAt.
func (s *AuthorityStateStore) Save(state *AuthorityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// The file carries key material.
	return os.WriteFile(s.path, data, 0o600)
}

// Load reads the snapshot back, (nil, nil) when none was ever saved.
func (s *AuthorityStateStore) Load() (*AuthorityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state AuthorityState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("state file %s: %w", s.path, err)
	}
	return &state, nil
}

// Clear deletes the snapshot, tolerating one that never existed.
func (s *AuthorityStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
