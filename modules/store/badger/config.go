package badger

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultDir        = "sessions.badger"
	defaultGCInterval = 10 * time.Minute
)

// Config holds the Badger store module configuration.
type Config struct {
	// Path is the database directory. Defaults to {DataDir}/sessions.badger.
	Path string `yaml:"path"`

	// EncryptionKeyEnv names an environment variable holding a 32-byte
	// key, hex or base64 encoded. Encryption is off when unset.
	EncryptionKeyEnv string `yaml:"encryption_key_env"`

	// GCInterval is the value log garbage collection period.
	GCInterval time.Duration `yaml:"gc_interval"`

	// InMemory keeps everything in RAM, for tests.
	InMemory bool `yaml:"in_memory"`
}

func (c *Config) defaults() {
	if c.GCInterval == 0 {
		c.GCInterval = defaultGCInterval
	}
}

func (c *Config) validate() error {
	if c.GCInterval < 0 {
		return fmt.Errorf("badger: gc_interval must be non-negative, got %s", c.GCInterval)
	}
	_, err := c.encryptionKey()
	return err
}

// encryptionKey decodes the key named by EncryptionKeyEnv. It returns nil
// when no key is configured.
func (c *Config) encryptionKey() ([]byte, error) {
	if c.EncryptionKeyEnv == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(os.Getenv(c.EncryptionKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("badger: $%s is empty", c.EncryptionKeyEnv)
	}
	return parseKey(raw)
}

// parseKey accepts 32 bytes encoded as hex (optionally 0x-prefixed) or
// standard base64.
func parseKey(raw string) ([]byte, error) {
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("badger: encryption key must be 32 bytes, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("badger: encryption key must be 32 bytes, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("badger: encryption key must be hex or base64")
}
