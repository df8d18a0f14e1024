package secret

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "taskwire"

// Keyring resolves secrets from the system keyring (Keychain, Secret
// Service, Windows Credential Manager, pass, or an encrypted file).
type Keyring struct{}

// NewKeyring returns a keyring-backed resolver.
func NewKeyring() *Keyring {
	return &Keyring{}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/taskwire/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("taskwire-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a secret value by name from the system keyring.
func (k *Keyring) Get(name string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(name)
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}

	return string(item.Data), nil
}

// Set stores a secret value by name in the system keyring.
func (k *Keyring) Set(name string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  name,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting secret %q: %w", name, err)
	}

	return nil
}

// Delete removes a secret by name from the system keyring.
func (k *Keyring) Delete(name string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(name)
	if err != nil {
		return fmt.Errorf("deleting secret %q: %w", name, err)
	}

	return nil
}
