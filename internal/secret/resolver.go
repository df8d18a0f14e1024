// Package secret resolves named secrets for adapters. The engine consumes
// secret storage through this single capability; adapters never see where
// a secret lives.
package secret

import "fmt"

// Resolver resolves a secret name to its value.
type Resolver interface {
	Get(name string) (string, error)
}

// Static is a fixed in-memory resolver, used in tests and one-shot runs.
type Static map[string]string

// Get returns the named secret or an error when it is not present.
func (s Static) Get(name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}
