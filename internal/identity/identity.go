// Package identity resolves which node the prover works for.
//
// A registered node id lives in a small YAML file under the user's home
// directory. Without one, or when forced, the node runs anonymously.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultDir is the directory under $HOME holding node state.
const DefaultDir = ".nexus"

// FileName is the identity file inside the state directory.
const FileName = "node.yaml"

// ErrNotRegistered is returned by Load when no identity file exists.
var ErrNotRegistered = errors.New("node is not registered")

// Identity is who the node proves for.
type Identity struct {
	NodeID    string
	Anonymous bool
	// SessionID distinguishes anonymous runs in analytics.
	SessionID string
}

// DistinctID is the id analytics events are keyed on.
func (id Identity) DistinctID() string {
	if id.Anonymous {
		return "anonymous-" + id.SessionID
	}
	return id.NodeID
}

type file struct {
	NodeID string `yaml:"node_id"`
}

// Store reads and writes the identity file.
type Store struct {
	path string
}

// NewStore uses path as the identity file.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns ~/.nexus/node.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDir, FileName), nil
}

// Path is the identity file location.
func (s *Store) Path() string { return s.path }

// Load reads the stored node id.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("read identity %s: %w", s.path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("identity file %s is corrupted: %w", s.path, err)
	}
	id := strings.TrimSpace(f.NodeID)
	if id == "" {
		return "", fmt.Errorf("identity file %s has no node_id", s.path)
	}
	return id, nil
}

// Save registers nodeID, replacing any previous one.
func (s *Store) Save(nodeID string) error {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return errors.New("node id must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(s.path), err)
	}
	data, err := yaml.Marshal(file{NodeID: nodeID})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear forgets the registered node. Clearing an unregistered store is not
// an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove identity: %w", err)
	}
	return nil
}

// ResolveOptions are the command line overrides.
type ResolveOptions struct {
	// NodeID takes precedence over the stored id.
	NodeID string
	// Anonymous forces anonymous mode even when registered.
	Anonymous bool
}

// Resolve decides the identity for this run. An unregistered store falls
// back to anonymous; any other read failure is returned.
func (s *Store) Resolve(opts ResolveOptions) (Identity, error) {
	if opts.Anonymous {
		return anonymous(), nil
	}
	if id := strings.TrimSpace(opts.NodeID); id != "" {
		return Identity{NodeID: id}, nil
	}

	id, err := s.Load()
	switch {
	case errors.Is(err, ErrNotRegistered):
		return anonymous(), nil
	case err != nil:
		return Identity{}, err
	}
	return Identity{NodeID: id}, nil
}

func anonymous() Identity {
	return Identity{Anonymous: true, SessionID: uuid.NewString()}
}
