// Package creds persists per-session chat-network credentials as one
// directory per (owner, session) under a configured root. The directory
// lives for the lifetime of the session and is only removed on explicit
// deletion, never on transient disconnects.
package creds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zapgate/gateway-server-go/internal/chat"
)

const credsFile = "creds.json"

type Key struct {
	OwnerID   string
	SessionID string
}

func (k Key) String() string {
	return k.OwnerID + "/" + k.SessionID
}

type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) dir(k Key) string {
	return filepath.Join(s.root, k.OwnerID, k.SessionID)
}

// Handle is one loaded credential set plus the ability to persist updates.
type Handle struct {
	store       *Store
	key         Key
	Credentials chat.Credentials
}

// Load reads the credential material for a key, creating the directory if
// this is a fresh session. Missing material yields empty credentials.
func (s *Store) Load(k Key) (*Handle, error) {
	dir := s.dir(k)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	h := &Handle{store: s, key: k}

	data, err := os.ReadFile(filepath.Join(dir, credsFile))
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	if err := json.Unmarshal(data, &h.Credentials); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return h, nil
}

// Save atomically rewrites the credential file.
func (h *Handle) Save(c chat.Credentials) error {
	h.Credentials = c

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := h.store.dir(h.key)
	tmp := filepath.Join(dir, credsFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, credsFile)); err != nil {
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}

// Delete removes the credential directory and everything in it.
func (s *Store) Delete(k Key) error {
	return os.RemoveAll(s.dir(k))
}

// List enumerates every persisted (owner, session) credential directory.
func (s *Store) List() ([]Key, error) {
	owners, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list credential root: %w", err)
	}

	var keys []Key
	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		sessions, err := os.ReadDir(filepath.Join(s.root, owner.Name()))
		if err != nil {
			return nil, fmt.Errorf("list owner dir %s: %w", owner.Name(), err)
		}
		for _, sess := range sessions {
			if !sess.IsDir() {
				continue
			}
			keys = append(keys, Key{OwnerID: owner.Name(), SessionID: sess.Name()})
		}
	}
	return keys, nil
}
