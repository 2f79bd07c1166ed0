package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

// Entry is one cached credential pair, persisted as a unit.
type Entry struct {
	Credential RefreshCredential `json:"credential"`
	Token      AccessToken       `json:"token"`
	MintedAt   time.Time         `json:"minted_at,omitempty"`
}

// TokenStore persists entries shared across processes. Load returns
// (nil, nil) when no entry exists; Delete reports whether one did.
type TokenStore interface {
	Load(key string) (*Entry, error)
	Save(key string, entry *Entry) error
	Delete(key string) (bool, error)
}

type storeFile struct {
	Entries map[string]Entry `json:"entries"`
}

// FileStore keeps all entries in a single JSON file. Every operation
// re-reads the file so concurrent processes observe each other's writes.
type FileStore struct {
	Path string
}

func (s *FileStore) Load(key string) (*Entry, error) {
	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}
	entry, ok := entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *FileStore) Save(key string, entry *Entry) error {
	if entry == nil {
		return errors.New("token entry is nil")
	}
	entries, err := s.readAll()
	if err != nil {
		return err
	}
	entries[key] = *entry
	return s.writeAll(entries)
}

func (s *FileStore) Delete(key string) (bool, error) {
	entries, err := s.readAll()
	if err != nil {
		return false, err
	}
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	return true, s.writeAll(entries)
}

func (s *FileStore) readAll() (map[string]Entry, error) {
	content, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, err
	}
	var file storeFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if file.Entries == nil {
		file.Entries = map[string]Entry{}
	}
	return file.Entries, nil
}

func (s *FileStore) writeAll(entries map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(storeFile{Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	return os.WriteFile(s.Path, content, 0o600)
}

// KeyringStore keeps one entry per cache key in the OS keyring.
type KeyringStore struct {
	Service string
}

func (s *KeyringStore) service() string {
	if s.Service == "" {
		return "gerritctl"
	}
	return s.Service
}

func (s *KeyringStore) Load(key string) (*Entry, error) {
	secret, err := keyring.Get(s.service(), key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(secret), &entry); err != nil {
		return nil, fmt.Errorf("failed to parse keyring entry: %w", err)
	}
	return &entry, nil
}

func (s *KeyringStore) Save(key string, entry *Entry) error {
	if entry == nil {
		return errors.New("token entry is nil")
	}
	content, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring entry: %w", err)
	}
	if err := keyring.Set(s.service(), key, string(content)); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(key string) (bool, error) {
	err := keyring.Delete(s.service(), key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return true, nil
}
