package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"capstate/internal/capsule/models"
	"capstate/pkg/domain"
	"capstate/pkg/platform/sentinel"
)

// FileStore persists one JSON document per capsule under:
//
//	<baseDir>/<capsule>/state/product_state_<capsule>.json
//
// Writes are atomic and durable: marshal to a temp file in the same
// directory, fsync it, rename over the target, then fsync the directory. An
// I/O failure at any point leaves the previous valid document in place.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("baseDir is required")
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) statePath(capsuleID domain.CapsuleID) string {
	return filepath.Join(s.baseDir, capsuleID.String(), "state",
		fmt.Sprintf("product_state_%s.json", capsuleID))
}

func (s *FileStore) Load(_ context.Context, capsuleID domain.CapsuleID) (*models.CapsuleState, error) {
	raw, err := os.ReadFile(s.statePath(capsuleID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read state document: %w", err)
	}

	var state models.CapsuleState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state document for %s: %w", capsuleID, err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if state.CapsuleID != capsuleID {
		return nil, fmt.Errorf("state document capsule mismatch: document=%s requested=%s: %w",
			state.CapsuleID, capsuleID, sentinel.ErrConflict)
	}
	return &state, nil
}

func (s *FileStore) Save(_ context.Context, state *models.CapsuleState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	path := s.statePath(state.CapsuleID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state document: %w", err)
	}
	payload = append(payload, '\n')

	tmp, err := os.CreateTemp(dir, ".product_state_*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("swap state document: %w", err)
	}

	// Sync the directory so the rename itself is durable.
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open state directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync state directory: %w", err)
	}
	return nil
}
