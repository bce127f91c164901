// Package file provides a file-based persistence implementation. The whole
// dataset lives in one JSON document so a transaction can be swapped in
// atomically.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidewire/tidewire/pkg/persistence"
)

const dataFileName = "tidewire.json"

// Persistence implements persistence.Persistence on the file system.
// Repositories handed to a Transaction callback must be used instead of the
// Persistence's own repositories until the callback returns.
type Persistence struct {
	root  string
	mu    sync.RWMutex
	state *state
}

// NewPersistence creates a Persistence rooted at the given directory, loading
// previously flushed data when present.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{
		root:  cleanRoot,
		state: newState(),
	}

	data, err := os.ReadFile(p.dataPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}

		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode data file: %w", err)
	}

	p.state = doc.toState()

	return p, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", p.root)
	}

	return nil
}

func (p *Persistence) Users() persistence.UserRepository {
	return &userRepository{access: p}
}

func (p *Persistence) Roles() persistence.RoleRepository {
	return &roleRepository{access: p}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &workflowRepository{access: p}
}

func (p *Persistence) SharedWorkflows() persistence.SharedWorkflowRepository {
	return &sharedWorkflowRepository{access: p}
}

func (p *Persistence) Credentials() persistence.CredentialRepository {
	return &credentialRepository{access: p}
}

func (p *Persistence) SharedCredentials() persistence.SharedCredentialRepository {
	return &sharedCredentialRepository{access: p}
}

// Transaction runs fn against a private copy of the dataset and publishes the
// copy only when fn succeeds and the copy was flushed to disk.
func (p *Persistence) Transaction(
	ctx context.Context,
	fn func(ctx context.Context, tx persistence.Repositories) error,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.state.clone()

	if err := fn(ctx, &txRepositories{access: &txAccess{state: next}}); err != nil {
		return persistence.NewTransactionError(err)
	}

	if err := p.flush(next); err != nil {
		return persistence.NewTransactionError(err)
	}

	p.state = next

	return nil
}

func (p *Persistence) read(fn func(st *state) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return fn(p.state)
}

func (p *Persistence) write(fn func(st *state) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.state.clone()

	if err := fn(next); err != nil {
		return err
	}

	if err := p.flush(next); err != nil {
		return err
	}

	p.state = next

	return nil
}

func (p *Persistence) dataPath() string {
	return filepath.Join(p.root, dataFileName)
}

// flush writes the state to a temporary file and renames it over the data
// file so readers never observe a partial document.
func (p *Persistence) flush(st *state) error {
	if err := os.MkdirAll(p.root, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(newDocument(st), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data file: %w", err)
	}

	tmp, err := os.CreateTemp(p.root, dataFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary data file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write data file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to close data file: %w", err)
	}

	if err := os.Rename(tmpName, p.dataPath()); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to replace data file: %w", err)
	}

	return nil
}

// access abstracts where repositories read and write: the live dataset under
// the lock, or a transaction's private copy.
type access interface {
	read(fn func(st *state) error) error
	write(fn func(st *state) error) error
}

type txAccess struct {
	state *state
}

func (a *txAccess) read(fn func(st *state) error) error {
	return fn(a.state)
}

func (a *txAccess) write(fn func(st *state) error) error {
	return fn(a.state)
}

type txRepositories struct {
	access access
}

func (t *txRepositories) Users() persistence.UserRepository {
	return &userRepository{access: t.access}
}

func (t *txRepositories) Roles() persistence.RoleRepository {
	return &roleRepository{access: t.access}
}

func (t *txRepositories) Workflows() persistence.WorkflowRepository {
	return &workflowRepository{access: t.access}
}

func (t *txRepositories) SharedWorkflows() persistence.SharedWorkflowRepository {
	return &sharedWorkflowRepository{access: t.access}
}

func (t *txRepositories) Credentials() persistence.CredentialRepository {
	return &credentialRepository{access: t.access}
}

func (t *txRepositories) SharedCredentials() persistence.SharedCredentialRepository {
	return &sharedCredentialRepository{access: t.access}
}
