// Package fsstage keeps run scratch space next to the final output so the
// commit is a same-filesystem rename.
package fsstage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/forPelevin/splicecut/internal/ports"
)

const lockRetry = 100 * time.Millisecond

type Stager struct{}

func New() *Stager { return &Stager{} }

var _ ports.Stager = (*Stager)(nil)

func (s *Stager) PrepareTemp(finalPath string) (string, error) {
	parent := filepath.Dir(finalPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	dir := filepath.Join(parent, ".splicecut-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

// Commit renames tempPath over finalPath while holding an exclusive lock on
// finalPath, so two runs targeting the same file cannot interleave.
func (s *Stager) Commit(ctx context.Context, tempPath, finalPath string) error {
	lockPath := finalPath + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock %s: %w", finalPath, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: already held", finalPath)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lockPath)
	}()

	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("commit %s: %w", finalPath, err)
	}
	return nil
}

func (s *Stager) Discard(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("discard %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
