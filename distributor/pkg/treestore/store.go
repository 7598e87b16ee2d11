package treestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// TreeStore persists tree artifacts by key. Keys are slash-separated names such as
// "<distribution>.json".
type TreeStore interface {
	Put(ctx context.Context, key string, a *Artifact) error
	Get(ctx context.Context, key string) (*Artifact, error)
}

// KeyFor is the default artifact key of a distribution.
func KeyFor(distribution solana.PublicKey) string {
	return distribution.String() + ".json"
}

type DirConfig struct {
	Logger *slog.Logger
	Dir    string
}

func (cfg *DirConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dir == "" {
		return errors.New("dir is required")
	}
	return nil
}

// Dir stores artifacts as files under a directory.
type Dir struct {
	log *slog.Logger
	cfg DirConfig
}

func NewDir(cfg DirConfig) (*Dir, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tree dir: %w", err)
	}
	return &Dir{log: cfg.Logger, cfg: cfg}, nil
}

func (d *Dir) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(d.cfg.Dir, clean), nil
}

func (d *Dir) Put(_ context.Context, key string, a *Artifact) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	b, err := marshalArtifact(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish artifact: %w", err)
	}
	d.log.Info("treestore: wrote artifact", "path", path, "root", a.Root, "leaves", len(a.Leaves))
	return nil
}

func (d *Dir) Get(_ context.Context, key string) (*Artifact, error) {
	path, err := d.path(key)
	if err != nil {
		return nil, err
	}
	return ReadFile(path)
}

// ReadFile loads an artifact from a local file.
func ReadFile(path string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return unmarshalArtifact(b)
}
