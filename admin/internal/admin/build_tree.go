package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

// AllocationEntry is one row of an allocations file.
type AllocationEntry struct {
	Claimant    string             `json:"claimant"`
	TotalAmount uint64             `json:"total_amount"`
	Schedule    vesting.Descriptor `json:"schedule"`
}

type BuildTreeConfig struct {
	AllocationsFile string
	Decimals        uint8

	// Exactly one of TreeOut or S3Bucket/S3Key selects the destination.
	TreeOut    string
	S3Bucket   string
	S3Key      string
	S3Region   string
	S3Endpoint string
}

func (cfg *BuildTreeConfig) Validate() error {
	if cfg.AllocationsFile == "" {
		return errors.New("--allocations-file is required")
	}
	toS3 := cfg.S3Bucket != "" || cfg.S3Key != ""
	switch {
	case cfg.TreeOut != "" && toS3:
		return errors.New("--tree-out and --s3-bucket/--s3-key are mutually exclusive")
	case cfg.TreeOut == "" && !toS3:
		return errors.New("one of --tree-out or --s3-bucket/--s3-key is required")
	case toS3 && (cfg.S3Bucket == "" || cfg.S3Key == ""):
		return errors.New("--s3-bucket and --s3-key must be set together")
	}
	return nil
}

// ReadAllocations parses an allocations file into tree leaves, validating every schedule.
func ReadAllocations(r io.Reader) ([]merkle.Leaf, error) {
	var entries []AllocationEntry
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse allocations: %w", err)
	}
	leaves := make([]merkle.Leaf, len(entries))
	for i, e := range entries {
		claimant, err := solana.PublicKeyFromBase58(e.Claimant)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: invalid claimant %q: %w", i, e.Claimant, err)
		}
		if e.TotalAmount == 0 {
			return nil, fmt.Errorf("allocation %d (%s): total amount must be positive", i, claimant)
		}
		s, err := e.Schedule.Schedule()
		if err != nil {
			return nil, fmt.Errorf("allocation %d (%s): %w", i, claimant, err)
		}
		leaves[i] = merkle.Leaf{Claimant: claimant, TotalAmount: e.TotalAmount, Schedule: s}
	}
	return leaves, nil
}

// BuildTree builds a merkle tree from an allocations file and publishes its artifact.
func BuildTree(ctx context.Context, log *slog.Logger, w io.Writer, cfg BuildTreeConfig) (*treestore.Artifact, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := os.Open(cfg.AllocationsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open allocations file: %w", err)
	}
	defer f.Close()

	leaves, err := ReadAllocations(f)
	if err != nil {
		return nil, err
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build tree: %w", err)
	}
	artifact := treestore.NewArtifact(tree, cfg.Decimals)

	var (
		store treestore.TreeStore
		key   string
	)
	if cfg.TreeOut != "" {
		store, err = treestore.NewDir(treestore.DirConfig{Logger: log, Dir: filepath.Dir(cfg.TreeOut)})
		key = filepath.Base(cfg.TreeOut)
	} else {
		var client treestore.S3API
		client, err = treestore.NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint)
		if err == nil {
			store, err = treestore.NewS3(treestore.S3Config{Logger: log, Client: client, Bucket: cfg.S3Bucket})
		}
		key = cfg.S3Key
	}
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, key, artifact); err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "root:         %s\n", artifact.Root)
	fmt.Fprintf(w, "leaves:       %d\n", len(artifact.Leaves))
	fmt.Fprintf(w, "total amount: %d (%s)\n", artifact.TotalAmount, artifact.TotalUI)
	return artifact, nil
}
