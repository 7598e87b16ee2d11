package admin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
)

var ErrProofInvalid = errors.New("proof does not verify against the tree root")

// VerifyProof checks a claimant's proof in a tree artifact file against its root and
// that the artifact's leaves rebuild to the same root.
func VerifyProof(log *slog.Logger, w io.Writer, treeFile, claimant string) error {
	pk, err := solana.PublicKeyFromBase58(claimant)
	if err != nil {
		return fmt.Errorf("invalid claimant %q: %w", claimant, err)
	}
	a, err := treestore.ReadFile(treeFile)
	if err != nil {
		return err
	}
	if _, err := a.Tree(); err != nil {
		return fmt.Errorf("artifact is inconsistent: %w", err)
	}

	leaf, valid, err := a.Lookup(pk)
	if err != nil {
		return fmt.Errorf("claimant %s: %w", pk, err)
	}
	log.Debug("admin: verified proof", "claimant", pk, "root", a.Root, "proof_len", len(leaf.Proof), "valid", valid)

	fmt.Fprintf(w, "root:         %s\n", a.Root)
	fmt.Fprintf(w, "claimant:     %s\n", pk)
	fmt.Fprintf(w, "total amount: %d (%s)\n", leaf.TotalAmount, leaf.UIAmount)
	fmt.Fprintf(w, "schedule:     %s\n", leaf.Schedule.Type)
	fmt.Fprintf(w, "proof length: %d\n", len(leaf.Proof))
	if !valid {
		return ErrProofInvalid
	}
	fmt.Fprintln(w, "proof:        valid")
	return nil
}
