package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lidofinance/csm-rewards/distribution"
	"github.com/lidofinance/csm-rewards/ledger"
	"github.com/lidofinance/csm-rewards/rewards"
)

// Output file names.
const (
	TreeFile   = "tree.json"
	ProofsFile = "proofs.json"
)

// DumpResult describes the files written by Dump.
type DumpResult struct {
	Commitment ledger.Commitment
	Tree       *rewards.Tree
	TreePath   string
	ProofsPath string
	// Updated reports whether tree.json differs from what dir held before.
	Updated bool
}

// Dump fetches the current tree, checks it against the committed root and
// writes the tree document and the per-operator proofs into dir.
func (c *Checker) Dump(ctx context.Context, dir string) (*DumpResult, error) {
	curr, err := c.ledger.CurrentCommitment(ctx)
	if err != nil {
		return nil, err
	}
	if curr.Empty() {
		return nil, ErrNoDistribution
	}
	c.log.Info("current commitment", "root", curr.Root, "cid", curr.CID)

	tree, err := c.load(ctx, curr.CID)
	if err != nil {
		return nil, err
	}
	if tree.Root() != curr.Root {
		return nil, &distribution.RootMismatchError{Round: "current", Expected: curr.Root, Actual: tree.Root()}
	}

	doc, err := tree.Dump()
	if err != nil {
		return nil, err
	}
	treeJSON, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	proofs, err := tree.Proofs()
	if err != nil {
		return nil, err
	}
	proofsJSON, err := proofs.Marshal()
	if err != nil {
		return nil, err
	}

	res := &DumpResult{
		Commitment: curr,
		Tree:       tree,
		TreePath:   filepath.Join(dir, TreeFile),
		ProofsPath: filepath.Join(dir, ProofsFile),
	}
	prev, err := os.ReadFile(res.TreePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.Updated = true
	case err != nil:
		return nil, fmt.Errorf("checker: read %s: %w", res.TreePath, err)
	default:
		res.Updated = !bytes.Equal(prev, treeJSON)
	}

	if err := writeFile(res.TreePath, treeJSON); err != nil {
		return nil, err
	}
	if err := writeFile(res.ProofsPath, proofsJSON); err != nil {
		return nil, err
	}
	c.log.Info("dumped tree", "dir", dir, "operators", tree.Operators(), "updated", res.Updated)
	return res, nil
}

// writeFile replaces path through a temporary file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("checker: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checker: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checker: write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("checker: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checker: write %s: %w", path, err)
	}
	return nil
}

// WriteGithubOutput appends the step outputs cid and updated to the file
// named by GITHUB_OUTPUT.
func WriteGithubOutput(path, cid string, updated bool) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("checker: github output: %w", err)
	}
	_, werr := fmt.Fprintf(f, "\ncid=%s\nupdated=%s\n", cid, strconv.FormatBool(updated))
	if err := f.Close(); werr == nil {
		werr = err
	}
	if werr != nil {
		return fmt.Errorf("checker: github output: %w", werr)
	}
	return nil
}
