// Package checker wires the ledger and document fetchers to the reward tree
// engine. Check verifies the latest distribution against the previous one;
// Dump exports the latest tree and its proofs.
package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/distribution"
	"github.com/lidofinance/csm-rewards/ledger"
	"github.com/lidofinance/csm-rewards/log"
	"github.com/lidofinance/csm-rewards/metrics"
	"github.com/lidofinance/csm-rewards/rewards"
)

// ErrNoDistribution is returned when the distributor holds no tree yet.
var ErrNoDistribution = errors.New("checker: no distribution happened so far")

// Ledger reads commitments and reported distributions.
type Ledger interface {
	CurrentCommitment(ctx context.Context) (ledger.Commitment, error)
	PreviousCommitment(ctx context.Context, block uint64) (ledger.Commitment, error)
	DistributedAmount(ctx context.Context, root types.Hash) (ledger.Distribution, error)
}

// Fetcher retrieves a tree document by CID.
type Fetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Checker runs checks and dumps against one ledger and fetcher.
type Checker struct {
	ledger  Ledger
	fetcher Fetcher
	metrics *metrics.Check
	now     func() time.Time
	log     *log.Logger
}

// New creates a Checker. m may be nil.
func New(l Ledger, f Fetcher, m *metrics.Check) *Checker {
	return &Checker{
		ledger:  l,
		fetcher: f,
		metrics: m,
		now:     time.Now,
		log:     log.Default().Module("checker"),
	}
}

// Result describes a completed check. Report holds the violations, if any.
type Result struct {
	Current      ledger.Commitment
	Previous     *ledger.Commitment
	Distribution ledger.Distribution
	Report       *distribution.Report
}

// Check validates the latest distribution. It returns ErrNoDistribution when
// nothing was committed yet, an error when the check could not be completed
// or a tree does not match its root, and otherwise a Result whose Report
// lists every violated invariant.
func (c *Checker) Check(ctx context.Context) (res *Result, err error) {
	defer func() {
		if c.metrics != nil && !errors.Is(err, ErrNoDistribution) {
			c.metrics.Finish(err == nil && res.Report.OK(), c.now())
		}
	}()

	curr, err := c.ledger.CurrentCommitment(ctx)
	if err != nil {
		return nil, err
	}
	if curr.Empty() {
		return nil, ErrNoDistribution
	}
	c.log.Info("current commitment", "root", curr.Root, "cid", curr.CID, "block", curr.Block)

	dist, err := c.ledger.DistributedAmount(ctx, curr.Root)
	if err != nil {
		return nil, err
	}

	res = &Result{Current: curr, Distribution: dist}
	prev, err := c.ledger.PreviousCommitment(ctx, dist.Block)
	switch {
	case errors.Is(err, ledger.ErrNoCommitment):
	case err != nil:
		return nil, err
	case !prev.Empty():
		res.Previous = &prev
		c.log.Info("previous commitment", "root", prev.Root, "cid", prev.CID, "block", prev.Block)
	}

	var currTree, prevTree *rewards.Tree
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		currTree, err = c.load(gctx, curr.CID)
		return err
	})
	if res.Previous != nil {
		g.Go(func() error {
			var err error
			prevTree, err = c.load(gctx, res.Previous.CID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in := distribution.Input{
		Current:     distribution.Round{Root: curr.Root, Tree: currTree},
		Distributed: dist.Amount,
	}
	if c.metrics != nil {
		c.metrics.ObserveTree(metrics.RoundCurrent, currTree)
	}
	if prevTree != nil {
		in.Previous = &distribution.Round{Root: res.Previous.Root, Tree: prevTree}
		if c.metrics != nil {
			c.metrics.ObserveTree(metrics.RoundPrevious, prevTree)
		}
	}

	report, err := distribution.Validate(in)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.ObserveReport(report)
	}
	res.Report = report
	return res, nil
}

func (c *Checker) load(ctx context.Context, cid string) (*rewards.Tree, error) {
	start := c.now()
	data, err := c.fetcher.Fetch(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("checker: fetch %s: %w", cid, err)
	}
	tree, err := rewards.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("checker: load %s: %w", cid, err)
	}
	c.log.Debug("loaded tree", "cid", cid, "root", tree.Root(), "operators", tree.Operators(),
		"elapsed", c.now().Sub(start))
	return tree, nil
}
