// Package distribution checks that consecutive reward trees are consistent
// with each other and with the amount reported as distributed on chain.
package distribution

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/rewards"
)

// Validation errors. ErrRootMismatch is fatal; the others are reported as
// violations.
var (
	ErrRootMismatch         = errors.New("distribution: tree root mismatch")
	ErrDistributionMismatch = errors.New("distribution: unexpected distribution results")
	ErrOperatorDropped      = errors.New("distribution: node operator has gone from the distribution")
	ErrSharesDecreased      = errors.New("distribution: node operator shares decreased")
)

// Round is a published tree together with the root committed on chain.
type Round struct {
	Root types.Hash
	Tree *rewards.Tree
}

// Input is everything a validation needs.
type Input struct {
	Current  Round
	Previous *Round
	// Distributed is the amount of shares the oracle reported as distributed
	// in the current round. It is taken as given.
	Distributed *uint256.Int
}

// RootMismatchError reports a tree that does not hash to its committed root.
type RootMismatchError struct {
	Round    string
	Expected types.Hash
	Actual   types.Hash
}

func (e *RootMismatchError) Error() string {
	return fmt.Sprintf("unexpected %s tree root: actual=%s, expected=%s", e.Round, e.Actual, e.Expected)
}

// Is makes errors.Is(err, ErrRootMismatch) hold.
func (e *RootMismatchError) Is(target error) bool {
	return target == ErrRootMismatch
}

// Violation is a single failed invariant.
type Violation struct {
	// Kind is one of ErrDistributionMismatch, ErrOperatorDropped and
	// ErrSharesDecreased.
	Kind error
	// OperatorID is unset for ErrDistributionMismatch.
	OperatorID rewards.NodeOperatorID
	Expected   string
	Actual     string
}

func (v Violation) Error() string {
	switch v.Kind {
	case ErrDistributionMismatch:
		return fmt.Sprintf("%v: actual=%s, expected=%s", v.Kind, v.Actual, v.Expected)
	case ErrOperatorDropped:
		return fmt.Sprintf("%v: id=%d, previous shares=%s", v.Kind, v.OperatorID, v.Expected)
	default:
		return fmt.Sprintf("%v: id=%d, actual=%s, previous=%s", v.Kind, v.OperatorID, v.Actual, v.Expected)
	}
}

// Unwrap exposes the violation kind to errors.Is.
func (v Violation) Unwrap() error {
	return v.Kind
}

// Report is the outcome of a validation.
type Report struct {
	// Diff is the growth of total shares over the previous round. It is
	// negative when the total shrank.
	Diff        *big.Int
	Distributed *uint256.Int
	Violations  []Violation
}

// OK reports whether no invariant was violated.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Err joins all violations into one error, or returns nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Violations))
	for i, v := range r.Violations {
		errs[i] = v
	}
	return errors.Join(errs...)
}

// Validate checks the current round against its committed root, the
// reported distributed amount and the previous round. A root mismatch is
// returned as an error; every other failure is collected in the report.
func Validate(in Input) (*Report, error) {
	if in.Current.Tree == nil {
		return nil, errors.New("distribution: no current tree")
	}
	if err := checkRoot("current", in.Current); err != nil {
		return nil, err
	}
	if in.Previous != nil {
		if in.Previous.Tree == nil {
			return nil, errors.New("distribution: no previous tree")
		}
		if err := checkRoot("previous", *in.Previous); err != nil {
			return nil, err
		}
	}

	distributed := in.Distributed
	if distributed == nil {
		distributed = new(uint256.Int)
	}
	report := &Report{
		Diff:        in.Current.Tree.TotalShares().ToBig(),
		Distributed: distributed.Clone(),
	}
	if in.Previous != nil {
		report.Diff.Sub(report.Diff, in.Previous.Tree.TotalShares().ToBig())
	}

	if report.Diff.Cmp(distributed.ToBig()) != 0 {
		report.Violations = append(report.Violations, Violation{
			Kind:     ErrDistributionMismatch,
			Expected: distributed.Dec(),
			Actual:   report.Diff.String(),
		})
	}

	if in.Previous != nil {
		report.Violations = append(report.Violations, monotonicity(in.Previous.Tree, in.Current.Tree)...)
	}
	return report, nil
}

func checkRoot(name string, r Round) error {
	if actual := r.Tree.Root(); actual != r.Root {
		return &RootMismatchError{Round: name, Expected: r.Root, Actual: actual}
	}
	return nil
}

// monotonicity walks the previous tree in record order so that violations
// come out in a stable order.
func monotonicity(prev, curr *rewards.Tree) []Violation {
	var out []Violation
	for _, r := range prev.Rewards() {
		now, ok := curr.Shares(r.OperatorID)
		if !ok {
			out = append(out, Violation{
				Kind:       ErrOperatorDropped,
				OperatorID: r.OperatorID,
				Expected:   r.Shares.Dec(),
			})
			continue
		}
		if now.Lt(r.Shares) {
			out = append(out, Violation{
				Kind:       ErrSharesDecreased,
				OperatorID: r.OperatorID,
				Expected:   r.Shares.Dec(),
				Actual:     now.Dec(),
			})
		}
	}
	return out
}
