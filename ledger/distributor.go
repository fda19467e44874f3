// Package ledger reads reward tree commitments and distribution reports from
// the CSFeeDistributor contract over Ethereum JSON-RPC.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/log"
)

// Ledger errors.
var (
	ErrDistributionNotFound = errors.New("ledger: no distribution event found")
	ErrNoCommitment         = errors.New("ledger: no commitment before genesis")
)

// DefaultBlockRange is 45 days of 12 second slots.
const DefaultBlockRange = 45 * 24 * 3600 / 12

// Backend is the part of ethclient.Client the distributor uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
}

// Commitment is the tree root and CID stored in the distributor at a block.
type Commitment struct {
	Root  types.Hash
	CID   string
	Block uint64
}

// Empty reports whether nothing was committed.
func (c Commitment) Empty() bool {
	return c.CID == "" || c.Root.IsZero()
}

// Distribution is the amount of shares the oracle reported as distributed
// together with the block of its DistributionDataUpdated event.
type Distribution struct {
	Amount *uint256.Int
	Block  uint64
	TxHash types.Hash
}

// Distributor reads the CSFeeDistributor contract.
type Distributor struct {
	backend    Backend
	address    common.Address
	blockRange uint64
	log        *log.Logger
}

// NewDistributor creates a Distributor for the contract at address. A zero
// blockRange selects DefaultBlockRange.
func NewDistributor(backend Backend, address common.Address, blockRange uint64) *Distributor {
	if blockRange == 0 {
		blockRange = DefaultBlockRange
	}
	return &Distributor{
		backend:    backend,
		address:    address,
		blockRange: blockRange,
		log:        log.Default().Module("ledger"),
	}
}

// CurrentCommitment returns the commitment at the latest block.
func (d *Distributor) CurrentCommitment(ctx context.Context) (Commitment, error) {
	head, err := d.backend.BlockNumber(ctx)
	if err != nil {
		return Commitment{}, fmt.Errorf("ledger: block number: %w", err)
	}
	return d.CommitmentAt(ctx, head)
}

// PreviousCommitment returns the commitment in force just before block. An
// empty CID means there was no prior round.
func (d *Distributor) PreviousCommitment(ctx context.Context, block uint64) (Commitment, error) {
	if block == 0 {
		return Commitment{}, ErrNoCommitment
	}
	return d.CommitmentAt(ctx, block-1)
}

// CommitmentAt reads treeRoot() and treeCid() at block.
func (d *Distributor) CommitmentAt(ctx context.Context, block uint64) (Commitment, error) {
	c := Commitment{Block: block}

	var cid string
	if err := d.call(ctx, block, "treeCid", &cid); err != nil {
		return Commitment{}, err
	}
	if cid == "" {
		return c, nil
	}
	var root [32]byte
	if err := d.call(ctx, block, "treeRoot", &root); err != nil {
		return Commitment{}, err
	}
	c.CID, c.Root = cid, types.Hash(root)
	return c, nil
}

func (d *Distributor) call(ctx context.Context, block uint64, method string, out any) error {
	input, err := distributor.Pack(method)
	if err != nil {
		return fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &d.address, Data: input}
	output, err := d.backend.CallContract(ctx, msg, new(big.Int).SetUint64(block))
	if err != nil {
		return fmt.Errorf("ledger: call %s at %d: %w", method, block, err)
	}
	if err := distributor.UnpackIntoInterface(out, method, output); err != nil {
		return fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	return nil
}

// DistributedAmount finds the report that committed root and returns the
// amount it distributed. Logs are scanned newest first over the configured
// block range ending at the latest block.
func (d *Distributor) DistributedAmount(ctx context.Context, root types.Hash) (Distribution, error) {
	head, err := d.backend.BlockNumber(ctx)
	if err != nil {
		return Distribution{}, fmt.Errorf("ledger: block number: %w", err)
	}
	from := uint64(0)
	if head > d.blockRange {
		from = head - d.blockRange
	}

	logs, err := d.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{d.address},
		Topics:    [][]common.Hash{{distributor.Events[eventDistributionDataUpdated].ID}},
	})
	if err != nil {
		return Distribution{}, fmt.Errorf("ledger: filter logs: %w", err)
	}
	d.log.Debug("scanning distribution events", "from", from, "to", head, "events", len(logs))

	for _, l := range slices.Backward(logs) {
		if !d.eventMayMatch(l, root) {
			continue
		}
		tx, _, err := d.backend.TransactionByHash(ctx, l.TxHash)
		if err != nil {
			return Distribution{}, fmt.Errorf("ledger: transaction %s: %w", l.TxHash, err)
		}
		report, err := decodeReport(tx.Data())
		if err != nil {
			// The report method signature changed over time.
			d.log.Debug("skipping undecodable report", "tx", l.TxHash, "err", err)
			continue
		}
		if types.Hash(report.TreeRoot) != root {
			continue
		}
		amount, _ := uint256.FromBig(report.Distributed)
		d.log.Info("found distribution", "tx", l.TxHash, "block", l.BlockNumber,
			"distributed", amount.Dec(), "root", root)
		return Distribution{Amount: amount, Block: l.BlockNumber, TxHash: types.Hash(l.TxHash)}, nil
	}
	return Distribution{}, fmt.Errorf("%w: root %s in blocks %d..%d", ErrDistributionNotFound, root, from, head)
}

// eventMayMatch uses the event payload to skip transactions committing
// another root. Payloads that do not decode are not trusted either way.
func (d *Distributor) eventMayMatch(l gethtypes.Log, root types.Hash) bool {
	var evt distributionDataUpdated
	if err := distributor.UnpackIntoInterface(&evt, eventDistributionDataUpdated, l.Data); err != nil {
		return true
	}
	return types.Hash(evt.TreeRoot) == root
}
