package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// distributorABI is the subset of the CSFeeDistributor interface the ledger
// reads.
const distributorABI = `[
  {"type":"function","name":"treeRoot","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"treeCid","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"event","name":"DistributionDataUpdated","anonymous":false,"inputs":[
    {"name":"totalClaimableShares","type":"uint256","indexed":false},
    {"name":"treeRoot","type":"bytes32","indexed":false},
    {"name":"treeCid","type":"string","indexed":false}
  ]}
]`

const eventDistributionDataUpdated = "DistributionDataUpdated"

var (
	distributor = mustParseABI(distributorABI)

	// reportArgs are the arguments of the oracle's report submission:
	// submitReportData(ReportData data, uint256 contractVersion).
	reportArgs = abi.Arguments{
		{Name: "data", Type: mustNewType("tuple", []abi.ArgumentMarshaling{
			{Name: "consensusVersion", Type: "uint256"},
			{Name: "refSlot", Type: "uint256"},
			{Name: "treeRoot", Type: "bytes32"},
			{Name: "treeCid", Type: "string"},
			{Name: "logCid", Type: "string"},
			{Name: "distributed", Type: "uint256"},
		})},
		{Name: "contractVersion", Type: mustNewType("uint256", nil)},
	}
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustNewType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

// reportData is the report tuple submitted by the fee oracle.
type reportData struct {
	ConsensusVersion *big.Int
	RefSlot          *big.Int
	TreeRoot         [32]byte
	TreeCid          string
	LogCid           string
	Distributed      *big.Int
}

type submitReportCall struct {
	Data            reportData
	ContractVersion *big.Int
}

type distributionDataUpdated struct {
	TotalClaimableShares *big.Int
	TreeRoot             [32]byte
	TreeCid              string
}

var errShortCalldata = errors.New("ledger: calldata shorter than a selector")

// decodeReport decodes transaction input as a report submission. The
// selector is not checked; input of any other shape fails to decode.
func decodeReport(input []byte) (reportData, error) {
	if len(input) < 4 {
		return reportData{}, errShortCalldata
	}
	values, err := reportArgs.Unpack(input[4:])
	if err != nil {
		return reportData{}, fmt.Errorf("ledger: decode report: %w", err)
	}
	var call submitReportCall
	if err := reportArgs.Copy(&call, values); err != nil {
		return reportData{}, fmt.Errorf("ledger: decode report: %w", err)
	}
	if call.Data.Distributed == nil {
		return reportData{}, errors.New("ledger: decode report: missing distributed amount")
	}
	return call.Data, nil
}
