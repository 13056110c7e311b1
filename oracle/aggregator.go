package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// aggregatorV3ABI covers the read surface of a Chainlink AggregatorV3 feed.
const aggregatorV3ABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var errUnexpectedOutput = errors.New("oracle: unexpected aggregator output")

func parseAggregatorABI() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABI))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// AggregatorFeed reads an on-chain AggregatorV3 contract through any
// ContractCaller, typically an *ethclient.Client.
type AggregatorFeed struct {
	caller   ethereum.ContractCaller
	address  common.Address
	feedABI  *abi.ABI
	decimals uint8
}

// NewAggregatorFeed binds a feed contract and reads its decimals once.
func NewAggregatorFeed(ctx context.Context, caller ethereum.ContractCaller, address common.Address) (*AggregatorFeed, error) {
	if caller == nil {
		return nil, fmt.Errorf("oracle: contract caller required")
	}
	feedABI, err := parseAggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	f := &AggregatorFeed{caller: caller, address: address, feedABI: feedABI}
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("%w: decimals %T", errUnexpectedOutput, out[0])
	}
	f.decimals = decimals
	return f, nil
}

// Address returns the bound contract address.
func (f *AggregatorFeed) Address() common.Address { return f.address }

// Decimals implements Feed.
func (f *AggregatorFeed) Decimals() uint8 { return f.decimals }

// LatestRoundData implements Feed.
func (f *AggregatorFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return RoundData{}, err
	}
	// (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
	if len(out) != 5 {
		return RoundData{}, fmt.Errorf("%w: %d values", errUnexpectedOutput, len(out))
	}
	roundID, ok1 := out[0].(*big.Int)
	answer, ok2 := out[1].(*big.Int)
	updatedAt, ok3 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return RoundData{}, errUnexpectedOutput
	}
	return RoundData{
		RoundID:   roundID,
		Answer:    answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (f *AggregatorFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	callData, err := f.feedABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	addr := f.address
	raw, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, f.address.Hex(), err)
	}
	out, err := f.feedABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty %s", errUnexpectedOutput, method)
	}
	return out, nil
}
