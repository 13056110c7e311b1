package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	answer  *big.Int
	updated int64
	calls   int
	err     error
}

func (c *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	feedABI, err := parseAggregatorABI()
	if err != nil {
		return nil, err
	}
	method, err := feedABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(uint8(8))
	case "latestRoundData":
		return method.Outputs.Pack(big.NewInt(7), c.answer, big.NewInt(c.updated), big.NewInt(c.updated), big.NewInt(7))
	}
	return nil, errors.New("unknown method")
}

func TestAggregatorFeedDecodesRound(t *testing.T) {
	caller := &fakeCaller{answer: big.NewInt(2000_00000000), updated: 1_700_000_000}
	feed, err := NewAggregatorFeed(context.Background(), caller, common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"))
	require.NoError(t, err)
	require.Equal(t, uint8(8), feed.Decimals())

	round, err := feed.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, round.Answer.Cmp(big.NewInt(2000_00000000)))
	require.Equal(t, 0, round.RoundID.Cmp(big.NewInt(7)))
	require.True(t, round.UpdatedAt.Equal(time.Unix(1_700_000_000, 0)))
	require.Equal(t, 2, caller.calls)
}

func TestAggregatorFeedPropagatesCallError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("rpc down")}
	_, err := NewAggregatorFeed(context.Background(), caller, common.Address{})
	require.ErrorContains(t, err, "rpc down")
}

func TestStaticFeedRounds(t *testing.T) {
	now := time.Unix(1_000, 0)
	feed := NewStaticFeed(big.NewInt(100), DefaultDecimals)
	feed.SetClock(func() time.Time { return now })

	first, err := feed.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100), first.Answer.Int64())

	now = now.Add(time.Minute)
	feed.Set(big.NewInt(250))
	second, err := feed.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(250), second.Answer.Int64())
	require.Equal(t, 1, second.RoundID.Cmp(first.RoundID))
	require.True(t, second.UpdatedAt.Equal(now))

	first.Answer.SetInt64(0)
	again, _ := feed.LatestRoundData(context.Background())
	require.Equal(t, int64(250), again.Answer.Int64())

	feed.Set(nil)
	_, err = feed.LatestRoundData(context.Background())
	require.ErrorIs(t, err, errNoPrice)
}
