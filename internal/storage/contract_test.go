package storage

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectorUnderTest is what both connectors must satisfy.
type connectorUnderTest interface {
	ILogStorage
	IStateStorage
	IUserDirectory
}

func testLog(block, logIndex, txIndex uint64) common.RawLog {
	return common.RawLog{
		Address:          "0xABC0000000000000000000000000000000000001",
		Topics:           []string{"0x01"},
		Data:             "0x",
		BlockNumber:      block,
		BlockHash:        fmt.Sprintf("0xb%d", block),
		BlockTimestamp:   time.Unix(int64(1_700_000_000+block), 0).UTC(),
		TransactionHash:  fmt.Sprintf("0xt%d_%d", block, txIndex),
		TransactionIndex: txIndex,
		LogIndex:         logIndex,
	}
}

func runLogStorageContract(t *testing.T, conn connectorUnderTest) {
	ctx := context.Background()

	t.Run("insert is idempotent and reads are causally ordered", func(t *testing.T) {
		logs := []common.RawLog{testLog(12, 0, 0), testLog(10, 4, 1), testLog(10, 2, 0)}
		inserted, err := conn.InsertLogs(ctx, logs)
		require.NoError(t, err)
		assert.Equal(t, 3, inserted)

		inserted, err = conn.InsertLogs(ctx, logs)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)

		unprocessed, err := conn.GetUnprocessedLogs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, unprocessed, 3)
		assert.Equal(t, uint64(10), unprocessed[0].BlockNumber)
		assert.Equal(t, uint64(2), unprocessed[0].LogIndex)
		assert.Equal(t, uint64(4), unprocessed[1].LogIndex)
		assert.Equal(t, uint64(12), unprocessed[2].BlockNumber)
		assert.Equal(t, "0xabc0000000000000000000000000000000000001", unprocessed[0].Address)
		assert.Equal(t, []string{"0x01"}, unprocessed[0].Topics)

		limited, err := conn.GetUnprocessedLogs(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("retention deletes only old processed logs", func(t *testing.T) {
		now := time.Now().UTC()
		_, err := conn.InsertLogs(ctx, []common.RawLog{testLog(100, 0, 0), testLog(101, 0, 0), testLog(102, 0, 0)})
		require.NoError(t, err)
		all, err := conn.GetUnprocessedLogs(ctx, 0)
		require.NoError(t, err)

		ids := map[uint64]int64{}
		for _, l := range all {
			ids[l.BlockNumber] = l.ID
		}
		require.NoError(t, conn.MarkLogsProcessed(ctx, []int64{ids[100]}, now.Add(-31*24*time.Hour)))
		require.NoError(t, conn.MarkLogsProcessed(ctx, []int64{ids[101]}, now.Add(-time.Hour)))

		deleted, err := conn.DeleteProcessedLogsBefore(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		remaining, err := conn.GetUnprocessedLogs(ctx, 0)
		require.NoError(t, err)
		blocks := map[uint64]bool{}
		for _, l := range remaining {
			blocks[l.BlockNumber] = true
		}
		assert.True(t, blocks[102], "unprocessed log must survive retention")
		assert.False(t, blocks[101], "recent processed log is not returned as unprocessed")

		deleted, err = conn.DeleteProcessedLogsBefore(ctx, now.Add(365*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted, "only the processed log is eligible, regardless of age")
	})

	t.Run("checkpoint is monotonic", func(t *testing.T) {
		_, err := conn.GetCheckpoint(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, conn.ResetCheckpoint(ctx, 100))
		at := time.Now().UTC()
		require.NoError(t, conn.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Block: 110, Events: 3, Transactions: 2, At: at}))
		require.NoError(t, conn.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Block: 105, Events: 1, Transactions: 1, At: at}))

		cp, err := conn.GetCheckpoint(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(110), cp.LastProcessedBlock)
		assert.Equal(t, uint64(4), cp.TotalProcessedEvents)
		assert.Equal(t, uint64(3), cp.TotalProcessedTransactions)
		require.NotNil(t, cp.LastSuccessfulSync)

		require.NoError(t, conn.RecordSyncError(ctx, "rpc down", at))
		require.NoError(t, conn.SetSyncing(ctx, true))
		cp, err = conn.GetCheckpoint(ctx)
		require.NoError(t, err)
		assert.Equal(t, "rpc down", cp.LastErrorMessage)
		assert.True(t, cp.IsSyncing)
		assert.Equal(t, uint64(110), cp.LastProcessedBlock)

		require.NoError(t, conn.ResetCheckpoint(ctx, 50))
		cp, err = conn.GetCheckpoint(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), cp.LastProcessedBlock)
	})
}

func runStateStorageContract(t *testing.T, conn connectorUnderTest) {
	ctx := context.Background()

	creator, err := conn.CreateUser(ctx, "0xCREATOR")
	require.NoError(t, err)
	again, err := conn.CreateUser(ctx, "0xcreator")
	require.NoError(t, err)
	assert.Equal(t, creator.ID, again.ID)

	found, err := conn.FindByAddress(ctx, "0xCreator")
	require.NoError(t, err)
	assert.Equal(t, creator.ID, found.ID)
	_, err = conn.FindByAddress(ctx, "0xnobody")
	assert.ErrorIs(t, err, ErrNotFound)

	trader, err := conn.CreateUser(ctx, "0xtrader")
	require.NoError(t, err)

	_, err = conn.InsertLogs(ctx, []common.RawLog{testLog(500, 0, 0), testLog(500, 1, 0)})
	require.NoError(t, err)
	pending, err := conn.GetUnprocessedLogs(ctx, 0)
	require.NoError(t, err)
	var logIDs []int64
	for _, l := range pending {
		if l.BlockNumber == 500 {
			logIDs = append(logIDs, l.ID)
		}
	}
	require.Len(t, logIDs, 2)

	t.Run("pending token is found and launched in place", func(t *testing.T) {
		draft := &common.TokenMarket{TransactionHash: "0xLAUNCH", CreatorID: creator.ID, Name: "draft"}
		require.NoError(t, conn.CommitGroup(ctx, &common.GroupCommit{TokenAddress: "", Token: draft}))
		require.NotZero(t, draft.ID)

		found, err := conn.FindPendingToken(ctx, "0xlaunch", creator.ID)
		require.NoError(t, err)
		assert.Equal(t, draft.ID, found.ID)

		_, err = conn.FindPendingToken(ctx, "0xlaunch", trader.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("group commit is atomic and idempotent", func(t *testing.T) {
		draft, err := conn.FindPendingToken(ctx, "0xlaunch", creator.ID)
		require.NoError(t, err)
		now := time.Now().UTC().Truncate(time.Second)

		draft.Address = "0xTOKEN"
		draft.Launched = true
		draft.Curve = common.CurveBeginner
		draft.TotalSupply = big.NewInt(10_000)
		draft.VirtualX = big.NewInt(12_000)
		draft.VirtualY = big.NewInt(3_000)
		draft.Price = big.NewInt(250)
		draft.CurveParams = common.CurveParams{X0: big.NewInt(12_000), Y0: big.NewInt(3_000)}
		draft.LaunchedAt = &now

		commit := &common.GroupCommit{
			TokenAddress: "0xtoken",
			Token:        draft,
			Trades: []common.TradeRecord{{
				TraderID: trader.ID, Direction: common.TradeBuy, QuoteAmount: big.NewInt(100), TokenAmount: big.NewInt(400),
				TransactionHash: "0xT500_0", LogIndex: 1, BlockNumber: 500, Timestamp: now,
			}},
			Activities: []common.ActivityRecord{
				{UserID: creator.ID, Type: common.ActivityCreated, TransactionHash: "0xt500_0", LogIndex: 0, Timestamp: now},
				{UserID: trader.ID, Type: common.ActivityBuy, QuoteAmount: big.NewInt(100), TokenAmount: big.NewInt(400), TransactionHash: "0xt500_0", LogIndex: 1, Timestamp: now},
			},
			Holders:         []common.HolderBalance{{HolderID: trader.ID, Balance: big.NewInt(400)}},
			ProcessedLogIDs: logIDs,
			ProcessedAt:     now,
		}
		require.NoError(t, conn.CommitGroup(ctx, commit))
		tokenID := commit.Token.ID

		token, err := conn.GetTokenByAddress(ctx, "0xToken")
		require.NoError(t, err)
		assert.Equal(t, tokenID, token.ID)
		assert.True(t, token.Launched)
		assert.Equal(t, common.CurveBeginner, token.Curve)
		assert.Equal(t, int64(12_000), token.VirtualX.Int64())
		assert.Equal(t, int64(12_000), token.CurveParams.X0.Int64())

		applied, err := conn.GetAppliedEventKeys(ctx, []common.EventKey{
			common.NewEventKey("0xt500_0", 0), common.NewEventKey("0xt500_0", 1), common.NewEventKey("0xt500_0", 9),
		})
		require.NoError(t, err)
		assert.Len(t, applied, 2)
		assert.False(t, applied[common.NewEventKey("0xt500_0", 9)])

		balances, err := conn.GetHolderBalances(ctx, tokenID, []int64{trader.ID, creator.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(400), balances[trader.ID].Int64())
		_, hasCreator := balances[creator.ID]
		assert.False(t, hasCreator)

		remaining, err := conn.GetUnprocessedLogs(ctx, 0)
		require.NoError(t, err)
		for _, l := range remaining {
			assert.NotEqual(t, uint64(500), l.BlockNumber)
		}

		// replaying the same ledger rows must not double count
		commit.Token = token
		require.NoError(t, conn.CommitGroup(ctx, commit))
		volume, err := conn.GetTradeVolumeSince(ctx, tokenID, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(100), volume.Int64())

		volume, err = conn.GetTradeVolumeSince(ctx, tokenID, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), volume.Int64())
	})

	t.Run("address collisions roll the whole group back", func(t *testing.T) {
		other := &common.TokenMarket{TransactionHash: "0xother", CreatorID: creator.ID}
		require.NoError(t, conn.CommitGroup(ctx, &common.GroupCommit{Token: other}))

		_, err := conn.InsertLogs(ctx, []common.RawLog{testLog(600, 0, 0)})
		require.NoError(t, err)
		logs, err := conn.GetUnprocessedLogs(ctx, 0)
		require.NoError(t, err)
		var id int64
		for _, l := range logs {
			if l.BlockNumber == 600 {
				id = l.ID
			}
		}
		require.NotZero(t, id)

		other.Address = "0xtoken"
		other.Launched = true
		other.VirtualX = big.NewInt(1)
		err = conn.CommitGroup(ctx, &common.GroupCommit{
			TokenAddress:    "0xtoken",
			Token:           other,
			ProcessedLogIDs: []int64{id},
			ProcessedAt:     time.Now(),
		})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		logs, err = conn.GetUnprocessedLogs(ctx, 0)
		require.NoError(t, err)
		stillPending := false
		for _, l := range logs {
			if l.ID == id {
				stillPending = true
			}
		}
		assert.True(t, stillPending)
	})
	t.Run("graduation is claimed once and survives stale commits", func(t *testing.T) {
		token, err := conn.GetTokenByAddress(ctx, "0xtoken")
		require.NoError(t, err)
		stale := token.Clone()

		token.GraduationState = common.GraduationDue
		require.NoError(t, conn.CommitGroup(ctx, &common.GroupCommit{TokenAddress: "0xtoken", Token: token}))

		awaiting, err := conn.GetTokensAwaitingGraduation(ctx, 0)
		require.NoError(t, err)
		require.Len(t, awaiting, 1)
		assert.Equal(t, token.ID, awaiting[0].ID)

		claimed, err := conn.ClaimGraduation(ctx, token.ID)
		require.NoError(t, err)
		assert.True(t, claimed)
		claimed, err = conn.ClaimGraduation(ctx, token.ID)
		require.NoError(t, err)
		assert.False(t, claimed)

		awaiting, err = conn.GetTokensAwaitingGraduation(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, awaiting)

		require.NoError(t, conn.CommitGroup(ctx, &common.GroupCommit{TokenAddress: "0xtoken", Token: stale.Clone()}))
		stored, err := conn.GetTokenByAddress(ctx, "0xtoken")
		require.NoError(t, err)
		assert.Equal(t, common.GraduationSubmitting, stored.GraduationState)

		require.NoError(t, conn.SetGraduationResult(ctx, token.ID, common.GraduationSubmitted, "0xgrad"))
		require.NoError(t, conn.CommitGroup(ctx, &common.GroupCommit{TokenAddress: "0xtoken", Token: stale.Clone()}))
		stored, err = conn.GetTokenByAddress(ctx, "0xtoken")
		require.NoError(t, err)
		assert.Equal(t, common.GraduationSubmitted, stored.GraduationState)
		assert.Equal(t, "0xgrad", stored.GraduationTxHash)

		err = conn.SetGraduationResult(ctx, 1_000_000, common.GraduationSubmitted, "0xnope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
