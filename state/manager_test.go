package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeup/native/tradeup"
	"tradeup/storage"
)

func testDeposit(id int64, fill byte) *tradeup.Deposit {
	dep := &tradeup.Deposit{AssetID: big.NewInt(id), ReceivedAt: 100 + id}
	for i := range dep.Class {
		dep.Class[i] = fill
	}
	for i := range dep.Depositor {
		dep.Depositor[i] = fill + 1
	}
	return dep
}

func TestManagerEmptyLedger(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	count, err := manager.DepositCount()
	require.NoError(t, err)
	require.Zero(t, count)

	dep, ok, err := manager.DepositByIndex(0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, dep)
}

func TestManagerAppendAssignsSequentialIndices(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	for i := int64(0); i < 3; i++ {
		index, err := manager.DepositAppend(testDeposit(i+1, byte(0x10*i+1)))
		require.NoError(t, err)
		require.Equal(t, uint64(i), index)
	}
	count, err := manager.DepositCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
}

func TestManagerRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	original := testDeposit(42, 0xAB)

	index, err := manager.DepositAppend(original)
	require.NoError(t, err)

	loaded, ok, err := manager.DepositByIndex(index)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, original.Class, loaded.Class)
	require.Equal(t, original.Depositor, loaded.Depositor)
	require.Zero(t, original.AssetID.Cmp(loaded.AssetID))
	require.Equal(t, original.ReceivedAt, loaded.ReceivedAt)
	require.False(t, loaded.Consumed)
}

func TestManagerAppendIsolatesStoredRecord(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	original := testDeposit(7, 0x01)

	index, err := manager.DepositAppend(original)
	require.NoError(t, err)

	original.AssetID.SetInt64(999)
	loaded, ok, err := manager.DepositByIndex(index)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), loaded.AssetID.Int64())
}

func TestManagerRejectsInvalidDeposits(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	_, err := manager.DepositAppend(nil)
	require.Error(t, err)

	wildcard := testDeposit(1, 0x01)
	wildcard.AssetID = tradeup.WildcardAssetID()
	_, err = manager.DepositAppend(wildcard)
	require.Error(t, err)

	count, err := manager.DepositCount()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestManagerSetConsumed(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	index, err := manager.DepositAppend(testDeposit(1, 0x01))
	require.NoError(t, err)

	require.NoError(t, manager.DepositSetConsumed(index, true))
	loaded, ok, err := manager.DepositByIndex(index)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, loaded.Consumed)

	require.NoError(t, manager.DepositSetConsumed(index, false))
	loaded, _, err = manager.DepositByIndex(index)
	require.NoError(t, err)
	require.False(t, loaded.Consumed)

	require.Error(t, manager.DepositSetConsumed(99, true))
}
