package wal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinidb/clusterd/internal/wal"
)

func TestMemoryStorage_DiffSinceTimestamp(t *testing.T) {
	s := wal.NewMemoryStorage(wal.ReaderInitPhase1)

	s.Append(&wal.Entry{TxnID: 1, CommitTS: 10})
	s.Append(&wal.Entry{TxnID: 2, CommitTS: 20})
	s.Append(&wal.Entry{TxnID: 3, CommitTS: 30})

	assert.Equal(t, uint64(30), s.CurrentCommitTS())

	diff, err := s.GetDiffWALEntriesSince(10)
	require.NoError(t, err)
	require.Len(t, diff, 2)
	assert.Equal(t, uint64(2), diff[0].TxnID)
	assert.Equal(t, uint64(3), diff[1].TxnID)

	all, err := s.GetDiffWALEntriesSince(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStorage_ReplayAndCommitState(t *testing.T) {
	s := wal.NewMemoryStorage(wal.ReaderInitPhase2)

	require.NoError(t, s.ReplayWALEntry(&wal.Entry{TxnID: 5, CommitTS: 50}, true))
	require.NoError(t, s.UpdateCommitState(50, 0))
	s.SetStartTS(50)
	s.SetNextTxnID(5)
	s.SetReaderStorageContinue(51)

	assert.Equal(t, uint64(50), s.CurrentCommitTS())
	assert.Equal(t, uint64(50), s.StartTS())
	assert.Equal(t, uint64(5), s.NextTxnID())
	assert.Equal(t, uint64(51), s.ContinueTS())
	assert.Equal(t, wal.ReaderInitPhase2, s.ReaderInitPhase())
	require.Len(t, s.ReplayedEntries(), 1)
}
