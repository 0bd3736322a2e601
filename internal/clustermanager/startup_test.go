package clustermanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinidb/clusterd/internal/wal"
)

func TestApplySyncedLogNolock_ReplaysAndAdvancesCommitState(t *testing.T) {
	storage := wal.NewMemoryStorage(wal.ReaderInitPhase2)
	m := New(Env{Storage: storage})

	entries := [][]byte{
		(&wal.Entry{TxnID: 1, CommitTS: 10}).Encode(),
		(&wal.Entry{TxnID: 2, CommitTS: 20}).Encode(),
	}

	status := m.ApplySyncedLogNolock(entries)
	require.Nil(t, status, "%v", status)

	assert.Equal(t, uint64(2), storage.NextTxnID())
	assert.Equal(t, uint64(20), storage.CurrentCommitTS())
	assert.Equal(t, uint64(20), storage.StartTS())
	require.Len(t, storage.ReplayedEntries(), 2)
}

func TestApplySyncedLogNolock_RejectsUndecodableEntry(t *testing.T) {
	storage := wal.NewMemoryStorage(wal.ReaderInitPhase2)
	m := New(Env{Storage: storage})

	status := m.ApplySyncedLogNolock([][]byte{{0xff}})
	require.NotNil(t, status)
}

func TestContinueStartup_ReplaysLeadingCheckpointEntry(t *testing.T) {
	storage := wal.NewMemoryStorage(wal.ReaderInitPhase1)
	m := New(Env{Storage: storage})

	entry := &wal.Entry{TxnID: 1, CommitTS: 5, Cmds: []wal.Command{
		{Type: wal.CommandCheckpoint, Payload: []byte("snapshot")},
		{Type: wal.CommandPut, Payload: []byte("k=v")},
	}}

	status := m.ContinueStartup([][]byte{entry.Encode()})
	require.Nil(t, status, "%v", status)

	require.Len(t, storage.ReplayedEntries(), 1)
	assert.Equal(t, uint64(6), storage.ContinueTS())
}
