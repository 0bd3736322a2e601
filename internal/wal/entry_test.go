package wal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinidb/clusterd/internal/wal"
)

func TestEntry_EncodeDecodeRoundTrip(t *testing.T) {
	entry := &wal.Entry{
		TxnID:    42,
		CommitTS: 100,
		Cmds: []wal.Command{
			{Type: wal.CommandCheckpoint, Payload: nil},
			{Type: wal.CommandPut, Payload: []byte("hello")},
		},
	}

	decoded, err := wal.ReadEntry(entry.Encode())
	require.NoError(t, err)

	assert.Equal(t, entry.TxnID, decoded.TxnID)
	assert.Equal(t, entry.CommitTS, decoded.CommitTS)
	require.Len(t, decoded.Cmds, 2)
	assert.Equal(t, wal.CommandCheckpoint, decoded.Cmds[0].Type)
	assert.Equal(t, wal.CommandPut, decoded.Cmds[1].Type)
	assert.Equal(t, []byte("hello"), decoded.Cmds[1].Payload)
}

func TestEntry_EncodeDecodeEmptyCommands(t *testing.T) {
	entry := &wal.Entry{TxnID: 1, CommitTS: 1}
	decoded, err := wal.ReadEntry(entry.Encode())
	require.NoError(t, err)
	assert.Empty(t, decoded.Cmds)
}

func TestReadEntry_TruncatedInputErrors(t *testing.T) {
	entry := &wal.Entry{TxnID: 7, CommitTS: 9, Cmds: []wal.Command{{Type: wal.CommandPut, Payload: []byte("x")}}}
	raw := entry.Encode()

	_, err := wal.ReadEntry(raw[:len(raw)-1])
	assert.Error(t, err)
}

func TestEncodeEntries(t *testing.T) {
	entries := []*wal.Entry{
		{TxnID: 1, CommitTS: 1},
		{TxnID: 2, CommitTS: 2},
	}
	raw := wal.EncodeEntries(entries)
	require.Len(t, raw, 2)

	for i, r := range raw {
		decoded, err := wal.ReadEntry(r)
		require.NoError(t, err)
		assert.Equal(t, entries[i].TxnID, decoded.TxnID)
	}
}
