// Package wal defines the write-ahead-log collaborator contract used by the
// cluster core (the external storage/WAL engine collaborator) along with
// the length-delimited entry codec consumers rely on to decode replicated
// log bytes.
package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CommandType distinguishes WAL commands; CHECKPOINT is singled out because
// bootstrap catch-up validates its placement in the stream.
type CommandType uint8

const (
	CommandCheckpoint CommandType = iota
	CommandPut
	CommandDelete
	CommandCreateCollection
	CommandDropCollection
)

// Command is one operation carried by a WAL entry.
type Command struct {
	Type    CommandType
	Payload []byte
}

// Entry is a serialized, ordered unit of committed state change: a
// transaction id, its commit timestamp, and one or more commands.
type Entry struct {
	TxnID    uint64
	CommitTS uint64
	Cmds     []Command
}

// Encode serializes the entry using a length-delimited binary layout:
// txn_id, commit_ts, command count, then each command as (type, length,
// payload), with every integer and every payload length written as a
// uvarint. The encoded entry carries no outer length prefix; a stream of
// entries is kept apart by carrying each one as its own []byte (see
// EncodeEntries), which is how external readers (e.g. ContinueStartup)
// receive and decode them.
func (e *Entry) Encode() []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], e.TxnID)
	buf.Write(tmp[:n])
	n = binary.PutUvarint(tmp[:], e.CommitTS)
	buf.Write(tmp[:n])
	n = binary.PutUvarint(tmp[:], uint64(len(e.Cmds)))
	buf.Write(tmp[:n])

	for _, cmd := range e.Cmds {
		buf.WriteByte(byte(cmd.Type))
		n = binary.PutUvarint(tmp[:], uint64(len(cmd.Payload)))
		buf.Write(tmp[:n])
		buf.Write(cmd.Payload)
	}

	return buf.Bytes()
}

// ReadEntry decodes a single entry previously produced by Encode.
func ReadEntry(raw []byte) (*Entry, error) {
	r := bytes.NewReader(raw)

	txnID, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("wal: read txn_id: %w", err)
	}
	commitTS, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("wal: read commit_ts: %w", err)
	}
	cmdCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("wal: read command count: %w", err)
	}

	entry := &Entry{TxnID: txnID, CommitTS: commitTS, Cmds: make([]Command, 0, cmdCount)}
	for i := uint64(0); i < cmdCount; i++ {
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("wal: read command type: %w", err)
		}
		payloadLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("wal: read command length: %w", err)
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("wal: read command payload: %w", err)
		}
		entry.Cmds = append(entry.Cmds, Command{Type: CommandType(typeByte), Payload: payload})
	}

	return entry, nil
}

// EncodeEntries serializes a sequence of entries into the wire format
// carried by SyncLog.log_entries: each entry is emitted as an
// independent, already length-framed byte string, so entries themselves
// do not need an outer length prefix once they are split into a slice of
// []byte — which is exactly the shape the RPC layer transports.
func EncodeEntries(entries []*Entry) [][]byte {
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Encode())
	}
	return out
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{txn_id=%d, commit_ts=%d, cmds=%d}", e.TxnID, e.CommitTS, len(e.Cmds))
}
