package wal

import "sync"

// MemoryStorage is a minimal in-memory Storage implementation. It exists so
// that the cluster core (internal/clustermanager, internal/peerserver) can
// be exercised end-to-end without a real storage engine.
type MemoryStorage struct {
	mu sync.Mutex

	entries     []*Entry
	commitTS    uint64
	nextTxnID   uint64
	startTS     uint64
	phase       ReaderInitPhase
	continueTS  uint64
	replayed    []*Entry
	replayedIsr []bool
}

func NewMemoryStorage(phase ReaderInitPhase) *MemoryStorage {
	return &MemoryStorage{phase: phase}
}

// Append adds a committed entry to the log, the way a leader's commit path
// would after a transaction is durably written.
func (m *MemoryStorage) Append(entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if entry.CommitTS > m.commitTS {
		m.commitTS = entry.CommitTS
	}
}

func (m *MemoryStorage) CurrentCommitTS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitTS
}

func (m *MemoryStorage) GetDiffWALEntriesSince(ts uint64) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	diff := make([]*Entry, 0)
	for _, e := range m.entries {
		if e.CommitTS > ts {
			diff = append(diff, e)
		}
	}
	return diff, nil
}

func (m *MemoryStorage) ReplayWALEntry(entry *Entry, isReplay bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayed = append(m.replayed, entry)
	m.replayedIsr = append(m.replayedIsr, isReplay)
	return nil
}

func (m *MemoryStorage) UpdateCommitState(commitTS uint64, extra uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = extra
	if commitTS > m.commitTS {
		m.commitTS = commitTS
	}
	return nil
}

func (m *MemoryStorage) SetStartTS(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTS = ts
}

func (m *MemoryStorage) SetNextTxnID(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxnID = id
}

func (m *MemoryStorage) FlushLogByReplication(entries [][]byte) error {
	// Persisting the raw replica stream before applying it is a concrete
	// storage-engine concern; the in-memory stand-in only accepts the call
	// and records nothing.
	return nil
}

func (m *MemoryStorage) ReaderInitPhase() ReaderInitPhase {
	return m.phase
}

func (m *MemoryStorage) SetReaderStorageContinue(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.continueTS = ts
}

// ReplayedEntries is a test accessor exposing everything replayed so far.
func (m *MemoryStorage) ReplayedEntries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, len(m.replayed))
	copy(out, m.replayed)
	return out
}

// ContinueTS is a test accessor for the value passed to SetReaderStorageContinue.
func (m *MemoryStorage) ContinueTS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.continueTS
}

// NextTxnID is a test accessor.
func (m *MemoryStorage) NextTxnID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTxnID
}

// StartTS is a test accessor.
func (m *MemoryStorage) StartTS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTS
}
