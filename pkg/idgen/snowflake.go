package idgen

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Snowflake layout: 41 bits of milliseconds since epoch, 10 bits of worker id,
// 12 bits of per-millisecond sequence. IDs are monotonically non-decreasing
// within a process and unique across processes with distinct worker ids.
const (
	workerBits   = 10
	sequenceBits = 12

	maxWorkerID = (1 << workerBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	timestampShift = workerBits + sequenceBits
	workerShift    = sequenceBits
)

// epoch is 2023-01-01T00:00:00Z in unix milliseconds.
const epoch int64 = 1672531200000

// Snowflake generates 64-bit sortable IDs.
type Snowflake struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	sequence int64
	nowFunc  func() time.Time
}

// NewSnowflake creates a generator for the given worker id (0..1023).
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id %d out of range [0, %d]", workerID, maxWorkerID)
	}
	return &Snowflake{
		workerID: workerID,
		nowFunc:  time.Now,
	}, nil
}

// Next returns the next ID. When the per-millisecond sequence overflows, Next
// spins until the clock advances. A clock moving backwards is absorbed by
// continuing on the last observed millisecond, preserving monotonicity.
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.nowFunc().UnixMilli()
	if ms < s.lastMs {
		ms = s.lastMs
	}

	if ms == s.lastMs {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for ms <= s.lastMs {
				ms = s.nowFunc().UnixMilli()
				if ms < s.lastMs {
					ms = s.lastMs + 1
				}
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms

	return (ms-epoch)<<timestampShift | s.workerID<<workerShift | s.sequence
}

// NextString returns the next ID in decimal string form, the shape used for
// aggregate ids throughout the system.
func (s *Snowflake) NextString() string {
	return strconv.FormatInt(s.Next(), 10)
}
