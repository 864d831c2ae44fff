// Package ids generates the identifiers attached to every request: ULIDs for
// messages, and trace/span ids for telemetry.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)

	spanSeq atomic.Uint64
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTraceID derives a request trace id from the connection identity, a
// monotonic ULID and a random component. The result is 64 hex characters.
func NewTraceID(connectionID uint64) string {
	var random [8]byte
	_, _ = rand.Read(random[:])

	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(connectionID, 10)))
	h.Write([]byte(CreateULID()))
	h.Write(random[:])
	return hex.EncodeToString(h.Sum(nil))
}

// NewSpanID derives a span id from the connection identity and a nanosecond
// timestamp. A process-wide sequence keeps ids distinct within one tick.
func NewSpanID(connectionID uint64, at time.Time) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], connectionID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(buf[16:24], spanSeq.Add(1))

	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:8])
}
