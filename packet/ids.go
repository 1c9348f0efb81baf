package packet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewMsgID generates a fresh message identifier. msg_id is used purely for
// deduplication; uniqueness across nodes matters, not unguessability.
func NewMsgID() string {
	return uuid.NewString()
}

// NewTraceID generates a trace_id in the "{originator}-{epoch_ms}-{rand6}"
// format specified by spec.md §4.1.
func NewTraceID(originator NodeID) string {
	ms := time.Now().UnixMilli()
	return fmt.Sprintf("%s-%d-%s", originator, ms, randHex6())
}

func randHex6() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "000000"
	}
	return hex.EncodeToString(b[:])
}
