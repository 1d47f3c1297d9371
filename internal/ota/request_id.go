package ota

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RequestIDLength is the longest correlation token the OTA accepts.
const RequestIDLength = 8

// RequestID derives the correlation token for one chunk of a change.
// It is the xxhash64 of (seed, chunk) in base36, cut or left-padded to RequestIDLength.
func RequestID(seed string, chunk int) string {
	d := xxhash.New()
	_, _ = d.WriteString(seed)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(chunk))
	_, _ = d.Write(buf[:])

	id := strconv.FormatUint(d.Sum64(), 36)
	if len(id) > RequestIDLength {
		return id[len(id)-RequestIDLength:]
	}
	return strings.Repeat("0", RequestIDLength-len(id)) + id
}
