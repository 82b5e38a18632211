package utils

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// GenerateRunID generates a run ID with a timestamp prefix
func GenerateRunID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	id := uuid.New()
	return "run-" + timestamp + "-" + hex.EncodeToString(id[:4])
}

// EntryKey returns a stable 128-bit hex key identifying one log entry slot:
// the same tenant, interval start, and dimension always hash to the same key.
func EntryKey(tenantID string, startTimeMs int64, country, region, domain string) string {
	var b strings.Builder
	b.Grow(len(tenantID) + len(country) + len(region) + len(domain) + 24)
	b.WriteString(tenantID)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(startTimeMs, 10))
	b.WriteByte(0)
	b.WriteString(country)
	b.WriteByte(0)
	b.WriteString(region)
	b.WriteByte(0)
	b.WriteString(domain)

	h := xxh3.HashString128(b.String())
	var out [16]byte
	binary.LittleEndian.PutUint64(out[:8], h.Lo)
	binary.LittleEndian.PutUint64(out[8:], h.Hi)
	return hex.EncodeToString(out[:])
}
