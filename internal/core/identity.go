package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DeriveMessageID computes a message's projection key from event content.
// Replaying the same message.sent event always lands on the same row, which
// is what makes the projection fold idempotent.
func DeriveMessageID(projectKey string, timestamp int64, p MessageSentPayload) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%s\x00%s\x00%s",
		projectKey, timestamp, p.From, strings.Join(p.To, ","), p.Subject, p.ThreadID, p.Body)
	return hex.EncodeToString(h.Sum(nil))[:32]
}
