package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var requestIDNamespace = uuid.MustParse("6f1c4b7e-2d0a-5c8e-9b41-3a7d2e5f8c10")

// NewRequestID is stable for the same order, courier and timestamp. It is only
// used to correlate log lines, never for deduplication.
func NewRequestID(orderID string, courierID int64, ts time.Time) string {
	name := fmt.Sprintf("%s|%d|%s", orderID, courierID, ts.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(requestIDNamespace, []byte(name)).String()
}
