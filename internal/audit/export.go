package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var exportHeader = []string{
	"id", "timestamp", "user_id", "action", "resource",
	"success", "reason", "ip_address", "user_agent",
}

// WriteCSV streams entries to w as CSV, header first. Timestamps are
// rendered in RFC 3339 UTC so exports diff cleanly across timezones.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.UserID,
			string(e.Action),
			string(e.Resource),
			strconv.FormatBool(e.Success),
			e.Reason,
			e.IPAddress,
			e.UserAgent,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
