package analytics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var flowHeader = []string{
	"message_id", "date", "room_id", "button_type", "button_label", "custom_text",
	"sent_timestamp", "seen_timestamp", "resolved_timestamp",
	"sent_to_seen_seconds", "seen_to_resolved_seconds", "total_resolution_time_seconds",
	"current_status", "is_completed",
}

// WriteFlowsCSV writes flows as CSV with a header row. Missing timestamps
// and durations are written as empty cells.
func WriteFlowsCSV(w io.Writer, flows []MessageFlow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(flowHeader); err != nil {
		return err
	}
	for _, f := range flows {
		record := []string{
			f.MessageID, f.Date, f.RoomID, f.ButtonType, f.ButtonLabel, f.CustomText,
			f.SentAt.UTC().Format(time.RFC3339), timeCell(f.SeenAt), timeCell(f.ResolvedAt),
			intCell(f.SentToSeenSeconds), intCell(f.SeenToResolvedSeconds), intCell(f.TotalResolutionSeconds),
			f.Status, strconv.FormatBool(f.Completed),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func intCell(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}
