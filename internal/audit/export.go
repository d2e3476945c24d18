package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// CSVExporter renders timeline rows as CSV for download.
type CSVExporter struct{}

// WriteCSV encodes the rows with a header line.
func (CSVExporter) WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"checked_at", "user_id", "code", "allowed", "reason", "resource", "resource_id", "action", "ip", "endpoint"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			row.UserID.String(),
			row.Code,
			strconv.FormatBool(row.Allowed),
			row.Reason,
			row.Resource,
			row.ResourceID,
			row.Action,
			row.IP,
			row.Endpoint,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
