package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ParseExportFormat validates a format name; empty means JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatNDJSON, ExportFormatCSV:
		return ExportFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export encodes records in the given format
func Export(records []*Record, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(records)
	case ExportFormatNDJSON:
		var buf bytes.Buffer
		if err := WriteNDJSON(&buf, records); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ExportFormatJSON, "":
		return json.MarshalIndent(records, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// WriteNDJSON writes one JSON document per record
func WriteNDJSON(w io.Writer, records []*Record) error {
	encoder := json.NewEncoder(w)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"ID",
	"Category",
	"CategoryLabel",
	"Message",
	"IPAddress",
	"UserIdentifier",
	"Data",
	"CreatedAt",
	"UpdatedAt",
}

func exportCSV(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		data := ""
		if record.Data != nil {
			encoded, err := json.Marshal(record.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to encode data of record %d: %w", record.ID, err)
			}
			data = string(encoded)
		}

		row := []string{
			strconv.FormatInt(record.ID, 10),
			record.Category,
			record.CategoryLabel,
			record.Message,
			deref(record.IPAddress),
			deref(record.UserIdentifier),
			data,
			record.CreatedAt.UTC().Format(time.RFC3339),
			record.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
