// Package output writes Singer messages and forwards records to brokers and
// archives.
package output

import (
	"time"

	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// Singer message types.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// SchemaMessage announces a stream's schema before its records.
type SchemaMessage struct {
	Type               string   `json:"type"`
	Stream             string   `json:"stream"`
	Schema             any      `json:"schema"`
	KeyProperties      []string `json:"key_properties"`
	BookmarkProperties []string `json:"bookmark_properties,omitempty"`
}

// RecordMessage carries one extracted row.
type RecordMessage struct {
	Type          string     `json:"type"`
	Stream        string     `json:"stream"`
	Record        tap.Record `json:"record"`
	TimeExtracted string     `json:"time_extracted,omitempty"`
}

// StateMessage carries the bookmark document.
type StateMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// NewRecordMessage builds a RECORD message stamped with extracted in UTC.
func NewRecordMessage(stream string, record tap.Record, extracted time.Time) RecordMessage {
	msg := RecordMessage{Type: TypeRecord, Stream: stream, Record: record}
	if !extracted.IsZero() {
		msg.TimeExtracted = extracted.UTC().Format(time.RFC3339Nano)
	}
	return msg
}
