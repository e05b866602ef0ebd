// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package records

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

// Codec is the serialize/deserialize pair registered for a kind.
type Codec interface {
	// Encode writes one row, including any record separator.
	Encode(w io.Writer, row Row) error
	// Decoder returns a streaming decoder over r.
	Decoder(r io.Reader) RowDecoder
	// Ext is the artifact file extension, without the dot.
	Ext() string
}

// RowDecoder yields rows until io.EOF.
type RowDecoder interface {
	Next() (Row, error)
}

// JSONLines encodes one JSON object per line:
//
//	{"id":"...","modified_at":"2026-01-02T03:04:05Z","data":{...}}
//
// Data is written verbatim so row bodies survive a round trip unchanged.
type JSONLines struct{}

// Ext implements Codec.
func (JSONLines) Ext() string { return "ndjson" }

// Encode implements Codec.
func (JSONLines) Encode(w io.Writer, row Row) error {
	data, err := CompactData(row.Data)
	if err != nil {
		return fmt.Errorf("row %s: %w", row.ID, err)
	}
	id, err := json.Marshal(row.ID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + len(id) + 64)
	buf.WriteString(`{"id":`)
	buf.Write(id)
	if row.ModifiedAt != nil {
		buf.WriteString(`,"modified_at":"`)
		buf.WriteString(row.ModifiedAt.UTC().Format(time.RFC3339Nano))
		buf.WriteByte('"')
	}
	buf.WriteString(`,"data":`)
	buf.Write(data)
	buf.WriteString("}\n")
	_, err = w.Write(buf.Bytes())
	return err
}

// Decoder implements Codec.
func (JSONLines) Decoder(r io.Reader) RowDecoder {
	return &jsonLinesDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

type jsonLinesDecoder struct {
	r    *bufio.Reader
	line int
}

func (d *jsonLinesDecoder) Next() (Row, error) {
	for {
		raw, err := d.r.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) == 0 {
			if err != nil {
				return Row{}, err
			}
			d.line++
			continue
		}
		d.line++
		if err != nil && !errors.Is(err, io.EOF) {
			return Row{}, err
		}
		var row Row
		if uerr := json.Unmarshal(raw, &row); uerr != nil {
			return Row{}, fmt.Errorf("line %d: %w", d.line, uerr)
		}
		return row, nil
	}
}

// CompactData validates a row body and strips insignificant whitespace.
func CompactData(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("invalid row data: %w", err)
	}
	return buf.Bytes(), nil
}
