// Package batch encodes login batches for the queue. Messages are a JSON
// array of records, zlib-compressed on the wire; the decoder also accepts
// plain JSON so producers and consumers can be upgraded independently.
package batch

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/finthenticate/server/internal/domain"
)

// Encode marshals records and compresses the payload.
func Encode(records []domain.BatchRecord) ([]byte, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("batch encode: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("batch compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("batch compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode inflates and unmarshals a batch message, falling back to plain JSON
// when the payload carries no zlib header.
func Decode(data []byte) ([]domain.BatchRecord, error) {
	payload := data
	if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		inflated, readErr := io.ReadAll(zr)
		zr.Close()
		if readErr != nil {
			return nil, fmt.Errorf("batch inflate: %w", readErr)
		}
		payload = inflated
	}

	var records []domain.BatchRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("batch decode: %w", err)
	}
	return records, nil
}
