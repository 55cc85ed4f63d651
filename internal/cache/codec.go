package cache

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/healthtrack/trend-engine/internal/models"
)

func encodeEntry(entry models.AnalysisCacheEntry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeEntry(payload []byte) (models.AnalysisCacheEntry, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return models.AnalysisCacheEntry{}, fmt.Errorf("decompress cache entry: %w", err)
	}
	var entry models.AnalysisCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.AnalysisCacheEntry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return entry, nil
}
