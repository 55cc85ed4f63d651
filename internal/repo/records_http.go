package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/healthtrack/trend-engine/internal/models"
)

// DefaultDailyRecordsPath is the record service endpoint returning daily records.
const DefaultDailyRecordsPath = "/api/v1/records/daily"

const dateLayout = "2006-01-02"

// RecordServiceClient loads daily records from the health record service.
type RecordServiceClient struct {
	baseURL     string
	recordsPath string
	httpClient  *http.Client
}

// NewRecordServiceClient constructs a client targeting the configured record service.
func NewRecordServiceClient(baseURL, recordsPath string, timeout time.Duration) *RecordServiceClient {
	if strings.TrimSpace(recordsPath) == "" {
		recordsPath = DefaultDailyRecordsPath
	}
	return &RecordServiceClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		recordsPath: recordsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type dailyRecordPayload struct {
	Date    string                    `json:"date"`
	Values  map[string]float64        `json:"values"`
	Entries map[string][]entryPayload `json:"entries"`
}

type entryPayload struct {
	ID       string  `json:"id"`
	Severity float64 `json:"severity"`
}

// GetRecordsByDateRange returns the user's records dated from start's day to end's
// day inclusive, ordered by date.
func (c *RecordServiceClient) GetRecordsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]models.DailyRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("record service client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("record service base URL not configured")
	}

	payload := map[string]interface{}{
		"user_id": userID,
		"start":   start.UTC().Format(time.RFC3339),
		"end":     end.UTC().Format(time.RFC3339),
	}

	var response struct {
		Records []dailyRecordPayload `json:"records"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.recordsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("record service request failed: %w", err)
	}

	records := make([]models.DailyRecord, 0, len(response.Records))
	for _, raw := range response.Records {
		date, err := parseRecordDate(raw.Date)
		if err != nil {
			return nil, fmt.Errorf("record service returned bad date %q: %w", raw.Date, err)
		}
		if !withinDays(date, start, end) {
			continue
		}
		records = append(records, toDailyRecord(date, raw))
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}

func toDailyRecord(date time.Time, raw dailyRecordPayload) models.DailyRecord {
	record := models.DailyRecord{Date: date, Values: raw.Values}
	if len(raw.Entries) > 0 {
		record.Entries = make(map[string][]models.Entry, len(raw.Entries))
		for kind, entries := range raw.Entries {
			converted := make([]models.Entry, 0, len(entries))
			for _, e := range entries {
				converted = append(converted, models.Entry{ID: e.ID, Severity: e.Severity})
			}
			record.Entries[kind] = converted
		}
	}
	return record
}

// parseRecordDate accepts calendar dates (taken as UTC midnight) and RFC 3339 timestamps.
func parseRecordDate(value string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// withinDays compares calendar days in UTC so a record dated on the first day of
// the window is kept whatever the window's time of day.
func withinDays(date, start, end time.Time) bool {
	day := date.UTC().Format(dateLayout)
	return day >= start.UTC().Format(dateLayout) && day <= end.UTC().Format(dateLayout)
}

func (c *RecordServiceClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *RecordServiceClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("record service returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
