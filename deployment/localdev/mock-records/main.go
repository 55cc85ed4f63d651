package main

import (
	"encoding/json"
	"flag"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

type recordsRequest struct {
	UserID string    `json:"user_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

type entry struct {
	ID       string  `json:"id"`
	Severity float64 `json:"severity"`
}

type dailyRecord struct {
	Date    string             `json:"date"`
	Values  map[string]float64 `json:"values"`
	Entries map[string][]entry `json:"entries,omitempty"`
}

// maxDays caps "all" requests that start at the epoch.
const maxDays = 365

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/records/daily", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req recordsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "user_id, start and end are required", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"records": synthesize(req)})
	})

	logger := log.New(log.Writer(), "records-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// synthesize returns a deterministic diary per user: each user gets a direction
// and a noise level, and roughly one day in five is skipped.
func synthesize(req recordsRequest) []dailyRecord {
	h := fnv.New64a()
	_, _ = h.Write([]byte(req.UserID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	drift := []float64{-0.15, 0, 0.2}[rng.Intn(3)]
	noise := 0.5 + rng.Float64()

	end := req.End.UTC().Truncate(24 * time.Hour)
	start := req.Start.UTC().Truncate(24 * time.Hour)
	if earliest := end.AddDate(0, 0, -maxDays); start.Before(earliest) {
		start = earliest
	}

	var records []dailyRecord
	for day, i := start, 0; !day.After(end); day, i = day.AddDate(0, 0, 1), i+1 {
		if rng.Intn(5) == 0 {
			continue
		}
		pain := clamp(5+drift*float64(i)/7+rng.NormFloat64()*noise, 0, 10)
		record := dailyRecord{
			Date: day.Format("2006-01-02"),
			Values: map[string]float64{
				"overall_score": clamp(10-pain+rng.NormFloat64()*0.5, 0, 10),
				"pain_level":    pain,
				"fatigue_level": clamp(pain+rng.NormFloat64(), 0, 10),
				"stress_level":  clamp(4+rng.NormFloat64()*2, 0, 10),
				"sleep_quality": clamp(6+rng.NormFloat64()*1.5, 0, 10),
				"mood":          clamp(10-pain/2+rng.NormFloat64(), 0, 10),
			},
		}
		if pain > 6 {
			record.Entries = map[string][]entry{
				"symptom": {{ID: "migraine", Severity: math.Round(pain / 2)}},
			}
		}
		records = append(records, record)
	}
	return records
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
