package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/careloop/scheduling-engine/internal/db"
)

// The simulator hammers the booking API with concurrent workers and then
// checks the capacity invariant: for every slot, successful bookings never
// exceed capacity.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	CancelRatio  float64
	PatientLimit int
	SlotLimit    int
	PostgresDSN  string
	ActorRole    string
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []slotInfo
	mu       sync.RWMutex
	booked   []bookedAppt
}

type slotInfo struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Capacity   int
}

type bookedAppt struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

func (dp *DataPool) AddBooked(a bookedAppt) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, a)
}

func (dp *DataPool) TakeRandomBooked() (bookedAppt, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return bookedAppt{}, false
	}
	idx := rand.Intn(len(dp.booked))
	a := dp.booked[idx]
	dp.booked = append(dp.booked[:idx], dp.booked[idx+1:]...)
	return a, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	return
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     zerolog.Logger
	booking OperationMetrics
	cancel  OperationMetrics
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("simulator starting")

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool := &DataPool{}

	rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load patients")
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Fatal().Err(err).Msg("scan patient")
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	rows, err = pgPool.Query(ctx, `
		SELECT id, provider_id, capacity
		FROM slots
		WHERE start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load slots")
	}
	for rows.Next() {
		var s slotInfo
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Capacity); err != nil {
			log.Fatal().Err(err).Msg("scan slot")
		}
		dataPool.Slots = append(dataPool.Slots, s)
	}
	rows.Close()

	if len(dataPool.Patients) == 0 || len(dataPool.Slots) == 0 {
		log.Fatal().Msg("need seeded patients and generated slots before simulating")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	sim.Run()
	sim.PrintReport()

	violations, err := checkCapacityInvariant(context.Background(), pgPool)
	if err != nil {
		log.Fatal().Err(err).Msg("capacity invariant check")
	}
	if violations > 0 {
		log.Error().Int("violations", violations).Msg("CAPACITY INVARIANT VIOLATED")
		os.Exit(1)
	}
	log.Info().Msg("capacity invariant holds for all slots")
}

func (s *Simulator) Run() {
	deadline := time.Now().Add(s.config.Duration)
	var wg sync.WaitGroup

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				if rand.Float64() < s.config.CancelRatio {
					s.doCancel()
				} else {
					s.doBook()
				}
			}
		}()
	}

	wg.Wait()
}

func (s *Simulator) doBook() {
	patient := s.pool.Patients[rand.Intn(len(s.pool.Patients))]
	slot := s.pool.Slots[rand.Intn(len(s.pool.Slots))]

	body, _ := json.Marshal(map[string]any{
		"subject_id":  patient.String(),
		"provider_id": slot.ProviderID.String(),
		"slot_id":     slot.ID.String(),
	})

	start := time.Now()
	resp, err := s.post("/appointments", patient, body)
	latency := time.Since(start)
	if err != nil {
		s.booking.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var envelope struct {
			Data struct {
				ID uuid.UUID `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			s.pool.AddBooked(bookedAppt{ID: envelope.Data.ID, PatientID: patient})
		}
		s.booking.Record(latency, true, false)
	case http.StatusConflict, http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		s.booking.Record(latency, false, true)
	default:
		io.Copy(io.Discard, resp.Body)
		s.booking.Record(latency, false, false)
	}
}

func (s *Simulator) doCancel() {
	appt, ok := s.pool.TakeRandomBooked()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]any{"reason": "simulated cancellation"})

	start := time.Now()
	resp, err := s.post(fmt.Sprintf("/appointments/%s/cancel", appt.ID), appt.PatientID, body)
	latency := time.Since(start)
	if err != nil {
		s.cancel.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		s.cancel.Record(latency, true, false)
	case http.StatusConflict, http.StatusForbidden:
		s.cancel.Record(latency, false, true)
	default:
		s.cancel.Record(latency, false, false)
	}
}

func (s *Simulator) post(path string, actorID uuid.UUID, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actorID.String())
	req.Header.Set("X-Actor-Role", s.config.ActorRole)
	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	report := func(name string, m *OperationMetrics) {
		avg, min, max, p50, p95 := m.Stats()
		s.log.Info().
			Str("op", name).
			Int64("total", atomic.LoadInt64(&m.Total)).
			Int64("success", atomic.LoadInt64(&m.Success)).
			Int64("conflict", atomic.LoadInt64(&m.Conflict)).
			Int64("error", atomic.LoadInt64(&m.Error)).
			Dur("avg", avg).Dur("min", min).Dur("max", max).
			Dur("p50", p50).Dur("p95", p95).
			Msg("operation report")
	}
	report("book", &s.booking)
	report("cancel", &s.cancel)
}

func checkCapacityInvariant(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slots
		WHERE booked_count < 0 OR booked_count > capacity
	`).Scan(&violations)
	return violations, err
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		ActorRole:    getEnv("SIM_ACTOR_ROLE", "PATIENT"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
