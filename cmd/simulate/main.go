package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ManageRatio  float64
	ReadRatio    float64
	Days         int
	HotSlots     int // bookings aimed at the first N open slots to force contention
}

// target is one {service, date} the simulator books into.
type target struct {
	service string
	date    string
	starts  []string
}

type DataPool struct {
	Targets      []target
	mu           sync.RWMutex
	reservations []uuid.UUID
}

func (dp *DataPool) AddReservation(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.reservations = append(dp.reservations, id)
}

func (dp *DataPool) RandomReservation(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.reservations) == 0 {
		return uuid.Nil, false
	}
	return dp.reservations[rng.Intn(len(dp.reservations))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
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
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	Slots      OperationMetrics
	ReadByID   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	log := logger.New(getEnv("LOG_LEVEL", "info"), true)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("manage", cfg.ManageRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool
	log.Info().Int("targets", len(pool.Targets)).Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()

	violations := sim.verify(context.Background())
	if violations > 0 {
		log.Error().Int("violations", violations).Msg("invariant check failed")
		os.Exit(1)
	}
	log.Info().Msg("no double booking or capacity overrun detected")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ManageRatio:  getFloat("SIM_MANAGE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Days:         getInt("SIM_DAYS", 3),
		HotSlots:     getInt("SIM_HOT_SLOTS", 3),
	}

	total := cfg.BookingRatio + cfg.ManageRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ManageRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var svcs []api.ServiceResponse
	if _, err := s.getJSON(ctx, "/services", &svcs); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("no active services, run the seed command first")
	}

	pool := &DataPool{}
	day := time.Now()
	for added := 0; added < s.config.Days; {
		day = day.AddDate(0, 0, 1)
		date := day.Format(scheduling.DateFormat)
		open := false

		for _, svc := range svcs {
			var slots api.SlotsResponse
			if _, err := s.getJSON(ctx, fmt.Sprintf("/slots?serviceCode=%s&date=%s", svc.Code, date), &slots); err != nil {
				return nil, fmt.Errorf("slots for %s on %s: %w", svc.Code, date, err)
			}

			t := target{service: svc.Code, date: date}
			for _, sl := range slots.Slots {
				if sl.UnavailableReason == nil || *sl.UnavailableReason != string(scheduling.ReasonClosedDay) {
					t.starts = append(t.starts, sl.Start)
				}
			}
			if len(t.starts) > 0 {
				pool.Targets = append(pool.Targets, t)
				open = true
			}
		}
		if open {
			added++
		}
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ManageRatio:
				s.doTransition(ctx, rng)
			case rng.Intn(2) == 0:
				s.doSlots(ctx, rng)
			default:
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	n := len(t.starts)
	if s.config.HotSlots > 0 && s.config.HotSlots < n && rng.Intn(2) == 0 {
		n = s.config.HotSlots
	}
	start := t.starts[rng.Intn(n)]

	email := gofakeit.Email()
	body := api.CreateReservationRequest{
		ServiceCode: t.service,
		Date:        t.date,
		SlotStart:   start,
		Patient: api.PatientRequest{
			Name:  gofakeit.Name(),
			Phone: gofakeit.Phone(),
			Email: &email,
		},
	}

	began := time.Now()
	var created api.ReservationResponse
	status, err := s.sendJSON(ctx, http.MethodPost, "/reservations", body, false, &created)
	latency := time.Since(began)

	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddReservation(created.ID)
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict || status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomReservation(rng)
	if !ok {
		return
	}

	req := api.TransitionRequest{Status: string(scheduling.StatusConfirmed)}
	switch rng.Intn(4) {
	case 0:
		req = api.TransitionRequest{Status: string(scheduling.StatusCancelled), CancelReason: "simulated cancellation"}
	case 1:
		req.Status = string(scheduling.StatusCompleted)
	}

	began := time.Now()
	status, err := s.sendJSON(ctx, http.MethodPatch, "/reservations/"+id.String(), req, true, nil)
	s.metrics.Transition.Record(time.Since(began), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	began := time.Now()
	status, err := s.getJSON(ctx, fmt.Sprintf("/slots?serviceCode=%s&date=%s", t.service, t.date), nil)
	s.metrics.Slots.Record(time.Since(began), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomReservation(rng)
	if !ok {
		return
	}

	began := time.Now()
	status, err := s.getJSON(ctx, "/reservations/"+id.String(), nil)
	s.metrics.ReadByID.Record(time.Since(began), err == nil && status == http.StatusOK, false)
}

// verify re-reads every target day and counts pairs of blocking reservations
// whose occupied windows intersect, plus days over their limit.
func (s *Simulator) verify(ctx context.Context) int {
	limits := make(map[string]*int)
	violations := 0

	for _, t := range s.pool.Targets {
		var rows []api.ReservationResponse
		if _, err := s.getJSON(ctx, fmt.Sprintf("/reservations?serviceCode=%s&date=%s", t.service, t.date), &rows); err != nil {
			s.log.Error().Err(err).Str("service", t.service).Str("date", t.date).Msg("verify read failed")
			violations++
			continue
		}

		if _, ok := limits[t.service]; !ok {
			var slots api.SlotsResponse
			_, _ = s.getJSON(ctx, fmt.Sprintf("/slots?serviceCode=%s&date=%s", t.service, t.date), &slots)
			limits[t.service] = slots.Metadata.DailyLimitMinutes
		}

		type window struct{ start, end, duration scheduling.TimeOfDay }
		var blocking []window
		for _, r := range rows {
			if !scheduling.Status(r.Status).Blocking() {
				continue
			}
			start, _ := scheduling.ParseTimeOfDay(r.SlotStart)
			end, _ := scheduling.ParseTimeOfDay(r.SlotEnd)
			blocking = append(blocking, window{start: start, end: end.Add(r.BufferMinutes), duration: end - start})
		}

		committed := scheduling.TimeOfDay(0)
		for i := range blocking {
			committed += blocking[i].duration
			for j := i + 1; j < len(blocking); j++ {
				if blocking[i].start < blocking[j].end && blocking[j].start < blocking[i].end {
					s.log.Error().Str("service", t.service).Str("date", t.date).Msg("overlapping reservations")
					violations++
				}
			}
		}
		if limit := limits[t.service]; limit != nil && int(committed) > *limit {
			s.log.Error().Str("service", t.service).Str("date", t.date).Int("committed", int(committed)).Msg("capacity exceeded")
			violations++
		}
	}
	return violations
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) (int, error) {
	return s.sendJSON(ctx, http.MethodGet, path, nil, false, out)
}

func (s *Simulator) sendJSON(ctx context.Context, method, path string, body any, manage bool, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if manage {
		req.Header.Set(api.CanManageHeader, "true")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
