package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/keylock"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type seedService struct {
	code          string
	name          string
	duration      int
	buffer        int
	order         int
	dailyLimitMin int // 0 means no limit row
}

var services = []seedService{
	{"CONSULT", "Initial consultation", 30, 10, 1, 180},
	{"SCALING", "Dental scaling", 40, 10, 2, 240},
	{"LASER", "Laser treatment", 60, 15, 3, 300},
	{"CHECKUP", "Follow-up checkup", 20, 0, 4, 0},
	{"IMPLANT", "Implant surgery", 120, 30, 5, 240},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", true)
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.LogLevel, true)
	log.Info().Msg("seed starting")

	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	if err := seedServices(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("seed services")
	}

	cal := scheduling.Calendar{Hours: cfg.Hours, Location: cfg.ClinicTZ, Clock: scheduling.RealClock()}
	sched := scheduling.NewScheduler(scheduling.NewPgRepository(pool), keylock.New(), cal, nil, log.Level(zerolog.WarnLevel))

	days := getInt("SEED_DAYS", 14)
	if err := seedReservations(ctx, sched, cal, days, log); err != nil {
		log.Fatal().Err(err).Msg("seed reservations")
	}

	log.Info().Msg("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	log.Info().Int("count", len(services)).Msg("seeding services")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range services {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO services (code, name, duration_minutes, buffer_minutes, is_active, display_order)
			VALUES ($1, $2, $3, $4, TRUE, $5)
			ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, s.code, s.name, s.duration, s.buffer, s.order).Scan(&id)
		if err != nil {
			return err
		}

		if s.dailyLimitMin == 0 {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO capacity_limits (service_id, daily_limit_minutes, is_active)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (service_id) DO UPDATE SET daily_limit_minutes = EXCLUDED.daily_limit_minutes
		`, id, s.dailyLimitMin)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedReservations books random slots through the engine so every seeded row
// satisfies the overlap and capacity rules.
func seedReservations(ctx context.Context, sched *scheduling.Scheduler, cal scheduling.Calendar, days int, log zerolog.Logger) error {
	today, _ := cal.Today()
	created, rejected := 0, 0

	for d := 1; d <= days; d++ {
		date := today.AddDate(0, 0, d)
		if cal.Hours.IsClosed(date) {
			continue
		}

		for _, s := range services {
			res, err := sched.ComputeSlots(ctx, s.code, date)
			if err != nil {
				return err
			}

			for _, slot := range res.Slots {
				if !slot.Available || gofakeit.Float64() > 0.4 {
					continue
				}

				email := gofakeit.Email()
				r, err := sched.Admit(ctx, scheduling.AdmissionRequest{
					ServiceCode: s.code,
					Date:        date,
					SlotStart:   slot.Start,
					Patient: scheduling.PatientInfo{
						Name:  gofakeit.Name(),
						Phone: gofakeit.Phone(),
						Email: &email,
					},
				})
				switch {
				case err == nil:
					created++
					if gofakeit.Bool() {
						if _, err := sched.Transition(ctx, r.ID, scheduling.StatusConfirmed, "", true); err != nil {
							return err
						}
					}
				case errors.Is(err, scheduling.ErrCapacityExceeded), errors.Is(err, scheduling.ErrSlotOverlap):
					rejected++
				default:
					return err
				}
			}
		}
	}

	log.Info().Int("created", created).Int("rejected", rejected).Msg("reservations seeded")
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
