package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendaclin/clinic-scheduling/internal/db"
	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	professionals, err := seedProfessionals(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, professionals); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	specialties := []string{
		"Psicologia",
		"Psiquiatria",
		"Nutrição",
		"Fisioterapia",
		"Fonoaudiologia",
		"Clínica Geral",
		"Dermatologia",
		"Cardiologia",
	}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		specialty := specialties[i%len(specialties)]

		_, err := pool.Exec(ctx, `
			INSERT INTO professionals (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Name(), specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	for i := 0; i < count; i++ {
		email := gofakeit.Email()

		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), gofakeit.Name(), email)
		if err != nil {
			return err
		}
	}

	return nil
}

// seedSlots gives each professional a weekday-morning template expanded
// over the next four weeks.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, professionals []uuid.UUID) error {
	log.Printf("seeding slots for %d professionals", len(professionals))

	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return err
	}

	repo := scheduling.NewPgRepository(pool)
	from := time.Now().In(loc).Format("2006-01-02")
	to := time.Now().In(loc).AddDate(0, 0, 28).Format("2006-01-02")

	for _, professionalID := range professionals {
		tmpl := scheduling.AvailabilityTemplate{
			ProfessionalID:  professionalID,
			IntervalMinutes: 60,
			Rules: []scheduling.AvailabilityRule{
				{Weekday: time.Monday, StartTime: "09:00", EndTime: "12:00"},
				{Weekday: time.Tuesday, StartTime: "09:00", EndTime: "12:00"},
				{Weekday: time.Wednesday, StartTime: "14:00", EndTime: "18:00"},
				{Weekday: time.Thursday, StartTime: "09:00", EndTime: "12:00"},
				{Weekday: time.Friday, StartTime: "14:00", EndTime: "17:00"},
			},
		}

		slots, err := scheduling.GenerateSlots(tmpl, from, to, loc)
		if err != nil {
			return err
		}

		if err := repo.ReplaceFreeSlots(ctx, professionalID, from, to, slots); err != nil {
			return err
		}
	}

	return nil
}
