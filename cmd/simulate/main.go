package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendaclin/clinic-scheduling/internal/db"
)

// simulate fires concurrent reservation requests at a single free slot and
// reports the success/conflict split. Exactly one request should win.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	baseURL := flag.String("api", "http://localhost:8080", "api base url")
	workers := flag.Int("workers", 20, "concurrent reservation attempts")
	flag.Parse()

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

	slotID, professionalID, err := pickFreeSlot(ctx, pool)
	if err != nil {
		log.Fatalf("pick free slot: %v", err)
	}
	patients, err := pickPatients(ctx, pool, *workers)
	if err != nil {
		log.Fatalf("pick patients: %v", err)
	}

	log.Printf("racing %d workers for slot %s", *workers, slotID)

	var success, conflict, other int64
	var wg sync.WaitGroup
	client := &http.Client{Timeout: 10 * time.Second}

	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()

			status, err := reserve(client, *baseURL, professionalID, slotID, patientID)
			switch {
			case err != nil:
				atomic.AddInt64(&other, 1)
			case status == http.StatusCreated:
				atomic.AddInt64(&success, 1)
			case status == http.StatusConflict:
				atomic.AddInt64(&conflict, 1)
			default:
				atomic.AddInt64(&other, 1)
			}
		}(patients[i%len(patients)])
	}
	wg.Wait()

	log.Printf("done in %s: success=%d conflict=%d other=%d",
		time.Since(start), success, conflict, other)

	if success != 1 {
		log.Fatalf("INVARIANT VIOLATED: expected exactly 1 success, got %d", success)
	}
	log.Println("invariant held: exactly one reservation succeeded")
}

func reserve(client *http.Client, baseURL string, professionalID, slotID, patientID uuid.UUID) (int, error) {
	body, err := json.Marshal(map[string]string{
		"profissionalId": professionalID.String(),
		"usuarioId":      patientID.String(),
		"slotId":         slotID.String(),
		"modalidade":     "presencial",
	})
	if err != nil {
		return 0, err
	}

	resp, err := client.Post(baseURL+"/bookings", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func pickFreeSlot(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, uuid.UUID, error) {
	var slotID, professionalID uuid.UUID
	err := pool.QueryRow(ctx, `
		SELECT id, professional_id
		FROM slots
		WHERE status = 'free'
		ORDER BY slot_date, start_time
		LIMIT 1
	`).Scan(&slotID, &professionalID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("no free slot available: %w", err)
	}
	return slotID, professionalID, nil
}

func pickPatients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no patients seeded")
	}

	return ids, nil
}
