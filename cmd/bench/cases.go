// README: Bench test cases; covers env checks, the offer/booking flow, oversell races, and read throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// IDs created by earlier cases, consumed by later ones.
	rideID    string
	bookingID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

// token signs a bench identity. Empty when no secret was configured.
func (r *Runner) token(sub string) string {
	if r.cfg.JWTSecret == "" {
		return ""
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return ""
	}
	return signed
}

func (r *Runner) do(ctx context.Context, method, path, sub string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+r.token(sub))
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), nil
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql present",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Seed: bench users",
			Focus: "verified driver and passengers in users table",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				for _, uid := range benchUsers() {
					if _, err := r.db.Exec(ctx, `
						INSERT INTO users (id, display_name, phone, verified)
						VALUES ($1, $1, '', TRUE)
						ON CONFLICT (id) DO UPDATE SET verified = TRUE`, uid); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health reachable",
			Focus: "server answers",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.do(ctx, http.MethodGet, "/health", "", nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusOK {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
		{
			Name:  "Auth: missing token -> 401",
			Focus: "API routes are gated",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.do(ctx, http.MethodGet, "/api/rides", "", nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusUnauthorized {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
		{
			Name:  "Ride: create and publish",
			Focus: "offer lifecycle",
			Run:   rideCreatePublish,
		},
		{
			Name:  "Ride: availability check",
			Focus: "read path",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: "SKIP", Note: "no ride from earlier case"}
				}
				status, body, latency, err := r.do(ctx, http.MethodGet, "/api/rides/"+r.rideID+"/availability?seats=1", benchPassenger(0), nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusOK || !strings.Contains(string(body), `"available":true`) {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d body=%s", status, body)}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
		{
			Name:  "Booking: hold, confirm, cancel",
			Focus: "booking lifecycle with refund",
			Run:   bookingFlow,
		},
		{
			Name:  "Booking: validation rejected",
			Focus: "no partial effects",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: "SKIP", Note: "no ride from earlier case"}
				}
				status, _, latency, err := r.do(ctx, http.MethodPost, "/api/bookings", benchPassenger(1), map[string]any{
					"ride_id":        r.rideID,
					"seats":          0,
					"payment_method": "cash",
					"terms_accepted": true,
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusBadRequest {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
		{
			Name:  "Concurrency: booking burst never oversells",
			Focus: "seat ledger under contention",
			Run:   concurrentBookingBurst,
		},
		{
			Name:  "Perf: availability read throughput",
			Focus: "sustained reads",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: "SKIP", Note: "no ride from earlier case"}
				}
				return perfLoad(ctx, r, http.MethodGet, "/api/rides/"+r.rideID+"/availability?seats=1", benchPassenger(0), nil)
			},
		},
		manualCase("Sweep: pending hold expiry", "create a hold, wait past its TTL, verify the sweeper cancels it"),
		manualCase("Notify: events on the exchange", "bind a queue to the configured AMQP exchange and watch booking events"),
	}
}

func benchUsers() []string {
	users := []string{"bench-driver"}
	for i := 0; i < 64; i++ {
		users = append(users, benchPassenger(i))
	}
	return users
}

func benchPassenger(i int) string {
	return fmt.Sprintf("bench-passenger-%d", i)
}

func rideCreatePublish(ctx context.Context, r *Runner) Result {
	status, body, latency, err := r.do(ctx, http.MethodPost, "/api/rides", "bench-driver", map[string]any{
		"vehicle_id":       "benchcar",
		"origin_lat":       24.7870,
		"origin_lng":       120.9967,
		"destination_lat":  25.0330,
		"destination_lng":  121.5654,
		"origin_name":      "HSR Station",
		"destination_name": "Taipei Main",
		"departure_at":     time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"seats":            4,
		"price_per_seat":   1000,
	})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusCreated {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("create status=%d body=%s", status, body)}
	}
	var created struct {
		RideID string `json:"ride_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.RideID == "" {
		return Result{Status: "FAIL", Note: "no ride_id in response"}
	}
	r.rideID = created.RideID

	status, body, _, err = r.do(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/publish", "bench-driver", nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("publish status=%d body=%s", status, body)}
	}
	return Result{Status: "PASS", Latency: latency}
}

func bookingFlow(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: "SKIP", Note: "no ride from earlier case"}
	}
	passenger := benchPassenger(0)
	status, body, latency, err := r.do(ctx, http.MethodPost, "/api/bookings", passenger, map[string]any{
		"ride_id":        r.rideID,
		"seats":          1,
		"payment_method": "cash",
		"terms_accepted": true,
	})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusCreated {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("create status=%d body=%s", status, body)}
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return Result{Status: "FAIL", Note: "no booking id in response"}
	}
	r.bookingID = created.ID

	status, body, _, err = r.do(ctx, http.MethodPost, "/api/bookings/"+r.bookingID+"/confirm", passenger, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("confirm status=%d body=%s", status, body)}
	}

	status, body, _, err = r.do(ctx, http.MethodPost, "/api/bookings/"+r.bookingID+"/cancel", passenger, map[string]any{"reason": "bench"})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("cancel status=%d body=%s", status, body)}
	}
	// 48 hours out the refund schedule pays everything back.
	if !strings.Contains(string(body), `"refund_amount":1000`) {
		return Result{Status: "FAIL", Note: "unexpected refund: " + string(body)}
	}
	return Result{Status: "PASS", Latency: latency}
}

func concurrentBookingBurst(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: "SKIP", Note: "no ride from earlier case"}
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succ := 0
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _, _, err := r.do(ctx, http.MethodPost, "/api/bookings", benchPassenger(i%64), map[string]any{
				"ride_id":        r.rideID,
				"seats":          1,
				"payment_method": "cash",
				"terms_accepted": true,
			})
			if err != nil {
				return
			}
			mu.Lock()
			if status == http.StatusCreated {
				succ++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if r.db == nil {
		return Result{Status: "PASS", Note: fmt.Sprintf("granted=%d (db check skipped)", succ)}
	}
	var total, available, booked int
	err := r.db.QueryRow(ctx, `
		SELECT total_seats, available_seats, booked_seats FROM rides WHERE id = $1`,
		r.rideID).Scan(&total, &available, &booked)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if booked > total || available < 0 || available+booked != total {
		return Result{Status: "FAIL", Note: fmt.Sprintf("counters total=%d available=%d booked=%d", total, available, booked)}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("granted=%d booked=%d/%d", succ, booked, total)}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Manual",
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: "SKIP", Note: note}
		},
	}
}

func perfLoad(ctx context.Context, r *Runner, method, path, sub string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				if _, _, _, err := r.do(ctx, method, path, sub, payload); err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
