// Benchmark tool for exercising Heron with synthetic genuine and impostor logins.
//
// Usage:
//   go run ./cmd/benchmark -url http://localhost:8080 -users 50 -logins 20
//
// This tool:
//   1. Enrolls synthetic users with a calm calibration capture
//   2. Replays logins that either match the owner's rhythm or an impostor's
//   3. Answers challenges the way the sender of the login would
//   4. Reports false accept / false reject rates and latency
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/domain"
)

// Sample is one login to replay.
type Sample struct {
	UserID   string
	Impostor bool
	Features domain.FeatureVector
}

// Metrics tracks benchmark results
type Metrics struct {
	GenuineGranted    int64 // Owner let in
	GenuineRejected   int64 // Owner denied (false reject)
	ImpostorGranted   int64 // Impostor let in (false accept)
	ImpostorRejected  int64 // Impostor denied
	ChallengesIssued  int64
	ChallengesGranted int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// rhythm is a synthetic typist.
type rhythm struct {
	speed, hold, iki float64
	device, location string
}

func (r rhythm) capture(jitter float64, rng *rand.Rand) domain.FeatureVector {
	j := func(v float64) float64 { return v * (1 + jitter*(rng.Float64()*2-1)) }
	return domain.FeatureVector{
		Signals: map[string]float64{
			domain.SignalTypingSpeed: j(r.speed),
			domain.SignalKeyHoldTime: j(r.hold),
			domain.SignalIKIMean:     j(r.iki),
			domain.SignalIKIStd:      r.iki * 0.15,
			domain.SignalHoldStd:     r.hold * 0.1,
			"typing_speed_std":       r.speed * 0.1,
			domain.SignalKeyCount:    float64(40 + rng.IntN(20)),
		},
		DeviceHash:   r.device,
		LocationHash: r.location,
	}
}

func newRhythm(rng *rand.Rand) rhythm {
	return rhythm{
		speed:    3 + rng.Float64()*5,
		hold:     80 + rng.Float64()*60,
		iki:      120 + rng.Float64()*120,
		device:   uuid.NewString(),
		location: uuid.NewString(),
	}
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	users := flag.Int("users", 50, "Number of synthetic users to enroll")
	logins := flag.Int("logins", 20, "Logins per user")
	impostorRate := flag.Float64("impostor", 0.2, "Fraction of logins sent by an impostor (0.0-1.0)")
	jitter := flag.Float64("jitter", 0.1, "Relative noise on genuine captures")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Uint64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", false, "Print each login result")
	flag.Parse()

	fmt.Println("HERON BENCHMARK - synthetic behavioral logins")
	fmt.Printf("\nHeron URL:     %s\n", *baseURL)
	fmt.Printf("Tenant ID:     %s\n", *tenantID)
	fmt.Printf("Users:         %d\n", *users)
	fmt.Printf("Logins/user:   %d\n", *logins)
	fmt.Printf("Impostor rate: %.2f\n", *impostorRate)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Println()

	// Check Heron is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running:")
		fmt.Println("  go run ./cmd/heron")
		os.Exit(1)
	}
	fmt.Println("Heron is healthy")

	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewPCG(*seed, *seed))
	run := uuid.NewString()[:8]

	owners := make(map[string]rhythm, *users)
	var samples []Sample
	for i := 0; i < *users; i++ {
		userID := fmt.Sprintf("bench-%s-%04d", run, i)
		owner := newRhythm(rng)
		req := api.EnrollRequest{
			UserID: userID,
			Phases: map[domain.Context]domain.FeatureVector{
				domain.ContextCalm: owner.capture(0, rng),
			},
		}
		if _, err := post(client, *baseURL, *tenantID, "/enroll", req, nil); err != nil {
			fmt.Printf("ERROR: failed to enroll %s: %v\n", userID, err)
			os.Exit(1)
		}
		owners[userID] = owner

		for j := 0; j < *logins; j++ {
			s := Sample{UserID: userID, Features: owner.capture(*jitter, rng)}
			if rng.Float64() < *impostorRate {
				s.Impostor = true
				s.Features = newRhythm(rng).capture(*jitter, rng)
			}
			samples = append(samples, s)
		}
	}
	fmt.Printf("Enrolled %d users, %d logins queued\n", len(owners), len(samples))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(client, samples, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// runBenchmark replays samples. Logins for one user are sent in order by a
// single worker so each sees the profile its predecessor left behind.
func runBenchmark(client *http.Client, samples []Sample, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	byUser := make(map[string][]Sample)
	var order []string
	for _, s := range samples {
		if _, ok := byUser[s.UserID]; !ok {
			order = append(order, s.UserID)
		}
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}

	work := make(chan []Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range work {
				for _, s := range batch {
					start := time.Now()
					resp, challenged, err := attempt(client, baseURL, tenantID, s)
					atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
					atomic.AddInt64(&metrics.TotalProcessed, 1)

					if err != nil {
						atomic.AddInt64(&metrics.TotalErrors, 1)
						if verbose {
							fmt.Printf("ERROR: %s -> %v\n", s.UserID, err)
						}
						continue
					}
					if challenged {
						atomic.AddInt64(&metrics.ChallengesIssued, 1)
						if resp.Action == domain.ActionGranted {
							atomic.AddInt64(&metrics.ChallengesGranted, 1)
						}
					}

					granted := resp.Action == domain.ActionGranted
					switch {
					case !s.Impostor && granted:
						atomic.AddInt64(&metrics.GenuineGranted, 1)
					case !s.Impostor:
						atomic.AddInt64(&metrics.GenuineRejected, 1)
					case granted:
						atomic.AddInt64(&metrics.ImpostorGranted, 1)
					default:
						atomic.AddInt64(&metrics.ImpostorRejected, 1)
					}

					if verbose {
						status := "ok"
						if granted == s.Impostor {
							status = "MISS"
						}
						fmt.Printf("%-4s %-22s | Impostor: %-5v | Heron: %-10s (%3d) | Challenged: %v\n",
							status, s.UserID, s.Impostor, resp.Action, resp.TrustScore, challenged)
					}
				}
			}
		}()
	}

	for _, userID := range order {
		work <- byUser[userID]
	}
	close(work)

	wg.Wait()

	return metrics
}

// attempt sends a login and, when challenged, answers with the same capture.
func attempt(client *http.Client, baseURL, tenantID string, s Sample) (*domain.LoginResponse, bool, error) {
	var resp domain.LoginResponse
	if _, err := post(client, baseURL, tenantID, "/login", api.LoginRequest{UserID: s.UserID, Features: s.Features}, &resp); err != nil {
		return nil, false, err
	}
	if resp.Action != domain.ActionChallenged {
		return &resp, false, nil
	}

	var verified domain.LoginResponse
	req := api.VerifyRequest{UserID: s.UserID, ChallengeToken: resp.ChallengeToken, Features: s.Features}
	if _, err := post(client, baseURL, tenantID, "/challenge/verify", req, &verified); err != nil {
		return nil, true, err
	}
	return &verified, true, nil
}

var errUnexpectedStatus = errors.New("unexpected status")

func post(client *http.Client, baseURL, tenantID, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusUnauthorized:
	default:
		return resp.StatusCode, fmt.Errorf("%w %d", errUnexpectedStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	genuine := m.GenuineGranted + m.GenuineRejected
	impostor := m.ImpostorGranted + m.ImpostorRejected

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Genuine:          %d\n", genuine)
	fmt.Printf("   Impostor:         %d\n", impostor)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nOUTCOMES\n")
	fmt.Println("                       Granted    Rejected")
	fmt.Printf("   Genuine       %10d  %10d\n", m.GenuineGranted, m.GenuineRejected)
	fmt.Printf("   Impostor      %10d  %10d\n", m.ImpostorGranted, m.ImpostorRejected)

	far := ratio(m.ImpostorGranted, impostor)
	frr := ratio(m.GenuineRejected, genuine)
	fmt.Printf("\nRATES\n")
	fmt.Printf("   False Accept Rate:  %.4f  (impostors let in)\n", far)
	fmt.Printf("   False Reject Rate:  %.4f  (owners turned away)\n", frr)
	fmt.Printf("   Challenge Rate:     %.4f\n", ratio(m.ChallengesIssued, m.TotalProcessed))
	fmt.Printf("   Challenge Pass:     %.4f\n", ratio(m.ChallengesGranted, m.ChallengesIssued))

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f logins/sec\n", rps)
	}
	fmt.Println()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
