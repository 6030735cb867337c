// Command gorecycle-sim drives simulated devices through full recycling sessions
// against the fake backend, or a real one, and reports scan latency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goRecycle "github.com/MrEthical07/goRecycle"
	"github.com/MrEthical07/goRecycle/internal/fakebackend"
	"github.com/MrEthical07/goRecycle/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/profile"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const simPassword = "simulated-pass"

var (
	devices      = flag.Int("devices", 50, "number of simulated devices")
	scans        = flag.Int("scans", 20, "scans per device")
	dupRate      = flag.Float64("dup-rate", 0.1, "fraction of scans that repeat an earlier code")
	backendURL   = flag.String("backend-url", "", "backend base URL; if empty an in-process fake backend is used")
	binKey       = flag.String("bin", "sim-bin", "QR key of the bin to recycle at")
	redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	envFile      = flag.String("env", "", "optional .env file with GORECYCLE_* settings")
	logLevel     = flag.String("log-level", "warn", "logrus level")
	printMetrics = flag.Bool("metrics", false, "print aggregated metrics in Prometheus format")
	cpuProfile   = flag.Bool("cpuprofile", false, "write a CPU profile")
	memProfile   = flag.Bool("memprofile", false, "write a memory profile")
	profilePath  = flag.String("profile-path", ".", "directory for profile output")
)

func main() {
	flag.Parse()

	if *devices <= 0 || *scans <= 0 || *dupRate < 0 || *dupRate > 1 {
		fmt.Fprintln(os.Stderr, "devices and scans must be > 0, dup-rate within [0,1]")
		os.Exit(2)
	}

	if *cpuProfile {
		p := profile.Start(profile.CPUProfile, profile.ProfilePath(*profilePath), profile.NoShutdownHook)
		defer p.Stop()
	} else if *memProfile {
		p := profile.Start(profile.MemProfile, profile.MemProfileAllocs, profile.ProfilePath(*profilePath), profile.NoShutdownHook)
		defer p.Stop()
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(context.Background(), log); err != nil {
		log.WithError(err).Error("simulation failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Logger) error {
	cfg := goRecycle.DefaultConfig()
	if *envFile != "" {
		loaded, err := goRecycle.LoadConfigFromEnv(*envFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Location.Watch = false

	url := *backendURL
	if url == "" {
		backend := fakebackend.New(fakebackend.Options{Logger: log.WithField("pkg", "fakebackend")})
		backend.AddBin(fakebackend.Bin{QRKey: *binKey, Name: "Simulated bin"})
		srv := httptest.NewServer(backend)
		defer srv.Close()
		url = srv.URL
		fmt.Printf("using in-process fake backend at %s\n", url)
	}
	cfg.API.BaseURL = url

	rdb, cleanup, err := openRedis()
	if err != nil {
		return err
	}
	defer cleanup()

	photoDir, err := os.MkdirTemp("", "gorecycle-sim-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(photoDir)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, *devices*(*scans))
		agg       = &aggregate{}
		failures  int64
		proofs    int64
	)

	start := time.Now()
	for d := 0; d < *devices; d++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			dev := device{
				id:    fmt.Sprintf("sim-%d", n),
				cfg:   cfg,
				rdb:   rdb,
				log:   log,
				dir:   photoDir,
				rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(n)*7919)),
				proof: &proofs,
			}
			samples, snap, err := dev.run(ctx)
			if err != nil {
				atomic.AddInt64(&failures, 1)
				log.WithError(err).WithField("device", dev.id).Warn("device run failed")
			}
			mu.Lock()
			latencies = append(latencies, samples...)
			mu.Unlock()
			agg.add(snap)
		}(d)
	}
	wg.Wait()

	stats := computeStats(time.Since(start), latencies, atomic.LoadInt64(&failures))
	fmt.Println("---- results ----")
	printStats("scan", stats)
	fmt.Printf("proof uploads: %d\n", atomic.LoadInt64(&proofs))

	if *printMetrics {
		fmt.Print(prometheus.NewPrometheusExporterFromSource(agg).Render())
	}
	return nil
}

func openRedis() (redis.UniversalClient, func(), error) {
	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

/*
====================================
DEVICE
====================================
*/

type device struct {
	id    string
	cfg   goRecycle.Config
	rdb   redis.UniversalClient
	log   logrus.FieldLogger
	dir   string
	rng   *rand.Rand
	proof *int64
}

// run registers an account, recycles scans items in one session and ends it.
func (d device) run(ctx context.Context) ([]time.Duration, goRecycle.MetricsSnapshot, error) {
	cfg := d.cfg
	cfg.Persistence.DeviceID = d.id

	client, err := goRecycle.New().
		WithConfig(cfg).
		WithRedis(d.rdb).
		WithCamera(simCamera{dir: d.dir, device: d.id}).
		WithLocationProvider(simLocation{}).
		WithConnectivity(simConnectivity{}).
		WithLogger(d.log.WithField("device", d.id)).
		Build()
	if err != nil {
		return nil, goRecycle.MetricsSnapshot{}, err
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return nil, client.MetricsSnapshot(), err
	}
	if _, err := client.Register(ctx, d.id+"@example.test", simPassword, simPassword); err != nil {
		return nil, client.MetricsSnapshot(), fmt.Errorf("register: %w", err)
	}
	if _, err := client.StartSession(ctx, *binKey); err != nil {
		return nil, client.MetricsSnapshot(), fmt.Errorf("start session: %w", err)
	}

	samples := make([]time.Duration, 0, *scans)
	var seen []string
	for i := 0; i < *scans; i++ {
		code := fmt.Sprintf("%s-item-%d", d.id, i)
		if len(seen) > 0 && d.rng.Float64() < *dupRate {
			code = seen[d.rng.Intn(len(seen))]
		}

		t0 := time.Now()
		_, err := client.HandleScan(ctx, code)
		samples = append(samples, time.Since(t0))

		if errors.Is(err, goRecycle.ErrProofRequired) {
			err = d.proveAndRetry(ctx, client, code)
		}
		if err != nil {
			return samples, client.MetricsSnapshot(), fmt.Errorf("scan %s: %w", code, err)
		}
		seen = append(seen, code)
	}

	if _, err := client.EndSession(ctx); err != nil {
		return samples, client.MetricsSnapshot(), fmt.Errorf("end session: %w", err)
	}
	return samples, client.MetricsSnapshot(), nil
}

func (d device) proveAndRetry(ctx context.Context, client *goRecycle.Client, code string) error {
	if _, err := client.CaptureProof(ctx); err != nil {
		return err
	}
	if _, err := client.SubmitProof(ctx); err != nil {
		return err
	}
	atomic.AddInt64(d.proof, 1)
	_, err := client.HandleScan(ctx, code)
	return err
}

type simCamera struct {
	dir    string
	device string
}

func (c simCamera) TakePhoto(context.Context) (goRecycle.Photo, error) {
	path := filepath.Join(c.dir, fmt.Sprintf("%s-%d.jpg", c.device, time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o600); err != nil {
		return goRecycle.Photo{}, err
	}
	return goRecycle.Photo{Path: path, ContentType: "image/jpeg", TakenAt: time.Now()}, nil
}

type simLocation struct{}

func (simLocation) ServicesEnabled(context.Context) (bool, error) { return true, nil }

func (simLocation) CurrentPosition(context.Context) (goRecycle.Fix, error) {
	return goRecycle.Fix{Latitude: 48.137, Longitude: 11.575, Accuracy: 8, At: time.Now()}, nil
}

func (simLocation) Watch(ctx context.Context) (<-chan goRecycle.Fix, error) {
	ch := make(chan goRecycle.Fix)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type simConnectivity struct{}

func (simConnectivity) Connected(context.Context) (bool, error) { return true, nil }

func (simConnectivity) Subscribe(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

/*
====================================
STATS
====================================
*/

// aggregate sums the metric snapshots of all devices.
type aggregate struct {
	mu   sync.Mutex
	snap goRecycle.MetricsSnapshot
}

func (a *aggregate) add(s goRecycle.MetricsSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snap.Counters == nil {
		a.snap.Counters = make(map[goRecycle.MetricID]uint64)
		a.snap.Histograms = make(map[goRecycle.MetricID][]uint64)
	}
	for id, v := range s.Counters {
		a.snap.Counters[id] += v
	}
	for id, buckets := range s.Histograms {
		sum := a.snap.Histograms[id]
		if len(sum) < len(buckets) {
			sum = append(sum, make([]uint64, len(buckets)-len(sum))...)
		}
		for i, v := range buckets {
			sum[i] += v
		}
		a.snap.Histograms[id] = sum
	}
}

func (a *aggregate) MetricsSnapshot() goRecycle.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

func (a *aggregate) EventsDropped() uint64 { return 0 }

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failed_devices=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
