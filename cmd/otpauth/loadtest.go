package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	otpauth "github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/metrics/export/internaldefs"
	"github.com/alicebob/miniredis/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type loadtestOptions struct {
	identities  int
	concurrency int
	rounds      int
	delay       time.Duration
	phoneRatio  int
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

type loadtestReport struct {
	store    string
	rounds   []phaseStats
	snapshot otpauth.MetricsSnapshot
}

func newLoadtestCmd(root *rootOptions) *cobra.Command {
	opts := &loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Authenticate many identities against a simulated backend",
		Long: `loadtest starts an in-process backend that issues OTPs into Redis and
drives concurrent authentications through the engine.

Redis comes from --redis-addr, then REDIS_ADDR, then an embedded miniredis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.identities <= 0 || opts.concurrency <= 0 || opts.rounds <= 0 {
				return fmt.Errorf("identities, concurrency and rounds must be > 0")
			}
			rep, err := runLoadtest(cmd.Context(), root, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.identities, "identities", 200, "distinct identities per round")
	f.IntVar(&opts.concurrency, "concurrency", 32, "concurrent authentications")
	f.IntVar(&opts.rounds, "rounds", 1, "rounds over all identities")
	f.DurationVar(&opts.delay, "delay", 0, "OTP propagation delay")
	f.IntVar(&opts.phoneRatio, "phone-every", 2, "every n-th identity is a phone number (0 disables)")
	return cmd
}

func runLoadtest(ctx context.Context, root *rootOptions, opts *loadtestOptions, logOut io.Writer) (loadtestReport, error) {
	rep := loadtestReport{}

	addr := root.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return rep, fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		rep.store = "miniredis " + addr
	} else {
		rep.store = "redis " + addr
	}

	cfg := otpauth.DefaultConfig()
	cfg.Redis.Addr = addr
	cfg.OTP.PropagationDelay = opts.delay
	cfg.OTP.MockEnabled = root.mock
	cfg.API.ClientID = "loadtest"
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = false

	backend := startSimBackend(cfg, addr)
	defer backend.Close()
	cfg.Backend.BaseURL = backend.URL()

	logger, err := root.logger(logOut)
	if err != nil {
		return rep, err
	}
	engine, err := otpauth.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return rep, err
	}
	defer engine.Close()

	ids := make([]string, opts.identities)
	for i := range ids {
		if opts.phoneRatio > 0 && i%opts.phoneRatio == opts.phoneRatio-1 {
			ids[i] = fmt.Sprintf("9%09d", i)
		} else {
			ids[i] = fmt.Sprintf("user%05d@loadtest.local", i)
		}
	}

	for r := 0; r < opts.rounds; r++ {
		stats, err := runRound(ctx, engine, ids, opts.concurrency)
		if err != nil {
			return rep, err
		}
		rep.rounds = append(rep.rounds, stats)
	}
	rep.snapshot = engine.MetricsSnapshot()
	return rep, nil
}

func runRound(ctx context.Context, engine *otpauth.Engine, ids []string, concurrency int) (phaseStats, error) {
	var (
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for _, id := range ids {
		g.Go(func() error {
			t0 := time.Now()
			res, err := engine.Authenticate(gctx, id, "", "")
			d := time.Since(t0)
			if err != nil {
				return err
			}
			if !res.Success {
				atomic.AddInt64(&failures, 1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	return computeStats(time.Since(start), latencies, failures), nil
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printReport(w io.Writer, rep loadtestReport) {
	fmt.Fprintf(w, "store: %s\n", rep.store)

	t := newTable(w)
	t.AppendHeader(header("ROUND", "OPS", "FAILURES", "TOTAL", "OPS/SEC", "P50", "P95", "P99"))
	for i, s := range rep.rounds {
		t.AppendRow([]any{
			i + 1,
			humanize.Comma(int64(s.ops)),
			humanize.Comma(s.failures),
			s.total.Round(time.Millisecond),
			humanize.CommafWithDigits(s.opsPerS, 1),
			s.p50.Round(time.Microsecond),
			s.p95.Round(time.Microsecond),
			s.p99.Round(time.Microsecond),
		})
	}
	t.Render()

	m := newTable(w)
	m.AppendHeader(header("METRIC", "VALUE"))
	for _, def := range internaldefs.CounterDefs {
		v := rep.snapshot.Counters[def.ID]
		if v == 0 {
			continue
		}
		m.AppendRow([]any{def.Name, humanize.Comma(int64(v))})
	}
	m.Render()
}
