// Package probe checks the availability of dataset URLs with HEAD requests
// and records one health observation per URL.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/classify"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/telemetry"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/transport"
)

// Request headers sent with every probe.
const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.5"
)

// Defaults for a zero Config.
const (
	DefaultMaxConcurrent = 50
	DefaultMaxRedirects  = 10
	DefaultTimeout       = 30 * time.Second
)

// writeBackTimeout bounds the result update, which outlives cancellation of
// the run so completed probes are kept.
const writeBackTimeout = 30 * time.Second

// localIssueShare is the share of local failures above which a run is
// reported as a monitoring host problem.
const localIssueShare = 10

// RecordWriter persists health records.
type RecordWriter interface {
	Insert(ctx context.Context, records []domain.HealthRecord) error
	Update(ctx context.Context, records []domain.HealthRecord) error
}

// Config controls the probe pool.
type Config struct {
	Timeout       time.Duration
	MaxConcurrent int
	MaxRedirects  int
}

// Summary counts the outcomes of one run.
type Summary struct {
	Total   int
	Success int
	Local   int
	Remote  int
}

// LocalIssueHigh reports whether more than a tenth of the probes failed for
// likely local reasons.
func (s Summary) LocalIssueHigh() bool {
	return s.Local*localIssueShare > s.Total
}

// Result is the outcome of ProbeAll.
type Result struct {
	Records []domain.HealthRecord
	Summary Summary
}

// Prober runs probe batches.
type Prober struct {
	client  *http.Client
	workers int
	writer  RecordWriter
	log     logger.Logger
	metrics *telemetry.Metrics
}

// NewProber creates a prober. Certificate checks are disabled: a probe asks
// whether the URL answers, not whether its certificate is trusted.
func NewProber(cfg Config, writer RecordWriter, log logger.Logger, metrics *telemetry.Metrics) *Prober {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Prober{
		client: transport.NewClient(transport.ClientConfig{
			Timeout:             cfg.Timeout,
			MaxIdleConnsPerHost: cfg.MaxConcurrent,
			InsecureSkipVerify:  true,
			MaxRedirects:        cfg.MaxRedirects,
		}),
		workers: cfg.MaxConcurrent,
		writer:  writer,
		log:     log,
		metrics: metrics,
	}
}

// ProbeAll records a pending row for every document with a URL, probes the
// URLs concurrently and writes all results back in one update. Only storage
// failures are returned; probe failures are part of the records.
func (p *Prober) ProbeAll(ctx context.Context, docs []domain.DatasetDocument) (*Result, error) {
	now := time.Now().UTC()
	records := make([]domain.HealthRecord, 0, len(docs))
	for i := range docs {
		if rec, ok := domain.NewHealthRecord(&docs[i], now); ok {
			records = append(records, rec)
		}
	}

	if dropped := len(docs) - len(records); dropped > 0 {
		p.log.Info("Skipping documents without URL", logger.Int("count", dropped))
	}
	if len(records) == 0 {
		p.log.Info("No URLs to probe")
		return &Result{}, nil
	}

	if err := p.writer.Insert(ctx, records); err != nil {
		return nil, err
	}

	p.log.Info("Starting URL probes",
		logger.Int("urls", len(records)),
		logger.Int("concurrency", p.workers),
	)
	started := time.Now()

	done := p.run(ctx, records)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer cancel()
	if err := p.writer.Update(writeCtx, done); err != nil {
		return nil, err
	}

	summary := Summarize(done)
	p.metrics.RecordProbeRun(summary.Total, summary.Local)
	p.log.Info("URL probes complete",
		logger.Int("total", summary.Total),
		logger.Int("success", summary.Success),
		logger.Int("local_issues", summary.Local),
		logger.Int("remote_issues", summary.Remote),
		logger.Duration("duration", time.Since(started)),
	)
	if summary.LocalIssueHigh() {
		p.log.Warn("High share of local network failures, check the monitoring host connectivity",
			logger.Int("local_issues", summary.Local),
			logger.Int("total", summary.Total),
		)
	}

	return &Result{Records: done, Summary: summary}, nil
}

func (p *Prober) run(ctx context.Context, records []domain.HealthRecord) []domain.HealthRecord {
	jobs := make(chan domain.HealthRecord, len(records))
	results := make(chan domain.HealthRecord, len(records))

	workers := min(p.workers, len(records))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg)
	}

	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)

	wg.Wait()
	close(results)

	done := make([]domain.HealthRecord, 0, len(records))
	for rec := range results {
		done = append(done, rec)
	}
	return done
}

func (p *Prober) worker(ctx context.Context, jobs <-chan domain.HealthRecord, results chan<- domain.HealthRecord, wg *sync.WaitGroup) {
	defer wg.Done()

	for rec := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.check(ctx, &rec)
		results <- rec
	}
}

// check probes one URL and fills the result fields of rec.
func (p *Prober) check(ctx context.Context, rec *domain.HealthRecord) {
	start := time.Now()
	resp, err := p.head(ctx, rec.URL)
	elapsed := time.Since(start)

	if resp != nil {
		_ = resp.Body.Close()
	}

	ms := elapsed.Milliseconds()
	rec.ResponseTimeMS = &ms
	rec.CheckTime = time.Now().UTC()

	var category string
	switch {
	case err != nil:
		f := classify.FromError(err)
		setFailure(rec, f)
		category = string(f.Category)
		p.log.Debug("Probe failed",
			logger.String("url", rec.URL),
			logger.String("category", category),
			logger.Error(err),
		)
	default:
		code := resp.StatusCode
		text := statusText(code)
		rec.StatusCode = &code
		rec.StatusText = &text
		headers := FlattenHeaders(resp.Header)
		rec.Headers = &headers

		if f, failed := classify.FromStatus(code); failed {
			setFailure(rec, f)
			category = string(f.Category)
		} else {
			local := false
			rec.IsLikelyLocalIssue = &local
		}
	}

	p.metrics.RecordProbe(category, elapsed)
}

func (p *Prober) head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", classify.ErrBuildRequest, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Connection", "keep-alive")

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

func setFailure(rec *domain.HealthRecord, f classify.Failure) {
	category := f.Category
	local := classify.IsLikelyLocalIssue(category)
	rec.ErrorCategory = &category
	msg := domain.CleanText(f.Message)
	detail := domain.CleanText(f.Detail)
	rec.ErrorMsg = &msg
	rec.ErrorDetail = &detail
	rec.IsLikelyLocalIssue = &local
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}

// FlattenHeaders renders headers as "name: value" pairs joined by ", ",
// lowercased and sorted by name. Values are cleaned of bytes that are not
// valid UTF-8, which servers may legally send as obs-text.
func FlattenHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			parts = append(parts, strings.ToLower(name)+": "+domain.CleanText(v))
		}
	}
	return strings.Join(parts, ", ")
}

// Summarize counts successes and local and remote failures.
func Summarize(records []domain.HealthRecord) Summary {
	s := Summary{Total: len(records)}
	for i := range records {
		r := &records[i]
		local := r.IsLikelyLocalIssue != nil && *r.IsLikelyLocalIssue
		switch {
		case r.IsSuccess():
			s.Success++
		case local:
			s.Local++
		case r.ErrorCategory != nil:
			s.Remote++
		}
	}
	return s
}
