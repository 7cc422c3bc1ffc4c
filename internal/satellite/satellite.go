package satellite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/crawler"
	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
)

const (
	popBackoffInitial = time.Second
	popBackoffMax     = 30 * time.Second
	pausedPollDelay   = time.Second
)

// PageFetcher fetches a single URL. The HTTP fetcher and the headless
// browser both satisfy it; tests substitute fixtures.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) *crawler.FetchResult
}

// Satellite is a stateless worker that owns one job at a time: it pops
// jobs from the work queue, runs the crawl loop, emits results and
// heartbeats, and honors control commands.
type Satellite struct {
	id     string
	broker interfaces.Broker
	store  interfaces.JobStore
	config *common.Config
	logger arbor.ILogger

	rateLimiter *crawler.RateLimiter
	robots      *crawler.RobotsCache
	extractor   *crawler.LinkExtractor
	parser      *crawler.ContentParser
	browser     *crawler.BrowserFetcher

	// newFetcher builds the per-job fetcher; swapped out by tests
	newFetcher func(config models.CrawlConfig) PageFetcher

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	pausedLocal     atomic.Bool
	cancelRequested atomic.Bool
	currentJobID    atomic.Value // string
}

// New creates a satellite. An empty id gets a generated sat_ id.
func New(id string, broker interfaces.Broker, store interfaces.JobStore, config *common.Config, logger arbor.ILogger) *Satellite {
	if id == "" {
		id = common.NewSatelliteID()
	}

	robotsTTL, err := time.ParseDuration(config.Crawler.RobotsCacheTTL)
	if err != nil || robotsTTL <= 0 {
		robotsTTL = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Satellite{
		id:          id,
		broker:      broker,
		store:       store,
		config:      config,
		logger:      logger,
		rateLimiter: crawler.NewRateLimiter(config.RateLimiter, config.Crawler.DelaySeconds, config.AntiDetection.MLRateOptimization, logger),
		robots:      crawler.NewRobotsCache(nil, robotsTTL, logger),
		extractor:   crawler.NewLinkExtractor(),
		parser:      crawler.NewContentParser(),
		ctx:         ctx,
		cancel:      cancel,
	}
	if config.Crawler.RenderJavaScript {
		timeout := time.Duration(config.Crawler.TimeoutSeconds * float64(time.Second))
		s.browser = crawler.NewBrowserFetcher(config.Crawler, config.Crawler.UserAgent, timeout, logger)
	}

	s.currentJobID.Store("")
	s.newFetcher = s.defaultFetcher
	return s
}

// ID returns the satellite identifier
func (s *Satellite) ID() string {
	return s.id
}

func (s *Satellite) defaultFetcher(jobConfig models.CrawlConfig) PageFetcher {
	var proxies *crawler.ProxyRotator
	if s.config.Proxy.UseProxies && len(jobConfig.ProxyList) > 0 {
		retryDelay := time.Duration(s.config.Proxy.ProxyRetryDelaySeconds * float64(time.Second))
		proxies = crawler.NewProxyRotator(jobConfig.ProxyList, retryDelay, s.config.Proxy.MaxFailuresBeforeBan, s.logger)
	}
	return crawler.NewFetcher(jobConfig, s.config.Crawler, s.config.AntiDetection, proxies, s.logger)
}

// Start launches the main, control and heartbeat loops
func (s *Satellite) Start() error {
	if err := s.broker.Ping(s.ctx); err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}

	sub, err := s.broker.Subscribe(s.ctx,
		s.config.Queue.ControlChannelPrefix+":all",
		s.config.Queue.ControlChannelPrefix+":"+s.id,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to control channels: %w", err)
	}

	s.wg.Add(3)
	go s.controlLoop(sub)
	go s.heartbeatLoop()
	go s.mainLoop()

	s.logger.Info().
		Str("satellite_id", s.id).
		Str("job_queue", s.config.Queue.JobQueueName).
		Msg("Satellite started")
	return nil
}

// Stop signals every loop and waits for the current URL to drain
func (s *Satellite) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.browser != nil {
			s.browser.Close()
		}
		s.logger.Info().Str("satellite_id", s.id).Msg("Satellite stopped")
	})
}

// mainLoop consumes jobs until shutdown. The paused flag is consulted
// before every pop; broker failures back off exponentially.
func (s *Satellite) mainLoop() {
	defer s.wg.Done()

	backoff := popBackoffInitial
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.processingPaused() {
			s.sleep(pausedPollDelay)
			continue
		}

		payload, err := s.broker.PopBlocking(s.ctx, s.config.Queue.JobQueueName, s.config.Queue.PopTimeout.Duration())
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Job pop failed, backing off")
			s.sleep(backoff)
			backoff *= 2
			if backoff > popBackoffMax {
				backoff = popBackoffMax
			}
			continue
		}
		backoff = popBackoffInitial

		if payload == "" {
			continue
		}
		s.runJob(payload)
	}
}

// runJob executes one popped job end to end
func (s *Satellite) runJob(payload string) {
	job, err := models.JobFromJSON(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Popped payload is not a job, dead-lettering")
		s.deadLetter(payload)
		return
	}

	// The store has the freshest status; a job cancelled while queued
	// must not start
	stored, err := s.store.GetJob(s.ctx, job.ID)
	switch {
	case errors.Is(err, interfaces.ErrJobNotFound):
		// A queue entry with no record cannot be claimed or finished;
		// park it for operator inspection instead of dropping it
		s.logger.Warn().Str("job_id", job.ID).Msg("No store record for popped job, dead-lettering")
		s.deadLetter(payload)
		return
	case err != nil:
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Store unreachable, requeueing job")
		s.requeue(payload)
		return
	}
	if !stored.Status.CanTransitionTo(models.JobStatusInProgress) {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(stored.Status)).
			Msg("Skipping job, not startable")
		return
	}
	job = stored

	if err := s.store.UpdateStatus(s.ctx, job.ID, models.JobStatusInProgress); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to claim job")
		return
	}

	s.cancelRequested.Store(false)
	s.currentJobID.Store(job.ID)
	defer s.currentJobID.Store("")

	s.writeHeartbeat(s.ctx)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("target_url", job.TargetURL).
		Int("max_pages", job.Config.MaxPages).
		Msg("Crawl started")

	run := newCrawlRun(s, job)
	finalStatus := run.run(s.ctx)

	final := run.stats.finalResult(job.ID, finalStatus)
	s.pushResult(s.ctx, final)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(finalStatus)).
		Int("pages_crawled", run.stats.pagesCrawled).
		Int("backlinks_found", run.stats.backlinksFound).
		Msg("Crawl finished")
}

// controlLoop applies PAUSE/RESUME/CANCEL_JOB commands
func (s *Satellite) controlLoop(sub interfaces.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.handleControl(payload)
		}
	}
}

func (s *Satellite) handleControl(payload string) {
	msg, err := models.ControlMessageFromJSON(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Malformed control message")
		return
	}

	switch msg.Command {
	case models.CommandPause:
		s.pausedLocal.Store(true)
		s.logger.Info().Str("satellite_id", s.id).Msg("Processing paused by control command")
	case models.CommandResume:
		s.pausedLocal.Store(false)
		s.logger.Info().Str("satellite_id", s.id).Msg("Processing resumed by control command")
	case models.CommandCancelJob:
		jobID := msg.JobID()
		if jobID != "" && jobID == s.currentJobID.Load().(string) {
			s.cancelRequested.Store(true)
			s.logger.Info().Str("job_id", jobID).Msg("Cancel observed for current job")
		}
	default:
		s.logger.Debug().Str("command", msg.Command).Msg("Ignoring unknown control command")
	}
}

// heartbeatLoop writes liveness on a fixed interval; the crawl loop
// also writes every N processed URLs
func (s *Satellite) heartbeatLoop() {
	defer s.wg.Done()

	interval := s.config.Monitoring.HeartbeatInterval.Duration()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.writeHeartbeat(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeHeartbeat(s.ctx)
		}
	}
}

func (s *Satellite) writeHeartbeat(ctx context.Context) {
	score := float64(time.Now().Unix())
	if err := s.broker.ZAdd(ctx, s.config.Queue.HeartbeatQueueSorted, s.id, score); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write heartbeat")
	}
}

func (s *Satellite) processingPaused() bool {
	if s.pausedLocal.Load() {
		return true
	}
	paused, err := s.broker.GetFlag(s.ctx, s.config.Queue.PausedFlagKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read paused flag")
		return false
	}
	return paused
}

func (s *Satellite) pushResult(ctx context.Context, result *models.CrawlResult) {
	payload, err := result.ToJSON()
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", result.JobID).Msg("Failed to serialize result")
		return
	}
	if err := s.broker.Push(ctx, s.config.Queue.ResultQueueName, payload); err != nil {
		s.logger.Error().Err(err).Str("job_id", result.JobID).Msg("Failed to push result")
	}
}

// requeue returns a payload to the job queue so another pop retries it;
// if even that fails the payload is dead-lettered rather than lost
func (s *Satellite) requeue(payload string) {
	if err := s.broker.Push(s.ctx, s.config.Queue.JobQueueName, payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to requeue payload, dead-lettering")
		s.deadLetter(payload)
	}
}

func (s *Satellite) deadLetter(payload string) {
	if err := s.broker.Push(s.ctx, s.config.Queue.DeadLetterQueueName, payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to dead-letter payload")
	}
}

func (s *Satellite) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
	case <-timer.C:
	}
}
