package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/processing/markdown"
	"github.com/newsdigest/core/internal/pkg/mail"
	"github.com/newsdigest/core/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

const (
	DefaultFastLane  = 2
	DefaultBatchSize = 10
	ExcerptLength    = 200

	TaskTypeBatch = "notify.batch"
)

var ErrStoryNotFound = errors.New("story not found")

// StorySource loads a story by id, returning ErrStoryNotFound when absent.
type StorySource interface {
	Story(ctx context.Context, id uint) (*models.StoryModel, error)
}

// RecipientSource lists the addresses that should receive notifications.
type RecipientSource interface {
	Eligible(ctx context.Context) ([]string, error)
}

// Config tunes the dispatcher. FastLane may be zero, which sends every
// recipient through the pool; only a negative value selects the default.
type Config struct {
	FastLane       int
	BatchSize      int
	SiteURL        string
	SiteName       string
	UnsubscribeURL string
}

// Dispatcher mails a newly published story to every eligible subscriber.
// The first FastLane recipients are sent inline; the rest go to the worker
// pool in batches of BatchSize, one message per recipient. Batches that do
// not fit the pool queue wait for space in the background instead of being
// dropped.
type Dispatcher struct {
	cfg     Config
	stories StorySource
	subs    RecipientSource
	mailer  mail.Mailer
	pool    *taskqueue.Pool
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	backlog sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a dispatcher. A nil pool makes every batch run inline.
func New(cfg Config, stories StorySource, subs RecipientSource, mailer mail.Mailer, pool *taskqueue.Pool, logger *zap.Logger) *Dispatcher {
	if cfg.FastLane < 0 {
		cfg.FastLane = DefaultFastLane
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.UnsubscribeURL == "" {
		cfg.UnsubscribeURL = cfg.SiteURL + "/api/v1/subscribe/unsubscribe"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		stories: stories,
		subs:    subs,
		mailer:  mailer,
		pool:    pool,
		logger:  logger.Named("notify"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close waits until every backlogged batch has been handed to the pool. If
// ctx expires first the remaining batches are abandoned and logged. Call it
// before shutting the pool down.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.backlog.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// BatchTicket identifies one background batch. A deferred batch had no room
// in the pool queue yet and has no job id until it is handed over.
type BatchTicket struct {
	Index    int    `json:"index"`
	JobID    string `json:"job_id,omitempty"`
	Size     int    `json:"size"`
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report describes what NotifySubscribers did before returning.
type Report struct {
	StoryID    uint          `json:"story_id"`
	Recipients int           `json:"recipients"`
	SyncSent   int           `json:"sync_sent"`
	SyncFailed int           `json:"sync_failed"`
	Batches    []BatchTicket `json:"batches"`
}

// Queued is the number of recipients handed to the background lane,
// including deferred batches still waiting for queue space.
func (r *Report) Queued() int {
	n := 0
	for _, b := range r.Batches {
		if b.Error == "" {
			n += b.Size
		}
	}
	return n
}

// Failure is one recipient that could not be mailed.
type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// BatchResult is the value a background batch job produces.
type BatchResult struct {
	StoryID  uint      `json:"story_id"`
	Index    int       `json:"index"`
	Sent     int       `json:"sent"`
	Failures []Failure `json:"failures,omitempty"`
}

// NotifySubscribers sends the story to all eligible subscribers. A missing
// story is logged and ignored. Send failures are logged and counted, never
// returned.
func (d *Dispatcher) NotifySubscribers(ctx context.Context, storyID uint) (*Report, error) {
	story, err := d.stories.Story(ctx, storyID)
	if errors.Is(err, ErrStoryNotFound) {
		d.logger.Warn("story not found, nothing to send", zap.Uint("story", storyID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load story %d: %w", storyID, err)
	}

	recipients, err := d.subs.Eligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	report := &Report{StoryID: storyID, Recipients: len(recipients), Batches: []BatchTicket{}}
	if len(recipients) == 0 {
		d.logger.Info("no eligible subscribers", zap.Uint("story", storyID))
		return report, nil
	}

	msg, err := d.render(story)
	if err != nil {
		return nil, fmt.Errorf("render newsletter: %w", err)
	}

	fast := d.cfg.FastLane
	if fast > len(recipients) {
		fast = len(recipients)
	}
	for _, to := range recipients[:fast] {
		if d.sendOne(ctx, msg, to, storyID) {
			report.SyncSent++
		} else {
			report.SyncFailed++
		}
	}

	batches := Batches(recipients[fast:], d.cfg.BatchSize)
	for i, batch := range batches {
		ticket, err := d.submit(ctx, storyID, i, msg, batch, false)
		if errors.Is(err, taskqueue.ErrQueueFull) {
			report.Batches = append(report.Batches, d.enqueueLater(storyID, i, msg, batches[i:])...)
			break
		}
		report.Batches = append(report.Batches, ticket)
	}

	d.logger.Info("story notification dispatched",
		zap.Uint("story", storyID),
		zap.Int("recipients", report.Recipients),
		zap.Int("sync_sent", report.SyncSent),
		zap.Int("sync_failed", report.SyncFailed),
		zap.Int("batches", len(report.Batches)),
		zap.Int("queued", report.Queued()),
	)
	return report, nil
}

// Batches splits recipients into consecutive chunks of at most size,
// preserving order.
func Batches(recipients []string, size int) [][]string {
	if size < 1 {
		size = DefaultBatchSize
	}
	out := make([][]string, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		out = append(out, recipients[start:end:end])
	}
	return out
}

// enqueueLater hands batches to a background feeder that waits for queue space.
// first is the index of batches[0] within the story's batch list.
func (d *Dispatcher) enqueueLater(storyID uint, first int, msg mail.Message, batches [][]string) []BatchTicket {
	tickets := make([]BatchTicket, 0, len(batches))
	for i, batch := range batches {
		tickets = append(tickets, BatchTicket{Index: first + i, Size: len(batch), Deferred: true})
	}

	d.mu.Lock()
	closed := d.closed
	if !closed {
		d.backlog.Add(1)
	}
	d.mu.Unlock()
	if closed {
		for i := range tickets {
			tickets[i].Deferred = false
			tickets[i].Error = "dispatcher closed"
		}
		d.logger.Error("notification batches dropped, dispatcher closed",
			zap.Uint("story", storyID),
			zap.Int("batches", len(batches)),
		)
		return tickets
	}

	d.logger.Info("notification queue full, feeding the rest as workers free up",
		zap.Uint("story", storyID),
		zap.Int("batches", len(batches)),
	)
	go func() {
		defer d.backlog.Done()
		for i, batch := range batches {
			_, _ = d.submit(d.ctx, storyID, first+i, msg, batch, true)
		}
	}()
	return tickets
}

// submit queues one batch. Without wait a full queue is returned as
// taskqueue.ErrQueueFull and left for the caller to defer; every other
// failure is logged and recorded on the ticket.
func (d *Dispatcher) submit(ctx context.Context, storyID uint, index int, msg mail.Message, batch []string, wait bool) (BatchTicket, error) {
	ticket := BatchTicket{Index: index, Size: len(batch)}
	run := func(ctx context.Context) (any, error) {
		return d.runBatch(ctx, storyID, index, msg, batch)
	}

	if d.pool == nil {
		_, _ = run(ctx)
		return ticket, nil
	}

	job := taskqueue.Job{
		Type:    TaskTypeBatch,
		Group:   fmt.Sprintf("story:%d", storyID),
		Payload: map[string]any{"story_id": storyID, "index": index, "size": len(batch)},
		Run:     run,
	}
	var (
		id  string
		err error
	)
	if wait {
		id, err = d.pool.SubmitWait(ctx, job)
	} else {
		id, err = d.pool.Submit(ctx, job)
	}
	if err != nil {
		if !wait && errors.Is(err, taskqueue.ErrQueueFull) {
			return ticket, err
		}
		d.logger.Error("notification batch not queued",
			zap.Uint("story", storyID),
			zap.Int("batch", index),
			zap.Strings("recipients", batch),
			zap.Error(err),
		)
		ticket.Error = err.Error()
		return ticket, err
	}
	ticket.JobID = id
	return ticket, nil
}

func (d *Dispatcher) runBatch(ctx context.Context, storyID uint, index int, msg mail.Message, batch []string) (*BatchResult, error) {
	res := &BatchResult{StoryID: storyID, Index: index}
	for _, to := range batch {
		m := msg
		m.To = to
		if err := d.mailer.Send(ctx, m); err != nil {
			d.logger.Warn("notification send failed",
				zap.Uint("story", storyID),
				zap.Int("batch", index),
				zap.String("recipient", to),
				zap.Error(err),
			)
			res.Failures = append(res.Failures, Failure{Email: to, Error: err.Error()})
			continue
		}
		res.Sent++
	}
	if res.Sent == 0 && len(res.Failures) > 0 {
		return res, fmt.Errorf("all %d sends in batch %d failed", len(res.Failures), index)
	}
	return res, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, msg mail.Message, to string, storyID uint) bool {
	msg.To = to
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.logger.Warn("notification send failed",
			zap.Uint("story", storyID),
			zap.String("recipient", to),
			zap.Error(err),
		)
		return false
	}
	return true
}

// StoryURL is the public page of a story.
func (d *Dispatcher) StoryURL(id uint) string {
	return d.cfg.SiteURL + models.StoryPagePath(id)
}

func (d *Dispatcher) render(story *models.StoryModel) (mail.Message, error) {
	thumb := story.ThumbnailURL(markdown.Render(story.Content))
	if strings.HasPrefix(thumb, "/") {
		thumb = d.cfg.SiteURL + thumb
	}
	return mail.RenderNewsletter(mail.NewsletterData{
		SiteName:       d.cfg.SiteName,
		Headline:       story.Headline,
		Snippet:        story.Snippet,
		Excerpt:        markdown.PlainExcerpt(story.Content, ExcerptLength),
		Thumbnail:      thumb,
		SystemID:       story.SystemID(),
		StoryURL:       d.StoryURL(story.ID),
		UnsubscribeURL: d.cfg.UnsubscribeURL,
	})
}
