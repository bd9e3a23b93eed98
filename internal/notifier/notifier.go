// Package notifier is the single component responsible for fanning
// completed Job runs out to the configured channels (SMTP, webhook,
// chat bot) and for composing the scheduled daily digest. No other
// package sends operator-facing notifications directly.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

// Notifier fans a completed run out to every enabled channel, subject to
// the configured trigger flags and the once-a-day cap on success
// notifications for scheduled runs.
type Notifier struct {
	cfgRepo repository.NotificationConfigRepository
	jobs    repository.JobRepository
	jobLogs repository.JobLogRepository
	nodes   repository.NodeRepository
	logger  *zap.Logger

	email   *emailSender
	webhook *webhookSender
	chat    *chatSender

	mu                sync.Mutex
	dailyNotified     map[uuid.UUID]time.Time // job_id -> last success notification time
}

// New creates a Notifier. Channel senders reload NotificationConfig from
// cfgRepo on every Send, so configuration changes apply without a restart.
func New(
	cfgRepo repository.NotificationConfigRepository,
	jobs repository.JobRepository,
	jobLogs repository.JobLogRepository,
	nodes repository.NodeRepository,
	logger *zap.Logger,
) *Notifier {
	loader := func(ctx context.Context) (*store.NotificationConfig, error) {
		return cfgRepo.Get(ctx)
	}
	return &Notifier{
		cfgRepo:       cfgRepo,
		jobs:          jobs,
		jobLogs:       jobLogs,
		nodes:         nodes,
		logger:        logger.Named("notifier"),
		email:         newEmailSender(loader),
		webhook:       newWebhookSender(loader),
		chat:          newChatSender(loader),
		dailyNotified: make(map[uuid.UUID]time.Time),
	}
}

// Notify sends the outcome of one completed run to every enabled channel,
// subject to the NotificationConfig trigger flags and, for scheduled
// success runs, the once-per-job-per-day dedup.
func (n *Notifier) Notify(ctx context.Context, outcome RunOutcome) error {
	cfg, err := n.cfgRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("notifier: loading config: %w", err)
	}

	status := string(outcome.Log.Status)
	shouldNotify := (status == string(store.LogStatusSuccess) && cfg.NotifyOnSuccess) ||
		(status == string(store.LogStatusFailed) && cfg.NotifyOnFailure)
	if !shouldNotify {
		return nil
	}

	if outcome.IsScheduled && status == string(store.LogStatusSuccess) {
		if n.alreadyNotifiedToday(outcome.Job.ID) {
			return nil
		}
		n.markNotified(outcome.Job.ID)
	}

	title := fmt.Sprintf("Replication %s: %s", status, outcome.Job.Name)
	body := n.formatJobMessage(outcome)

	// Each channel fails independently — an SMTP outage must not suppress
	// the webhook or chat delivery.
	if err := n.email.Send(ctx, []string{cfg.SMTPFrom}, title, body); err != nil {
		n.logger.Warn("email delivery failed", zap.String("job_id", outcome.Job.ID.String()), zap.Error(err))
	}
	if err := n.webhook.Send(ctx, "job_"+status, title, body, map[string]any{
		"job_id": outcome.Job.ID.String(),
		"status": status,
	}); err != nil {
		n.logger.Warn("webhook delivery failed", zap.String("job_id", outcome.Job.ID.String()), zap.Error(err))
	}
	if err := n.chat.Send(ctx, body); err != nil {
		n.logger.Warn("chat delivery failed", zap.String("job_id", outcome.Job.ID.String()), zap.Error(err))
	}

	return nil
}

func (n *Notifier) formatJobMessage(outcome RunOutcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job: %s\n", outcome.Job.Name)
	fmt.Fprintf(&sb, "Source: %s\n", outcome.SourceNode)
	fmt.Fprintf(&sb, "Destination: %s\n", outcome.DestNode)
	if outcome.Log.DurationSeconds > 0 {
		fmt.Fprintf(&sb, "Duration: %.0fs\n", outcome.Log.DurationSeconds)
	}
	if outcome.Log.Transferred != "" {
		fmt.Fprintf(&sb, "Transferred: %s\n", outcome.Log.Transferred)
	}
	if outcome.Log.Status == store.LogStatusFailed && outcome.Log.Message != "" {
		fmt.Fprintf(&sb, "\nError:\n%s\n", truncate(outcome.Log.Message, 500))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// alreadyNotifiedToday reports whether a scheduled-success notification has
// already gone out for jobID today (UTC).
func (n *Notifier) alreadyNotifiedToday(jobID uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.dailyNotified[jobID]
	if !ok {
		return false
	}
	return last.UTC().Format("2006-01-02") == time.Now().UTC().Format("2006-01-02")
}

func (n *Notifier) markNotified(jobID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dailyNotified[jobID] = time.Now().UTC()
	n.cleanupOldEntriesLocked()
}

// cleanupOldEntriesLocked drops dedup tracking older than 2 days. Caller
// must hold n.mu.
func (n *Notifier) cleanupOldEntriesLocked() {
	cutoff := time.Now().UTC().Add(-48 * time.Hour)
	for jobID, last := range n.dailyNotified {
		if last.Before(cutoff) {
			delete(n.dailyNotified, jobID)
		}
	}
}

// DailyDigest aggregates the last 24 hours of activity across every active
// Job and sends it to every enabled channel. Skipped entirely if no channel
// is enabled or no Jobs are configured.
func (n *Notifier) DailyDigest(ctx context.Context) error {
	cfg, err := n.cfgRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("notifier: loading config: %w", err)
	}
	if !cfg.SMTPEnabled && !cfg.WebhookEnabled && !cfg.ChatEnabled {
		return nil
	}

	jobs, err := n.jobs.ListActiveWithCron(ctx)
	if err != nil {
		return fmt.Errorf("notifier: listing active jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	digest, err := n.buildDigest(ctx, jobs)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Daily digest: %d/%d runs succeeded", digest.Successful, digest.TotalRuns)
	body := formatDigestBody(digest)

	if err := n.email.Send(ctx, []string{cfg.SMTPFrom}, title, body); err != nil {
		n.logger.Warn("digest email delivery failed", zap.Error(err))
	}
	if err := n.webhook.Send(ctx, "daily_digest", title, body, map[string]any{
		"total_jobs": digest.TotalJobs,
		"total_runs": digest.TotalRuns,
		"successful": digest.Successful,
		"failed":     digest.Failed,
	}); err != nil {
		n.logger.Warn("digest webhook delivery failed", zap.Error(err))
	}
	if err := n.chat.Send(ctx, body); err != nil {
		n.logger.Warn("digest chat delivery failed", zap.Error(err))
	}

	return nil
}

func (n *Notifier) buildDigest(ctx context.Context, jobs []store.Job) (Digest, error) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	digest := Digest{TotalJobs: len(jobs)}

	nodeNames := make(map[uuid.UUID]string)
	nodeName := func(id uuid.UUID) string {
		if name, ok := nodeNames[id]; ok {
			return name
		}
		node, err := n.nodes.GetByID(ctx, id)
		if err != nil {
			nodeNames[id] = "unknown"
			return "unknown"
		}
		nodeNames[id] = node.Name
		return node.Name
	}

	for i := range jobs {
		job := &jobs[i]
		logs, err := n.jobLogs.ListByJob(ctx, job.ID, repository.ListOptions{Limit: 200})
		if err != nil {
			return Digest{}, fmt.Errorf("notifier: listing logs for job %s: %w", job.ID, err)
		}

		sort.Slice(logs, func(i, j int) bool { return logs[i].StartedAt.After(logs[j].StartedAt) })

		entry := JobDigestEntry{
			JobID:           job.ID.String(),
			Name:            job.Name,
			SourceNode:      nodeName(job.SourceNodeID),
			DestNode:        nodeName(job.DestNodeID),
			SourceDataset:   job.SourceDataset,
			DestDataset:     job.DestDataset,
			Schedule:        job.Cron,
			LastStatus:      job.LastStatus,
			LastTransferred: job.LastTransferred,
		}
		if job.LastRunAt != nil {
			entry.LastRunAt = job.LastRunAt.UTC().Format("2006-01-02 15:04")
		}

		for _, l := range logs {
			if l.StartedAt.Before(cutoff) {
				continue
			}
			entry.Runs24h++
			entry.Duration24h += l.DurationSeconds
			switch l.Status {
			case store.LogStatusSuccess:
				entry.Success24h++
			case store.LogStatusFailed:
				entry.Failed24h++
				if entry.LastError == "" && l.Message != "" {
					entry.LastError = truncate(l.Message, 200)
					entry.LastErrorTime = l.StartedAt.UTC().Format("15:04")
				}
			}
		}

		digest.TotalRuns += entry.Runs24h
		digest.Successful += entry.Success24h
		digest.Failed += entry.Failed24h
		digest.TotalDuration += entry.Duration24h
		digest.Jobs = append(digest.Jobs, entry)
	}

	return digest, nil
}

func formatDigestBody(d Digest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configured jobs: %d\n", d.TotalJobs)
	fmt.Fprintf(&sb, "Runs: %d (success %d, failed %d)\n\n", d.TotalRuns, d.Successful, d.Failed)
	for _, j := range d.Jobs {
		fmt.Fprintf(&sb, "- %s (%s -> %s): %d runs, %d ok, %d failed",
			j.Name, j.SourceNode, j.DestNode, j.Runs24h, j.Success24h, j.Failed24h)
		if j.LastError != "" {
			fmt.Fprintf(&sb, ", last error at %s: %s", j.LastErrorTime, j.LastError)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
