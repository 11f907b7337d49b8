package scheduler

import (
	"context"
	"fmt"
	"strings"

	"labcase_backend/internal/email"
	"labcase_backend/internal/tickets/repository"
	"labcase_backend/platform/apperr"
	"labcase_backend/platform/config"
	"labcase_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	repo   *repository.Repository
	sender email.Sender
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, sender email.Sender, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		repo:   repository.New(pool),
		sender: sender,
		log:    log,
	}

	mux.HandleFunc(TaskTicketEmail, w.handleTicketEmail)

	return w, nil
}

// handleTicketEmail delivers the composed notification for one ticket detail.
// A send failure returns the error so asynq retries; the detail row is only
// marked sent after a successful delivery, never touched on failure.
func (w *Worker) handleTicketEmail(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTicketEmailPayload(task)
	if err != nil {
		return fmt.Errorf("bad ticket email payload: %v: %w", err, asynq.SkipRetry)
	}

	detail, ticket, err := w.repo.GetDetail(ctx, payload.DetailID)
	if err != nil {
		// The enqueue can outlive a rolled-back composition; a missing
		// detail is terminal, not retryable.
		if apperr.GetKind(err) == apperr.KindNotFound {
			w.log.Warn("ticket email dropped, detail missing", "detail_id", payload.DetailID)
			return nil
		}
		return err
	}
	if detail.EmailSent {
		return nil
	}

	msg := email.Message{
		From:     detail.FromAddress,
		To:       splitAddresses(detail.ToAddress),
		Cc:       splitAddresses(detail.CcAddress),
		Bcc:      splitAddresses(detail.BccAddress),
		Subject:  detail.Subject,
		HTMLBody: detail.Message,
	}
	if len(msg.To) == 0 {
		w.log.Warn("ticket email dropped, no recipient",
			"detail_id", detail.ID, "case_id", ticket.CaseID)
		return nil
	}

	if err := w.sender.Send(ctx, msg); err != nil {
		w.log.EmailEvent(detail.ToAddress, detail.Subject, false, err.Error())
		return err
	}
	w.log.EmailEvent(detail.ToAddress, detail.Subject, true, "")

	if err := w.repo.MarkDetailEmailSent(ctx, detail.ID); err != nil {
		// The mail went out; a bookkeeping failure must not trigger a
		// duplicate send on retry.
		w.log.DatabaseError("mark detail email sent", err)
	}
	return nil
}

// splitAddresses expands the semicolon-joined address fields.
func splitAddresses(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ";") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
