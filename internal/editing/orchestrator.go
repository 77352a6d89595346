package editing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/ireland-samantha/editbot/internal/metrics"
	"github.com/ireland-samantha/editbot/internal/storage"
)

// User-facing notices.
const (
	NoImageText         = "No valid image attachments found."
	ProcessCompleteText = "Image processing complete"
)

// Binding pairs a provider with the longest the orchestrator waits for it.
type Binding struct {
	Provider Provider
	Timeout  time.Duration
}

// Request is one edit command.
type Request struct {
	ConversationID string
	Prompt         string
	Attachments    []Attachment
}

// Outcome is the result of one provider call.
type Outcome struct {
	Provider string
	Path     string
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the provider produced an image.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Path != ""
}

// Orchestrator fans one request out to every bound provider.
type Orchestrator struct {
	bindings []Binding
	log      storage.ConversationLog
	metrics  metrics.Metrics
	botName  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator over the given provider bindings.
func NewOrchestrator(
	log storage.ConversationLog,
	metricsService metrics.Metrics,
	botName string,
	logger *slog.Logger,
	bindings ...Binding,
) *Orchestrator {
	return &Orchestrator{
		bindings: bindings,
		log:      log,
		metrics:  metricsService,
		botName:  botName,
		logger:   logger,
		now:      time.Now,
	}
}

// Process runs an edit request. Outcomes are delivered to out and the transcript as each
// provider resolves, and returned in that order. Missing images and failed downloads are
// reported to the user and yield no outcomes. Only transcript and artifact storage
// failures are returned as errors.
func (o *Orchestrator) Process(ctx context.Context, req Request, out Surface) ([]Outcome, error) {
	requestID := uuid.NewString()
	logger := o.logger.With("request_id", requestID, "conversation", req.ConversationID)

	attachment, ok := FirstImage(req.Attachments)
	if !ok {
		o.metrics.ObserveEditRequest(metrics.RequestNoImage)
		return nil, o.notify(ctx, req.ConversationID, out, NoImageText)
	}

	data, err := out.Download(ctx, attachment)
	if err != nil {
		o.metrics.ObserveEditRequest(metrics.RequestFetchFailed)
		logger.Warn("failed to fetch image", "attachment", attachment.ID, "error", err)

		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			return nil, o.notify(ctx, req.ConversationID, out, fmt.Sprintf("Failed to fetch image: HTTP %d", transportErr.StatusCode))
		}
		return nil, o.notify(ctx, req.ConversationID, out, fmt.Sprintf("Failed to fetch image: %v", err))
	}
	o.metrics.ObserveEditRequest(metrics.RequestEdit)

	img := Image{Data: data, Filename: attachment.Name, ContentType: attachment.ContentType}

	dir, err := o.log.Dir(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare conversation storage: %w", err)
	}
	stamp := o.now().Format("20060102_150405") + "_" + requestID[:8]
	original := filepath.Join(dir, "original_image_"+stamp+extensionFor(data, attachment.ContentType))
	if err := os.WriteFile(original, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save original image: %w", err)
	}

	logger.Info("starting edit", "providers", len(o.bindings), "bytes", len(data))

	// Each provider gets its own watcher and result channel; the error pool only joins them.
	results := make(chan Outcome, len(o.bindings))
	watchers := pool.New().WithErrors()
	for _, b := range o.bindings {
		dest := filepath.Join(dir, fmt.Sprintf("edited_image_%s_%s", b.Provider.Name(), stamp))
		watchers.Go(func() error {
			outcome := o.await(ctx, b, img, req.Prompt, dest)
			err := o.deliver(ctx, req.ConversationID, out, b.Provider, &outcome, logger)
			results <- outcome
			return err
		})
	}
	err = watchers.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(o.bindings))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	if err != nil {
		return outcomes, err
	}

	return outcomes, o.notify(ctx, req.ConversationID, out, ProcessCompleteText)
}

// await runs one provider call and stops waiting at the binding's bound even if the
// provider ignores cancellation.
func (o *Orchestrator) await(ctx context.Context, b Binding, img Image, prompt, dest string) Outcome {
	name := b.Provider.Name()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		path, err := b.Provider.Edit(callCtx, img, prompt, dest)
		done <- Outcome{Provider: name, Path: path, Err: err}
	}()

	var outcome Outcome
	select {
	case outcome = <-done:
		if outcome.Err == nil && outcome.Path == "" {
			outcome.Err = &EditError{Provider: name, Err: errors.New("no output produced")}
		}
	case <-callCtx.Done():
		outcome = Outcome{Provider: name, Err: callCtx.Err()}
	}
	outcome.Elapsed = time.Since(start)

	if outcome.Err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		outcome.Err = &EditError{Provider: name, Err: fmt.Errorf("%w after %s", ErrTimeout, b.Timeout)}
		outcome.Path = ""
	}
	return outcome
}

// deliver reports one outcome to the chat surface and the transcript. A result that
// cannot be uploaded is reported as a failure.
func (o *Orchestrator) deliver(ctx context.Context, conversationID string, out Surface, p Provider, outcome *Outcome, logger *slog.Logger) error {
	logCtx := context.WithoutCancel(ctx)

	if outcome.OK() {
		if _, err := out.SendText(ctx, fmt.Sprintf("%s processing complete!", p.DisplayName())); err != nil {
			logger.Warn("failed to send provider notice", "provider", p.Name(), "error", err)
		}
		fileID, err := out.SendFile(ctx, outcome.Path)
		if err == nil {
			o.observe(*outcome)
			logger.Info("provider succeeded", "provider", p.Name(), "path", outcome.Path, "elapsed", outcome.Elapsed)
			return o.log.Append(logCtx, conversationID, p.Name()+"-editing", outcome.Path, fileID)
		}
		outcome.Err = &EditError{Provider: p.Name(), Err: fmt.Errorf("failed to upload result: %w", err)}
	}

	o.observe(*outcome)
	logger.Warn("provider failed", "provider", p.Name(), "error", outcome.Err, "elapsed", outcome.Elapsed)

	noticeID, err := out.SendText(ctx, fmt.Sprintf("Error with %s processing: %v", p.DisplayName(), outcome.Err))
	if err != nil {
		logger.Error("failed to send provider error notice", "provider", p.Name(), "error", err)
	}
	return o.log.Append(logCtx, conversationID, p.Name()+"-error", outcome.Err.Error(), noticeID)
}

// notify sends a bot notice and records it.
func (o *Orchestrator) notify(ctx context.Context, conversationID string, out Surface, text string) error {
	id, err := out.SendText(ctx, text)
	if err != nil {
		o.logger.Error("failed to send notice", "conversation", conversationID, "error", err)
	}
	return o.log.Append(context.WithoutCancel(ctx), conversationID, o.botName, text, id)
}

func (o *Orchestrator) observe(outcome Outcome) {
	result := metrics.ResultSuccess
	switch {
	case errors.Is(outcome.Err, ErrTimeout):
		result = metrics.ResultTimeout
	case outcome.Err != nil:
		result = metrics.ResultError
	}
	o.metrics.ObserveProviderOutcome(outcome.Provider, result, outcome.Elapsed.Seconds())
}
