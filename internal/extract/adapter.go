package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"resumeflow/internal/observability"
	"resumeflow/internal/resume"
)

func resumeSchema() map[string]any { return resume.JSONSchema() }

// Adapter runs the cascading extraction strategy against the capability:
// schema-constrained attempt, salvage of non-conforming output, free-text
// fallback, and a truncated free-text retry. Every attempt is logged with
// strategy, duration, outcome, and whether JSON repair was needed.
type Adapter struct {
	cap Capability
	log *slog.Logger
}

func NewAdapter(cap Capability, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cap: cap, log: logger}
}

// Extract runs the cascade, short-circuiting on the first strategy that
// yields a parseable object. The structural transform pass (Normalize)
// always runs on whatever emerges.
func (a *Adapter) Extract(ctx context.Context, docText string) (*Result, error) {
	if len(docText) == 0 {
		return nil, newError(CategoryEmpty, "", fmt.Errorf("document text is empty"))
	}

	schema := resumeSchema()

	// 1) Schema-constrained attempt.
	content, err := a.attemptJSON(ctx, StrategySchema, systemPrompt, userPrompt(docText), schema)
	if err == nil {
		if res, perr := a.finish(StrategySchema, content, false); perr == nil {
			return res, nil
		}
		// The capability answered but produced no conforming object:
		// 2) salvage a JSON-like substring from that raw text.
		if res, serr := a.salvage(StrategySalvage, content); serr == nil {
			return res, nil
		}
	}

	// 3) Free-text fallback, used on provider-level errors too.
	content, err = a.attemptText(ctx, StrategyFreeform, systemPrompt, freeformPrompt(docText))
	lastRaw := content
	if err == nil {
		if res, serr := a.salvage(StrategyFreeform, content); serr == nil {
			return res, nil
		}
		// First free-text attempt answered but didn't parse: retry once
		// with the input truncated and a single-object instruction.
		content, err = a.attemptText(ctx, StrategyFreeformTruncated, systemPrompt, truncatedFreeformPrompt(docText))
		if err == nil {
			lastRaw = content
			if res, serr := a.salvage(StrategyFreeformTruncated, content); serr == nil {
				return res, nil
			}
		}
	} else if ctx.Err() == context.DeadlineExceeded {
		return nil, newError(CategoryTimeout, lastRaw, err)
	}

	cat := Classify(err)
	if err == nil {
		cat = CategorySchema
		err = fmt.Errorf("all extraction strategies exhausted without a parseable object")
	}
	return nil, newError(cat, lastRaw, err)
}

// RepairWithFeedback asks the capability to correct only the failing
// fields of a previous output. It is invoked by the job runner after
// downstream schema validation rejects the adapter's output; it is not
// part of the adapter's own cascade.
func (a *Adapter) RepairWithFeedback(ctx context.Context, previous json.RawMessage, problems []string) (*Result, error) {
	content, err := a.attemptJSON(ctx, StrategyFeedback, feedbackSystemPrompt, feedbackPrompt(previous, problems), resumeSchema())
	if err != nil {
		return nil, newError(Classify(err), "", err)
	}
	if res, perr := a.finish(StrategyFeedback, content, false); perr == nil {
		return res, nil
	}
	if res, serr := a.salvage(StrategyFeedback, content); serr == nil {
		return res, nil
	}
	return nil, newError(CategorySchema, content, fmt.Errorf("feedback retry produced no parseable object"))
}

func (a *Adapter) attemptJSON(ctx context.Context, strategy Strategy, system, user string, schema map[string]any) (string, error) {
	start := time.Now()
	content, err := a.cap.CompleteJSON(ctx, system, user, schema)
	a.record(strategy, start, err)
	return content, err
}

func (a *Adapter) attemptText(ctx context.Context, strategy Strategy, system, user string) (string, error) {
	start := time.Now()
	content, err := a.cap.CompleteText(ctx, system, user)
	a.record(strategy, start, err)
	return content, err
}

func (a *Adapter) record(strategy Strategy, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ExtractionAttempts.WithLabelValues(string(strategy), outcome).Inc()
	if err != nil {
		a.log.Warn("extract.attempt.failed",
			"strategy", strategy, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	a.log.Info("extract.attempt.ok",
		"strategy", strategy,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// finish parses content as a strict JSON object and normalizes it.
func (a *Adapter) finish(strategy Strategy, content string, repaired bool) (*Result, error) {
	raw := json.RawMessage(content)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("content is not valid json")
	}
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	a.log.Info("extract.result",
		"strategy", strategy, "repaired", repaired, "bytes", len(normalized),
	)
	return &Result{Content: normalized, Strategy: strategy, Repaired: repaired}, nil
}

// salvage locates and repairs a JSON object inside free text, then
// normalizes it like any other result.
func (a *Adapter) salvage(strategy Strategy, content string) (*Result, error) {
	obj, repaired, err := LocateJSON(content)
	if err != nil {
		return nil, err
	}
	if repaired {
		observability.JSONRepairs.Inc()
		a.log.Warn("extract.json_repaired", "strategy", strategy)
	}
	res, err := a.finish(strategy, string(obj), repaired)
	if err != nil {
		return nil, err
	}
	return res, nil
}
