package tools

import (
	"context"
	"fmt"

	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// JobTypeResearch is the job type the research handler is registered under.
const JobTypeResearch = "research"

// requestFromArgs builds the normalized pipeline request from tool
// arguments. Mixed string/object document arrays are promoted here.
func requestFromArgs(args Args) (*research.Request, error) {
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	maxLength, err := intArg(args, "maxLength", 0)
	if err != nil {
		return nil, err
	}

	docs, err := attachmentsArg(args, "textDocuments", research.AttachmentDocument)
	if err != nil {
		return nil, err
	}
	data, err := attachmentsArg(args, "structuredData", research.AttachmentData)
	if err != nil {
		return nil, err
	}
	images, err := attachmentsArg(args, "images", research.AttachmentImage)
	if err != nil {
		return nil, err
	}

	req := &research.Request{
		Query: query,
		Params: store.ResearchParams{
			CostPreference: stringArg(args, "costPreference"),
			AudienceLevel:  stringArg(args, "audienceLevel"),
			OutputFormat:   stringArg(args, "outputFormat"),
			IncludeSources: boolArg(args, "includeSources", false),
			MaxLength:      maxLength,
		},
		Attachments:   append(append(docs, data...), images...),
		ClientContext: clientContextArg(args),
	}
	if err := research.ValidateRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// toolResearch runs research synchronously (async=false) or submits a job
// (async defaults to true).
func (s *Surface) toolResearch(ctx context.Context, args Args) (any, error) {
	if boolArg(args, "async", true) {
		return s.toolSubmitResearch(ctx, args)
	}

	req, err := requestFromArgs(args)
	if err != nil {
		return nil, err
	}
	result, err := s.pipeline.Execute(ctx, *req, nil)
	if err != nil {
		return nil, err
	}
	return result.Report, nil
}

// toolSubmitResearch queues an asynchronous research job.
func (s *Surface) toolSubmitResearch(ctx context.Context, args Args) (any, error) {
	req, err := requestFromArgs(args)
	if err != nil {
		return nil, err
	}

	job, created, err := s.engine.Submit(ctx, JobTypeResearch, req, stringArg(args, "idempotencyKey"))
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"job_id":       job.ID,
		"status":       string(job.Status),
		"deduplicated": !created,
	}
	if s.cfg.PublicBaseURL != "" {
		result["sse_url"] = fmt.Sprintf("%s/api/v1/jobs/%s/events", s.cfg.PublicBaseURL, job.ID)
		result["ui_url"] = fmt.Sprintf("%s/jobs/%s", s.cfg.PublicBaseURL, job.ID)
	}
	return result, nil
}

// toolJobStatus reports a job in one of three formats: a one-line summary,
// the full job record, or a page of its event log.
func (s *Surface) toolJobStatus(ctx context.Context, args Args) (any, error) {
	jobID, err := requiredString(args, "job_id")
	if err != nil {
		return nil, err
	}

	format := stringArg(args, "format")
	switch format {
	case "", "summary", "full", "events":
	default:
		return nil, research.NewValidationError("format", "must be summary, full, or events")
	}

	if format == "events" {
		sinceID, err := int64Arg(args, "since_event_id", 0)
		if err != nil {
			return nil, err
		}
		maxEvents, err := intArg(args, "max_events", 100)
		if err != nil {
			return nil, err
		}
		return s.store.GetJobEvents(ctx, jobID, sinceID, maxEvents)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if format == "full" {
		return job, nil
	}
	summary := fmt.Sprintf("job %s [%s] %s %d%%", job.ID, job.Type, job.Status, job.Progress.Percent)
	if job.Progress.Message != "" {
		summary += " — " + job.Progress.Message
	}
	return summary, nil
}

// toolCancelJob flags the job for cancellation.
func (s *Surface) toolCancelJob(ctx context.Context, args Args) (any, error) {
	jobID, err := requiredString(args, "job_id")
	if err != nil {
		return nil, err
	}
	if err := s.engine.Cancel(ctx, jobID); err != nil {
		return nil, err
	}
	return map[string]any{"canceled": true}, nil
}
