// Package report runs the external report program and delivers what it
// prints to a conversation.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

// ImageCaption accompanies the report chart.
const ImageCaption = "📊 Resumen Gráfico"

// Request asks for a report to be generated for Target.
type Request struct {
	Target messaging.Address
	Kind   string
	// Zone is empty for the all-zones report.
	Zone string
}

// Delivery modes recorded on a Result.
const (
	ModeMessages = "json_messages"
	ModeFallback = "fallback_text"
)

// Result describes a finished, delivered report.
type Result struct {
	OK        bool
	RunID     string
	Mode      string
	Messages  []string
	ImagePath string
	Summary   json.RawMessage
	Report    string
	Delivered int
	Failed    int
}

// Sender is the part of the messaging router the pipeline delivers through.
type Sender interface {
	SendPhoto(ctx context.Context, addr messaging.Address, path, caption string) messaging.Result
	SendMany(ctx context.Context, addr messaging.Address, texts []string, opts messaging.ManyOptions) messaging.ManyResult
	SendChunked(ctx context.Context, addr messaging.Address, text string, maxLen int, delay time.Duration) messaging.ManyResult
}

// Journal records report runs. store.Store implements it.
type Journal interface {
	StartRun(ctx context.Context, r *store.ReportRun) error
	FinishRun(ctx context.Context, id, status, failure string) error
}

// Options configure delivery.
type Options struct {
	SendDelay     time.Duration
	ChunkMaxLen   int
	Marker        string
	DiagnosticMax int
}

// Pipeline runs reports and delivers them. Safe for concurrent use.
type Pipeline struct {
	exec     Executor
	sender   Sender
	journal  Journal
	opts     Options
	inFlight atomic.Int64
}

// NewPipeline creates a pipeline. journal may be nil.
func NewPipeline(exec Executor, sender Sender, journal Journal, opts Options) *Pipeline {
	if opts.ChunkMaxLen <= 0 {
		opts.ChunkMaxLen = 3500
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.DiagnosticMax <= 0 {
		opts.DiagnosticMax = DefaultDiagnosticMax
	}
	return &Pipeline{exec: exec, sender: sender, journal: journal, opts: opts}
}

// InFlight returns the number of reports currently running.
func (p *Pipeline) InFlight() int {
	return int(p.inFlight.Load())
}

// Run executes the report program and delivers its output to req.Target.
// The error, when not nil, is a *Failure. An unparsable_output failure still
// returns a Result because the raw output is delivered as plain text.
func (p *Pipeline) Run(ctx context.Context, req Request, timeout time.Duration) (*Result, error) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	runID := uuid.NewString()
	p.startRun(ctx, runID, req)
	L_info("report: started", "run", runID, "to", req.Target, "kind", req.Kind, "zone", req.Zone)

	res, err := p.run(ctx, runID, req, timeout)

	status, failure := store.RunSucceeded, ""
	if err != nil {
		status, failure = store.RunFailed, err.Error()
		L_warn("report: failed", "run", runID, "to", req.Target, "error", err)
	} else {
		L_info("report: delivered", "run", runID, "to", req.Target, "mode", res.Mode, "sent", res.Delivered, "failed", res.Failed)
	}
	p.finishRun(runID, status, failure)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, runID string, req Request, timeout time.Duration) (*Result, error) {
	out, err := p.exec.Execute(ctx, Invocation{Kind: req.Kind, Zone: req.Zone, Timeout: timeout})
	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			f = newFailure(SpawnFailed, err.Error(), p.opts.DiagnosticMax)
		}
		return nil, f
	}

	res := &Result{RunID: runID}
	stdout := string(out.Stdout)

	var payload *Payload
	if raw, ok := ExtractJSON(stdout, p.opts.Marker); ok {
		payload, err = ParsePayload(raw)
		if err != nil {
			L_debug("report: recovered JSON is not a usable payload", "run", runID, "error", err)
			payload = nil
		}
	}

	if payload == nil {
		// plain text programs still get their output through
		if strings.TrimSpace(stdout) != "" {
			p.deliverFallback(ctx, req.Target, stdout, res)
		}
		return res, newFailure(UnparsableOutput, strings.TrimSpace(stdout), p.opts.DiagnosticMax)
	}

	res.Summary = payload.Summary
	res.Report = payload.Report
	res.Messages = payload.Texts()

	if img := payload.ImagePath(); img != "" {
		p.deliverImage(ctx, req.Target, img, res)
	}

	if payload.OK && len(res.Messages) > 0 {
		res.Mode = ModeMessages
		sent := p.sender.SendMany(ctx, req.Target, res.Messages, messaging.ManyOptions{
			Delay:      p.opts.SendDelay,
			StopOnFail: true,
		})
		res.Delivered += sent.Sent
		res.Failed += sent.Failed
		res.OK = sent.OK
		return res, nil
	}

	text := payload.Report
	if text == "" {
		text = stdout
	}
	p.deliverFallback(ctx, req.Target, text, res)
	return res, nil
}

func (p *Pipeline) deliverImage(ctx context.Context, to messaging.Address, path string, res *Result) {
	if _, err := os.Stat(path); err != nil {
		L_warn("report: image not found, skipping", "path", path, "error", err)
		return
	}
	res.ImagePath = path
	if r := p.sender.SendPhoto(ctx, to, path, ImageCaption); r.OK {
		res.Delivered++
	} else {
		res.Failed++
		L_warn("report: image delivery failed", "path", path, "error", r.Diagnostic)
	}
}

func (p *Pipeline) deliverFallback(ctx context.Context, to messaging.Address, text string, res *Result) {
	res.Mode = ModeFallback
	sent := p.sender.SendChunked(ctx, to, text, p.opts.ChunkMaxLen, p.opts.SendDelay)
	res.Delivered += sent.Sent
	res.Failed += sent.Failed
	res.OK = sent.OK
}

func (p *Pipeline) startRun(ctx context.Context, id string, req Request) {
	if p.journal == nil {
		return
	}
	err := p.journal.StartRun(ctx, &store.ReportRun{
		ID:      id,
		Address: req.Target.Key(),
		Kind:    req.Kind,
		Zone:    req.Zone,
	})
	if err != nil {
		L_warn("report: failed to journal run start", "run", id, "error", err)
	}
}

func (p *Pipeline) finishRun(id, status, failure string) {
	if p.journal == nil {
		return
	}
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.journal.FinishRun(ctx, id, status, failure); err != nil {
		L_warn("report: failed to journal run end", "run", id, "error", err)
	}
}
