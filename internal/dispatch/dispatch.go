// Package dispatch turns one authenticated inbound delivery into exactly one
// handler invocation and one terminal response.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/approval"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/audit"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/chat"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/classify"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/cloud"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/command"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/jira"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/jobs"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/metrics"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/signing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/kfatkin/CodePipeline-Slack-Hooks/internal/dispatch")

// Surface names an inbound hook.
type Surface string

const (
	SurfaceEvent       Surface = "event"
	SurfaceInteractive Surface = "interactive"
	SurfaceMenus       Surface = "menus"
	SurfaceCommand     Surface = "command"
	SurfaceTrigger     Surface = "trigger"
	SurfaceDelegated   Surface = "delegated"
)

// Request is one inbound delivery. Body is the raw bytes the signature
// covers, already base64-decoded.
type Request struct {
	Surface   Surface
	Body      []byte
	Headers   http.Header
	RequestID string
}

// Config holds dispatch settings.
type Config struct {
	Designations       classify.Designations
	SigningSecretParam string

	// DefaultChannel receives command status reports that name no channel.
	DefaultChannel string
}

// Deps are the collaborators the handlers act through.
type Deps struct {
	Params        cloud.ParameterSource
	Verifier      *signing.Verifier
	Commands      *command.Resolver
	Approvals     *approval.Service
	Jobs          *jobs.Launcher
	Links         *jira.Linker
	Messenger     chat.Messenger
	Invoker       cloud.FunctionInvoker
	CommandStatus cloud.CommandStatusReader

	// Optional.
	Metrics *metrics.Recorder
	Audit   *audit.Writer
}

// Dispatcher routes deliveries to handlers.
type Dispatcher struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// New creates a dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{cfg: cfg, deps: deps, now: time.Now}
}

// result is a handler's terminal response plus what to record about it.
type result struct {
	resp    Response
	route   route.ID
	summary string
	err     error
}

func failed(err error, id route.ID) result {
	return result{resp: Fail(err, http.StatusBadGateway), route: id, err: err}
}

// Handle authenticates, classifies and acts on one delivery.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	return d.run(ctx, req.Surface, req.RequestID, func(ctx context.Context) result {
		switch req.Surface {
		case SurfaceEvent:
			return d.event(ctx, req)
		case SurfaceInteractive:
			return d.interactive(ctx, req)
		case SurfaceMenus:
			return d.menus(ctx, req)
		case SurfaceCommand:
			return d.command(ctx, req)
		case SurfaceTrigger:
			records, err := envelope.ParseTrigger(req.Body)
			if err != nil {
				return failed(hookerr.New(hookerr.KindMalformedPayload, "parse trigger", err), route.Unknown)
			}
			return d.trigger(ctx, records)
		default:
			err := hookerr.New(hookerr.KindUnknownRoute, "dispatch", fmt.Errorf("unknown surface %q", req.Surface))
			return result{resp: JSON(http.StatusNotFound, "Not found"), route: route.Unknown, err: err}
		}
	})
}

// HandleTrigger acts on notification records delivered outside HTTP.
func (d *Dispatcher) HandleTrigger(ctx context.Context, requestID string, records []envelope.TriggerRecord) Response {
	return d.run(ctx, SurfaceTrigger, requestID, func(ctx context.Context) result {
		return d.trigger(ctx, records)
	})
}

// HandleDelegated resolves an approval response forwarded by another
// gateway's function invocation. The invoker is trusted; no signature applies.
func (d *Dispatcher) HandleDelegated(ctx context.Context, requestID string, p *envelope.InteractionPayload) Response {
	return d.run(ctx, SurfaceDelegated, requestID, func(ctx context.Context) result {
		out, err := d.deps.Approvals.ResolveDelegated(ctx, p)
		if err != nil {
			return failed(err, route.CICDApprovalResponse)
		}
		return result{resp: OK("ok"), route: route.CICDApprovalResponse, summary: out.String()}
	})
}

func (d *Dispatcher) run(ctx context.Context, surface Surface, requestID string, fn func(context.Context) result) Response {
	ctx, span := tracer.Start(ctx, "dispatch."+string(surface))
	defer span.End()

	start := d.now()
	res := fn(ctx)
	elapsed := d.now().Sub(start)

	span.SetAttributes(
		attribute.String("slackhooks.request_id", requestID),
		attribute.String("slackhooks.route", string(res.route)),
		attribute.Int("http.response.status_code", res.resp.StatusCode),
	)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}

	outcome := metrics.OutcomeOK
	switch hookerr.KindOf(res.err) {
	case "":
		if res.err != nil {
			outcome = metrics.OutcomeError
		}
	case hookerr.KindAuthentication, hookerr.KindPermission:
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}

	logger := slog.With(
		"request_id", requestID,
		"surface", string(surface),
		"route", string(res.route),
		"status", res.resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	switch outcome {
	case metrics.OutcomeOK:
		logger.Info("delivery handled", "result", res.summary)
	case metrics.OutcomeRejected:
		logger.Warn("delivery rejected", "error", res.err)
	default:
		logger.Error("delivery failed", "error", res.err)
	}

	if _, err := d.deps.Metrics.RecordDispatch(string(res.route), elapsed, outcome, res.err); err != nil {
		slog.Warn("record dispatch metrics failed", "error", err)
	}
	ev := audit.Event{
		Time:      start.UTC(),
		Surface:   string(surface),
		RequestID: requestID,
		Route:     string(res.route),
		Status:    res.resp.StatusCode,
		Result:    res.summary,
	}
	if res.err != nil {
		ev.Error = res.err.Error()
	}
	if err := d.deps.Audit.Append(ev); err != nil {
		slog.Warn("append audit event failed", "error", err)
	}
	return res.resp
}

// authenticate checks the request signature against the signing secret,
// fetched fresh for every request.
func (d *Dispatcher) authenticate(ctx context.Context, req Request) error {
	secret, err := d.deps.Params.Parameter(ctx, d.cfg.SigningSecretParam)
	if err != nil {
		return hookerr.Downstreamf(err, "fetch signing secret")
	}
	if !d.deps.Verifier.Verify(secret, req.Body, req.Headers) {
		return hookerr.New(hookerr.KindAuthentication, "verify request signature", errors.New("invalid signature"))
	}
	return nil
}

func (d *Dispatcher) event(ctx context.Context, req Request) result {
	// Event hook failures reply 200 so the platform does not redeliver. Only a
	// bad signature is answered with an error status.
	eventFailure := func(err error, id route.ID) result {
		return result{resp: OK(errorBody{Error: err.Error()}), route: id, err: err}
	}

	if err := d.authenticate(ctx, req); err != nil {
		if errors.Is(err, hookerr.Authentication) {
			return failed(err, "")
		}
		return eventFailure(err, route.Unknown)
	}

	env, err := envelope.ParseChatEvent(req.Body)
	if err != nil {
		return eventFailure(hookerr.New(hookerr.KindMalformedPayload, "parse event", err), route.Unknown)
	}
	if env.Type != "url_verification" && env.Event == nil {
		return eventFailure(hookerr.New(hookerr.KindMalformedPayload, "parse event", errors.New("body carries no event")), route.Unknown)
	}

	id := classify.ClassifyEnvelope(env, d.cfg.Designations)
	ev := env.Event
	switch id {
	case route.SlackURLValidation:
		if env.Type == "url_verification" {
			return result{resp: OK(map[string]string{"challenge": env.Challenge}), route: id}
		}
		return result{resp: OK(env.Challenge), route: id}

	case route.MessageWithJiraTicket:
		links, err := d.deps.Links.Link(ctx, ev.Channel, ev.Text)
		if err != nil {
			return eventFailure(hookerr.Downstreamf(err, "link tickets"), id)
		}
		return result{resp: OK(links), route: id, summary: strings.Join(jira.GetTickets(ev.Text), ",")}

	case route.PlaygroundBusyboxJob, route.NetSuiteJob:
		res, err := d.deps.Jobs.Launch(ctx, id, ev.Channel)
		if err != nil {
			return eventFailure(err, id)
		}
		return result{resp: OK("ok"), route: id, summary: res.JobID}

	default:
		return result{resp: OK("ok"), route: id}
	}
}

func (d *Dispatcher) interactive(ctx context.Context, req Request) result {
	if err := d.authenticate(ctx, req); err != nil {
		return failed(err, "")
	}
	payload, err := envelope.PayloadField(req.Body)
	if err != nil {
		return failed(hookerr.New(hookerr.KindMalformedPayload, "parse interactive form", err), route.Unknown)
	}

	id := classify.ClassifyInteraction(payload)
	if id != route.CICDApprovalResponse {
		return result{resp: Text("done"), route: id}
	}

	p, err := envelope.ParseInteraction(payload)
	if err != nil {
		return failed(hookerr.New(hookerr.KindMalformedPayload, "parse interaction", err), id)
	}
	out, err := d.deps.Approvals.Respond(ctx, payload, p)
	if err != nil {
		return failed(err, id)
	}
	if out.Delegated && len(out.FunctionResponse) > 0 {
		return result{resp: OK(out.FunctionResponse), route: id, summary: out.String()}
	}
	return result{resp: OK("ok"), route: id, summary: out.String()}
}

func (d *Dispatcher) menus(ctx context.Context, req Request) result {
	if err := d.authenticate(ctx, req); err != nil {
		return failed(err, "")
	}
	slog.Debug("menu request", "body", string(req.Body))
	return result{resp: Text("done"), route: route.Unknown}
}

func (d *Dispatcher) command(ctx context.Context, req Request) result {
	if err := d.authenticate(ctx, req); err != nil {
		return failed(err, "")
	}
	form, err := envelope.ParseCommandForm(req.Body)
	if err != nil {
		return failed(hookerr.New(hookerr.KindMalformedPayload, "parse command", err), route.Unknown)
	}

	r, err := d.deps.Commands.Resolve(ctx, form)
	if err != nil {
		return failed(err, route.Unknown)
	}
	if r.IsUnknown() {
		text := fmt.Sprintf("Unknown request: `%s`", strings.TrimSpace(form.Text))
		return result{resp: Text(text), route: route.Unknown, summary: command.LookupKey(form.Text)}
	}

	if err := d.invokeRoute(ctx, r, form); err != nil {
		return failed(err, route.Command)
	}
	message := r.ResponseMessage
	if message == "" {
		message = "Success"
	}
	return result{resp: Text(message), route: route.Command, summary: r.Key}
}

// invokeRoute queues the route's function with its metadata plus the command
// form under slackInfo.
func (d *Dispatcher) invokeRoute(ctx context.Context, r route.Route, form *envelope.CommandForm) error {
	if r.LambdaTarget == "" {
		return hookerr.New(hookerr.KindDelegation, "invoke route "+r.Key, errors.New("route has no lambda target"))
	}
	input := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		input[k] = v
	}
	input["slackInfo"] = form
	payload, err := json.Marshal(input)
	if err != nil {
		return hookerr.New(hookerr.KindMalformedPayload, "encode route payload", err)
	}
	if err := d.deps.Invoker.InvokeAsync(ctx, r.LambdaTarget, payload); err != nil {
		return hookerr.New(hookerr.KindDelegation, "invoke "+r.LambdaTarget, err)
	}
	return nil
}

func (d *Dispatcher) trigger(ctx context.Context, records []envelope.TriggerRecord) result {
	msg := classify.DecodeTrigger(records)
	switch msg.Kind {
	case route.CICDApprovalRequest:
		posted, err := d.deps.Approvals.Present(ctx, msg.Approval)
		if err != nil {
			return failed(err, msg.Kind)
		}
		return result{resp: OK(posted), route: msg.Kind, summary: posted.Channel + "/" + posted.TS}

	case route.SlackSendMessageRequest:
		if _, err := d.deps.Messenger.Post(ctx, chat.Message{Channel: msg.Channel, Text: msg.Text()}); err != nil {
			return failed(hookerr.Downstreamf(err, "send message to %s", msg.Channel), msg.Kind)
		}
		return result{resp: OK("ok"), route: msg.Kind, summary: msg.Channel}

	case route.SSMSendCommandStatusRequest:
		return d.commandStatus(ctx, msg)

	default:
		err := hookerr.New(hookerr.KindUnknownRoute, "dispatch trigger", errors.New("no trigger rule matched"))
		return result{resp: JSON(http.StatusNotFound, "Not found"), route: route.Unknown, err: err}
	}
}

func (d *Dispatcher) commandStatus(ctx context.Context, msg envelope.TriggerMessage) result {
	channel := msg.Channel
	if channel == "" {
		channel = d.cfg.DefaultChannel
	}
	if channel == "" {
		return failed(hookerr.New(hookerr.KindMalformedPayload, "report command status", errors.New("no channel")), msg.Kind)
	}

	status, err := d.deps.CommandStatus.CommandStatus(ctx, msg.CommandID)
	if err != nil {
		return failed(hookerr.Downstreamf(err, "read command %s", msg.CommandID), msg.Kind)
	}
	if _, err := d.deps.Messenger.Post(ctx, chat.Message{Channel: channel, Text: CommandStatusText(status)}); err != nil {
		return failed(hookerr.Downstreamf(err, "post command status to %s", channel), msg.Kind)
	}
	return result{resp: OK("ok"), route: msg.Kind, summary: status.Status}
}

// CommandStatusText renders a Run Command status report.
func CommandStatusText(s cloud.CommandStatus) string {
	if s.Comment == "" {
		return fmt.Sprintf("SSM command `%s` finished with status *%s*", s.ID, s.Status)
	}
	return fmt.Sprintf("SSM command `%s` (%s) finished with status *%s*", s.ID, s.Comment, s.Status)
}
