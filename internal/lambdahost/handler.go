// Package lambdahost adapts raw AWS Lambda invocations to the dispatcher.
package lambdahost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/dispatch"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
)

// Dispatcher is the subset of *dispatch.Dispatcher the host drives.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Response
	HandleTrigger(ctx context.Context, requestID string, records []envelope.TriggerRecord) dispatch.Response
	HandleDelegated(ctx context.Context, requestID string, p *envelope.InteractionPayload) dispatch.Response
}

// Handler implements lambda.Handler over the three invocation shapes the
// function receives: API Gateway proxy requests, SNS notifications, and
// block_actions payloads forwarded by another gateway.
type Handler struct {
	d Dispatcher
}

func New(d Dispatcher) *Handler {
	return &Handler{d: d}
}

// invocationShape holds just enough of an invocation to tell the shapes apart.
type invocationShape struct {
	Records    json.RawMessage `json:"Records"`
	HTTPMethod string          `json:"httpMethod"`
	Type       string          `json:"type"`
}

// Invoke decodes one invocation and returns an API Gateway proxy response.
// Only undecodable payloads surface as invocation errors.
func (h *Handler) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var p invocationShape
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode invocation: %w", err)
	}

	var resp dispatch.Response
	switch {
	case len(p.Records) > 0:
		var ev events.SNSEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode notification event: %w", err)
		}
		resp = h.d.HandleTrigger(ctx, requestID(ctx, ""), ev.Records)
	case p.HTTPMethod != "":
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode proxy request: %w", err)
		}
		resp = h.proxy(ctx, req)
	case p.Type == "block_actions":
		interaction, err := envelope.ParseInteraction(string(payload))
		if err != nil {
			return nil, err
		}
		resp = h.d.HandleDelegated(ctx, requestID(ctx, ""), interaction)
	default:
		resp = dispatch.JSON(http.StatusNotFound, "Not found")
	}

	return json.Marshal(events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	})
}

func (h *Handler) proxy(ctx context.Context, req events.APIGatewayProxyRequest) dispatch.Response {
	surface, ok := SurfaceForPath(req.Path)
	if !ok {
		return dispatch.JSON(http.StatusNotFound, "Not found")
	}
	body, err := envelope.DecodeBody(req.Body, req.IsBase64Encoded)
	if err != nil {
		return dispatch.Fail(hookerr.New(hookerr.KindMalformedPayload, "decode body", err), http.StatusBadRequest)
	}
	return h.d.Handle(ctx, dispatch.Request{
		Surface:   surface,
		Body:      body,
		Headers:   proxyHeaders(req),
		RequestID: requestID(ctx, req.RequestContext.RequestID),
	})
}

// SurfaceForPath maps a proxied resource path to its hook surface by the last
// path segment. Both /operations/hooks/slack/... and /hooks/chat/... layouts
// are accepted.
func SurfaceForPath(p string) (dispatch.Surface, bool) {
	switch path.Base(strings.TrimRight(p, "/")) {
	case "slack", "chat":
		return dispatch.SurfaceEvent, true
	case "interactive":
		return dispatch.SurfaceInteractive, true
	case "menus":
		return dispatch.SurfaceMenus, true
	case "command":
		return dispatch.SurfaceCommand, true
	case "trigger":
		return dispatch.SurfaceTrigger, true
	}
	return "", false
}

// proxyHeaders canonicalizes the proxy's header maps, which arrive with
// whatever casing the client or the proxy chose.
func proxyHeaders(req events.APIGatewayProxyRequest) http.Header {
	h := http.Header{}
	for k, vs := range req.MultiValueHeaders {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for k, v := range req.Headers {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
	return h
}

func requestID(ctx context.Context, fallback string) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	if fallback != "" {
		return fallback
	}
	return uuid.NewString()
}
