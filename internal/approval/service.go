// Package approval implements the pipeline manual-approval round trip: a
// prompt with Approve/Reject buttons whose values carry the whole workflow
// state, and the resolution reported back to the pipeline.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/chat"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/cloud"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
)

const (
	defaultTTL = 15 * time.Minute

	// FallbackText is the notification text of prompts and their updates.
	FallbackText = "CiCd Alert"
)

// KeySource resolves the action value signing key.
type KeySource func(ctx context.Context) ([]byte, error)

// Deps are the collaborators of a Service.
type Deps struct {
	Messenger chat.Messenger
	Pipeline  cloud.PipelineApprover
	Invoker   cloud.FunctionInvoker
	Claims    storage.IdempotencyStore

	// SigningKey signs and verifies action values. Nil disables signing.
	SigningKey KeySource
}

// Service orchestrates approval prompts and their resolution.
type Service struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time
}

// NewService creates a service. ttl bounds how long a resolution is
// remembered; zero uses 15 minutes.
func NewService(deps Deps, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{deps: deps, ttl: ttl, now: time.Now}
}

// Outcome describes how a response was handled.
type Outcome struct {
	Status    Status `json:"status,omitempty"`
	Delegated bool   `json:"delegated,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`

	// FunctionResponse is the delegate's reply when Delegated.
	FunctionResponse json.RawMessage `json:"functionResponse,omitempty"`
}

func (s *Service) signer(ctx context.Context) (*Signer, error) {
	if s.deps.SigningKey == nil {
		return nil, nil
	}
	key, err := s.deps.SigningKey(ctx)
	if err != nil {
		return nil, hookerr.Downstreamf(err, "resolve approval signing key")
	}
	if len(key) == 0 {
		return nil, hookerr.New(hookerr.KindDownstream, "resolve approval signing key", errors.New("empty key"))
	}
	return NewSigner(key), nil
}

// Present posts the approval prompt for a pipeline notification's approval
// object. Redelivered notifications post again.
func (s *Service) Present(ctx context.Context, raw json.RawMessage) (chat.PostResult, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return chat.PostResult{}, hookerr.New(hookerr.KindMalformedPayload, "present approval", err)
	}

	signer, err := s.signer(ctx)
	if err != nil {
		return chat.PostResult{}, err
	}

	base := ActionValue{
		Type:            ValueType,
		Token:           req.Token,
		Region:          cloud.RegionFromARN(req.CustomData.SnsArn),
		AppEnv:          req.CustomData.AppEnv,
		LambdaArn:       req.CustomData.LambdaArn,
		ResponseMessage: req.CustomData.ResponseMessage,
		PipelineName:    req.PipelineName,
	}
	values := make([]string, 0, 2)
	for _, decision := range []Decision{DecisionApprove, DecisionReject} {
		v := base
		v.Status = decision
		if signer != nil {
			if v, err = signer.Sign(v); err != nil {
				return chat.PostResult{}, err
			}
		}
		encoded, err := v.Encode()
		if err != nil {
			return chat.PostResult{}, err
		}
		values = append(values, encoded)
	}

	header := HeaderText(req, s.now())
	res, err := s.deps.Messenger.Post(ctx, chat.Message{
		Channel: req.CustomData.SlackChannel,
		Text:    FallbackText,
		Blocks:  PromptBlocks(header, values[0], values[1]),
	})
	if err != nil {
		return chat.PostResult{}, hookerr.Downstreamf(err, "post approval prompt for %s", req.PipelineName)
	}
	slog.Info("approval prompt posted",
		"pipeline", req.PipelineName,
		"channel", res.Channel,
		"ts", res.TS,
	)
	return res, nil
}

func clickedValue(p *envelope.InteractionPayload) (ActionValue, error) {
	action, ok := p.FirstAction()
	if !ok {
		return ActionValue{}, hookerr.New(hookerr.KindMalformedPayload, "approval response", errors.New("no actions"))
	}
	v, err := ParseActionValue(action.Value)
	if err != nil {
		return ActionValue{}, hookerr.New(hookerr.KindMalformedPayload, "approval response", err)
	}
	return v, nil
}

// Respond handles a button click. The value's signature is checked first.
// When the value names a lambdaArn the raw payload is forwarded there and
// nothing else happens locally.
func (s *Service) Respond(ctx context.Context, payload string, p *envelope.InteractionPayload) (Outcome, error) {
	v, err := clickedValue(p)
	if err != nil {
		return Outcome{}, err
	}

	signer, err := s.signer(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if signer != nil && !signer.Verify(v) {
		return Outcome{}, hookerr.New(hookerr.KindPermission, "verify approval action", errors.New("action value signature mismatch"))
	}

	if v.LambdaArn != "" {
		out, err := s.deps.Invoker.Invoke(ctx, v.LambdaArn, []byte(payload))
		if err != nil {
			return Outcome{}, hookerr.New(hookerr.KindDelegation, "invoke "+v.LambdaArn, err)
		}
		slog.Info("approval response delegated", "lambda_arn", v.LambdaArn, "pipeline", v.PipelineName)
		resp := json.RawMessage(out)
		if !json.Valid(out) {
			resp = nil
		}
		return Outcome{Status: v.ResultStatus(), Delegated: true, FunctionResponse: resp}, nil
	}
	return s.resolve(ctx, p, v)
}

// ResolveDelegated resolves a response forwarded by another gateway. The
// caller is trusted, so the signature is not checked and lambdaArn is ignored.
func (s *Service) ResolveDelegated(ctx context.Context, p *envelope.InteractionPayload) (Outcome, error) {
	v, err := clickedValue(p)
	if err != nil {
		return Outcome{}, err
	}
	return s.resolve(ctx, p, v)
}

// resolve claims the pipeline call and the message update separately, so a
// retry after a failed update still rewrites the prompt without resolving the
// pipeline a second time.
func (s *Service) resolve(ctx context.Context, p *envelope.InteractionPayload, v ActionValue) (Outcome, error) {
	status := v.ResultStatus()
	key := v.IdempotencyKey()
	now := s.now()
	username := p.User.Username
	if username == "" {
		username = p.User.Name
	}

	resolved, err := s.claim(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if resolved {
		err := s.deps.Pipeline.PutApprovalResult(ctx, v.ResolvedRegion(), cloud.ApprovalResult{
			PipelineName: v.PipelineName,
			StageName:    StageName,
			ActionName:   ActionName,
			Token:        v.Token,
			Status:       string(status),
			Summary:      SummaryText(v, username, now),
		})
		if err != nil {
			s.release(ctx, key)
			return Outcome{}, hookerr.Downstreamf(err, "resolve approval for %s", v.PipelineName)
		}
	}

	messageKey := key + ":message"
	updated, err := s.claim(ctx, messageKey)
	if err != nil {
		return Outcome{}, err
	}
	if !resolved && !updated {
		slog.Info("approval response already resolved", "pipeline", v.PipelineName, "status", status)
		return Outcome{Status: status, Duplicate: true}, nil
	}
	if updated {
		blocks, err := ResolvedBlocks(p.Message.Blocks, ResponseText(v, p.User.ID, username, now))
		if err != nil {
			s.release(ctx, messageKey)
			return Outcome{}, hookerr.New(hookerr.KindMalformedPayload, "rebuild approval message", err)
		}
		if err := s.deps.Messenger.Update(ctx, chat.Message{
			Channel: p.Channel.ID,
			TS:      p.Message.TS,
			Text:    FallbackText,
			Blocks:  blocks,
		}); err != nil {
			s.release(ctx, messageKey)
			return Outcome{}, hookerr.Downstreamf(err, "update approval message")
		}
	}

	slog.Info("approval resolved",
		"pipeline", v.PipelineName,
		"status", status,
		"user", username,
		"pipeline_call", resolved,
	)
	return Outcome{Status: status}, nil
}

// claim reports whether this call owns key. Without a claim store every call
// owns it.
func (s *Service) claim(ctx context.Context, key string) (bool, error) {
	if s.deps.Claims == nil {
		return true, nil
	}
	claimed, err := s.deps.Claims.Claim(ctx, key, s.ttl)
	if err != nil {
		return false, hookerr.Downstreamf(err, "claim %s", key)
	}
	return claimed, nil
}

func (s *Service) release(ctx context.Context, key string) {
	if s.deps.Claims == nil {
		return
	}
	if err := s.deps.Claims.Release(ctx, key); err != nil {
		slog.Warn("release approval claim failed", "key", key, "error", err)
	}
}

// String implements fmt.Stringer for log lines.
func (o Outcome) String() string {
	switch {
	case o.Duplicate:
		return fmt.Sprintf("%s (duplicate)", o.Status)
	case o.Delegated:
		return fmt.Sprintf("%s (delegated)", o.Status)
	default:
		return string(o.Status)
	}
}
