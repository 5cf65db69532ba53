package approval

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ValueType marks a button value as an approval response.
	ValueType = "approval_response"

	StageName  = "Approval"
	ActionName = "AppApproval"

	ActionApprove = "approval_approve"
	ActionReject  = "approval_reject"
)

// Decision is the clicked button.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status is the outcome reported to the pipeline.
type Status string

const (
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Request is a manual approval notification from the pipeline.
type Request struct {
	Token              string    `json:"token"`
	Expires            string    `json:"expires,omitempty"`
	PipelineName       string    `json:"pipelineName"`
	StageName          string    `json:"stageName,omitempty"`
	ActionName         string    `json:"actionName,omitempty"`
	ApprovalReviewLink string    `json:"approvalReviewLink,omitempty"`
	ExternalEntityLink string    `json:"externalEntityLink,omitempty"`
	CustomData         StageInfo `json:"-"`
}

// StageInfo is the JSON document carried in the request's customData string.
type StageInfo struct {
	AppEnv          string `json:"appEnv"`
	SlackChannel    string `json:"slackChannel"`
	RequestMessage  string `json:"requestMessage,omitempty"`
	ResponseMessage string `json:"responseMessage,omitempty"`
	LambdaArn       string `json:"lambdaArn,omitempty"`
	SnsArn          string `json:"snsArn,omitempty"`
}

type wireRequest struct {
	Request
	CustomData *string `json:"customData"`
}

// ParseRequest decodes the notification's approval object and its customData.
func ParseRequest(raw json.RawMessage) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(raw, &w); err != nil {
		return Request{}, fmt.Errorf("decode approval request: %w", err)
	}
	req := w.Request
	if strings.TrimSpace(req.Token) == "" {
		return Request{}, fmt.Errorf("approval request has no token")
	}
	if w.CustomData == nil || strings.TrimSpace(*w.CustomData) == "" {
		return Request{}, fmt.Errorf("approval request for %s has no customData", req.PipelineName)
	}
	if err := json.Unmarshal([]byte(*w.CustomData), &req.CustomData); err != nil {
		return Request{}, fmt.Errorf("decode customData for %s: %w", req.PipelineName, err)
	}
	if strings.TrimSpace(req.CustomData.SlackChannel) == "" {
		return Request{}, fmt.Errorf("customData for %s has no slackChannel", req.PipelineName)
	}
	return req, nil
}

// ActionValue is the workflow state embedded in each button.
type ActionValue struct {
	Type            string   `json:"type"`
	Status          Decision `json:"status"`
	Token           string   `json:"token"`
	Region          string   `json:"region"`
	AppEnv          string   `json:"appEnv"`
	LambdaArn       string   `json:"lambdaArn,omitempty"`
	ResponseMessage string   `json:"responseMessage,omitempty"`
	PipelineName    string   `json:"pipelineName"`
	Sig             string   `json:"sig,omitempty"`
}

// ParseActionValue decodes a button value.
func ParseActionValue(value string) (ActionValue, error) {
	var v ActionValue
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return ActionValue{}, fmt.Errorf("decode action value: %w", err)
	}
	if v.Type != ValueType {
		return ActionValue{}, fmt.Errorf("unexpected action value type %q", v.Type)
	}
	return v, nil
}

// Encode serializes v for a button value.
func (v ActionValue) Encode() (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode action value: %w", err)
	}
	return string(data), nil
}

// ResultStatus maps the clicked decision to the pipeline status. Anything
// other than approve rejects.
func (v ActionValue) ResultStatus() Status {
	if v.Status == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// ResolvedRegion is the pipeline region, defaulting to us-east-1.
func (v ActionValue) ResolvedRegion() string {
	if v.Region == "" {
		return "us-east-1"
	}
	return v.Region
}

// IdempotencyKey identifies one resolution of one approval.
func (v ActionValue) IdempotencyKey() string {
	return fmt.Sprintf("approval:%s:%s:%s", v.Token, StageName, v.ResultStatus())
}
