package approval

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/chat"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/cloud"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage/memory"
)

type pipelineCall struct {
	region string
	result cloud.ApprovalResult
}

type fakePipeline struct {
	calls []pipelineCall
	err   error
}

func (f *fakePipeline) PutApprovalResult(ctx context.Context, region string, result cloud.ApprovalResult) error {
	f.calls = append(f.calls, pipelineCall{region: region, result: result})
	return f.err
}

type fakeInvoker struct {
	arn     string
	payload []byte
	out     []byte
	err     error
	calls   int
}

func (f *fakeInvoker) Invoke(ctx context.Context, arn string, payload []byte) ([]byte, error) {
	f.calls++
	f.arn = arn
	f.payload = payload
	return f.out, f.err
}

func (f *fakeInvoker) InvokeAsync(ctx context.Context, name string, payload []byte) error {
	return errors.New("not used")
}

type harness struct {
	svc      *Service
	rec      *chat.Recorder
	pipeline *fakePipeline
	invoker  *fakeInvoker
}

var fixedNow = time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		rec:      &chat.Recorder{},
		pipeline: &fakePipeline{},
		invoker:  &fakeInvoker{out: []byte(`{"text":"delegated"}`)},
	}
	h.svc = NewService(Deps{
		Messenger:  h.rec,
		Pipeline:   h.pipeline,
		Invoker:    h.invoker,
		Claims:     memory.New(),
		SigningKey: func(ctx context.Context) ([]byte, error) { return []byte("approval-key"), nil },
	}, 0)
	h.svc.now = func() time.Time { return fixedNow }
	return h
}

func approvalMessage(t *testing.T, stage map[string]string) json.RawMessage {
	t.Helper()
	custom, err := json.Marshal(stage)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(map[string]any{
		"token":              "tok-123",
		"pipelineName":       "acme-prod-web",
		"stageName":          "Approval",
		"actionName":         "AppApproval",
		"approvalReviewLink": "https://console.aws.amazon.com/codepipeline",
		"customData":         string(custom),
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func defaultStage() map[string]string {
	return map[string]string{
		"appEnv":       "prod",
		"slackChannel": "C-DEPLOYS",
		"snsArn":       "arn:aws:sns:us-west-2:123456789012:approvals",
	}
}

// click builds the interaction payload produced by pressing button index i
// of the most recent prompt.
func click(t *testing.T, h *harness, i int, user envelope.User) (string, *envelope.InteractionPayload) {
	t.Helper()
	if len(h.rec.Posts) == 0 {
		t.Fatal("no prompt posted")
	}
	posted := h.rec.Posts[len(h.rec.Posts)-1]
	actions, ok := posted.Blocks[3].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("expected actions block at index 3, got %T", posted.Blocks[3])
	}
	button := actions.Elements.ElementSet[i].(*slack.ButtonBlockElement)

	var raws []json.RawMessage
	for _, b := range posted.Blocks {
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		raws = append(raws, data)
	}
	p := &envelope.InteractionPayload{
		Type:    "block_actions",
		Actions: []envelope.Action{{ActionID: button.ActionID, Value: button.Value}},
		Channel: envelope.Channel{ID: posted.Channel},
		User:    user,
		Message: envelope.Message{TS: "1700000000.000100", Blocks: raws},
	}
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return string(payload), p
}

var sam = envelope.User{ID: "U7", Username: "sam"}

func TestPresentPostsFourBlockPrompt(t *testing.T) {
	h := newHarness()
	res, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage()))
	if err != nil {
		t.Fatalf("Present error: %v", err)
	}
	if res.Channel != "C-DEPLOYS" {
		t.Fatalf("unexpected post result %+v", res)
	}
	posted := h.rec.Posts[0]
	if posted.Text != FallbackText || len(posted.Blocks) != 4 {
		t.Fatalf("unexpected prompt %+v", posted)
	}
	header := posted.Blocks[1].(*slack.SectionBlock)
	if header.Text.Text != "Approve the latest changes for acme-prod-web" {
		t.Fatalf("unexpected header %q", header.Text.Text)
	}

	actions := posted.Blocks[3].(*slack.ActionBlock)
	approve := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	reject := actions.Elements.ElementSet[1].(*slack.ButtonBlockElement)
	if approve.ActionID != ActionApprove || reject.ActionID != ActionReject {
		t.Fatalf("unexpected action ids %q %q", approve.ActionID, reject.ActionID)
	}

	v, err := ParseActionValue(approve.Value)
	if err != nil {
		t.Fatalf("approve value does not decode: %v", err)
	}
	if v.Status != DecisionApprove || v.Token != "tok-123" || v.Region != "us-west-2" || v.PipelineName != "acme-prod-web" || v.AppEnv != "prod" {
		t.Fatalf("unexpected approve value %+v", v)
	}
	if v.Sig == "" {
		t.Fatal("expected signed value")
	}
	rv, _ := ParseActionValue(reject.Value)
	if rv.Status != DecisionReject || rv.Token != "tok-123" {
		t.Fatalf("unexpected reject value %+v", rv)
	}
}

func TestPresentWithoutSnsArnHasEmptyRegion(t *testing.T) {
	h := newHarness()
	stage := defaultStage()
	delete(stage, "snsArn")
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, stage)); err != nil {
		t.Fatalf("Present error: %v", err)
	}
	_, p := click(t, h, 0, sam)
	v, _ := ParseActionValue(p.Actions[0].Value)
	if v.Region != "" {
		t.Fatalf("expected empty region, got %q", v.Region)
	}
}

func TestPresentMalformedRequest(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Present(context.Background(), json.RawMessage(`{"token":"t","pipelineName":"p"}`))
	if !errors.Is(err, hookerr.MalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
	if h.rec.PostCount() != 0 {
		t.Fatal("expected no prompt")
	}
}

func TestDuplicateTriggerPostsTwoPrompts(t *testing.T) {
	h := newHarness()
	raw := approvalMessage(t, defaultStage())
	for i := 0; i < 2; i++ {
		if _, err := h.svc.Present(context.Background(), raw); err != nil {
			t.Fatalf("Present error: %v", err)
		}
	}
	if h.rec.PostCount() != 2 {
		t.Fatalf("expected redelivery to post twice, got %d", h.rec.PostCount())
	}
}

func TestApproveRoundTrip(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage())); err != nil {
		t.Fatalf("Present error: %v", err)
	}
	payload, p := click(t, h, 0, sam)

	out, err := h.svc.Respond(context.Background(), payload, p)
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if out.Status != StatusApproved || out.Duplicate || out.Delegated {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if len(h.pipeline.calls) != 1 {
		t.Fatalf("expected one pipeline call, got %d", len(h.pipeline.calls))
	}
	call := h.pipeline.calls[0]
	if call.region != "us-west-2" {
		t.Fatalf("expected us-west-2, got %s", call.region)
	}
	want := cloud.ApprovalResult{
		PipelineName: "acme-prod-web",
		StageName:    "Approval",
		ActionName:   "AppApproval",
		Token:        "tok-123",
		Status:       "Approved",
		Summary:      "Approved by @sam",
	}
	if call.result != want {
		t.Fatalf("unexpected result %+v", call.result)
	}

	if len(h.rec.Updates) != 1 {
		t.Fatalf("expected one message update, got %d", len(h.rec.Updates))
	}
	update := h.rec.Updates[0]
	if update.Channel != "C-DEPLOYS" || update.TS != "1700000000.000100" || update.Text != FallbackText {
		t.Fatalf("unexpected update %+v", update)
	}
	if len(update.Blocks) != 4 {
		t.Fatalf("expected four blocks, got %d", len(update.Blocks))
	}
	section, ok := update.Blocks[3].(*slack.SectionBlock)
	if !ok || section.Text.Type != slack.MarkdownType || section.Text.Text != "Approved by <@U7>" {
		t.Fatalf("unexpected replacement block %#v", update.Blocks[3])
	}
	if update.Blocks[1].BlockType() != slack.MBTSection {
		t.Fatalf("expected header block to be preserved, got %s", update.Blocks[1].BlockType())
	}
}

func TestRejectUsesResponseTemplate(t *testing.T) {
	h := newHarness()
	stage := defaultStage()
	stage["responseMessage"] = "{ActionStatus} by {ActingUser} in {AppEnv}"
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, stage)); err != nil {
		t.Fatalf("Present error: %v", err)
	}
	payload, p := click(t, h, 1, sam)
	out, err := h.svc.Respond(context.Background(), payload, p)
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if out.Status != StatusRejected {
		t.Fatalf("expected Rejected, got %s", out.Status)
	}
	if got := h.pipeline.calls[0].result.Summary; got != "Rejected by sam in prod" {
		t.Fatalf("unexpected summary %q", got)
	}
	section := h.rec.Updates[0].Blocks[3].(*slack.SectionBlock)
	if section.Text.Text != "Rejected by sam in prod" {
		t.Fatalf("unexpected response text %q", section.Text.Text)
	}
}

func TestDuplicateResponseResolvesOnce(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage())); err != nil {
		t.Fatal(err)
	}
	payload, p := click(t, h, 0, sam)

	if _, err := h.svc.Respond(context.Background(), payload, p); err != nil {
		t.Fatalf("first Respond error: %v", err)
	}
	out, err := h.svc.Respond(context.Background(), payload, p)
	if err != nil {
		t.Fatalf("second Respond error: %v", err)
	}
	if !out.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", out)
	}
	if len(h.pipeline.calls) != 1 || len(h.rec.Updates) != 1 {
		t.Fatalf("expected one pipeline call and one update, got %d and %d", len(h.pipeline.calls), len(h.rec.Updates))
	}
}

func TestPipelineFailureReleasesClaim(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage())); err != nil {
		t.Fatal(err)
	}
	payload, p := click(t, h, 0, sam)

	h.pipeline.err = errors.New("ApprovalAlreadyCompletedException")
	_, err := h.svc.Respond(context.Background(), payload, p)
	if !errors.Is(err, hookerr.Downstream) {
		t.Fatalf("expected downstream error, got %v", err)
	}
	if len(h.rec.Updates) != 0 {
		t.Fatal("expected no update after pipeline failure")
	}

	h.pipeline.err = nil
	out, err := h.svc.Respond(context.Background(), payload, p)
	if err != nil || out.Duplicate {
		t.Fatalf("expected retry to resolve, got %+v %v", out, err)
	}
	if len(h.pipeline.calls) != 2 {
		t.Fatalf("expected two pipeline calls, got %d", len(h.pipeline.calls))
	}
}

func TestUpdateFailureRetryRewritesMessageOnce(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage())); err != nil {
		t.Fatal(err)
	}
	payload, p := click(t, h, 0, sam)

	h.rec.UpdateErr = errors.New("slack down")
	if _, err := h.svc.Respond(context.Background(), payload, p); !errors.Is(err, hookerr.Downstream) {
		t.Fatalf("expected downstream error, got %v", err)
	}
	if len(h.pipeline.calls) != 1 || len(h.rec.Updates) != 0 {
		t.Fatalf("expected pipeline resolved and no update, got %d calls %d updates", len(h.pipeline.calls), len(h.rec.Updates))
	}

	h.rec.UpdateErr = nil
	out, err := h.svc.Respond(context.Background(), payload, p)
	if err != nil || out.Duplicate {
		t.Fatalf("expected retry to rewrite the message, got %+v %v", out, err)
	}
	if len(h.pipeline.calls) != 1 || len(h.rec.Updates) != 1 {
		t.Fatalf("expected one pipeline call and one update, got %d and %d", len(h.pipeline.calls), len(h.rec.Updates))
	}

	out, err = h.svc.Respond(context.Background(), payload, p)
	if err != nil || !out.Duplicate {
		t.Fatalf("expected third click to be a duplicate, got %+v %v", out, err)
	}
	if len(h.rec.Updates) != 1 {
		t.Fatalf("expected no further updates, got %d", len(h.rec.Updates))
	}
}

func TestForgedValueIsRejected(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage())); err != nil {
		t.Fatal(err)
	}
	_, p := click(t, h, 1, sam)

	v, _ := ParseActionValue(p.Actions[0].Value)
	v.Status = DecisionApprove
	forged, _ := v.Encode()
	p.Actions[0].Value = forged

	_, err := h.svc.Respond(context.Background(), "{}", p)
	if !errors.Is(err, hookerr.Permission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if hookerr.StatusCode(err, 0) != 403 {
		t.Fatalf("expected 403, got %d", hookerr.StatusCode(err, 0))
	}
	if len(h.pipeline.calls) != 0 {
		t.Fatal("expected no pipeline call for forged value")
	}
}

func TestDelegatesToLambda(t *testing.T) {
	h := newHarness()
	stage := defaultStage()
	stage["lambdaArn"] = "arn:aws:lambda:eu-west-1:123456789012:function:other-account-approver"
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, stage)); err != nil {
		t.Fatal(err)
	}
	payload, p := click(t, h, 0, sam)

	out, err := h.svc.Respond(context.Background(), payload, p)
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if !out.Delegated || string(out.FunctionResponse) != `{"text":"delegated"}` {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if h.invoker.arn != stage["lambdaArn"] || string(h.invoker.payload) != payload {
		t.Fatalf("expected raw payload forwarded verbatim, got arn=%s payload=%s", h.invoker.arn, h.invoker.payload)
	}
	if len(h.pipeline.calls) != 0 || len(h.rec.Updates) != 0 {
		t.Fatal("expected no local resolution when delegated")
	}
}

func TestDelegationFailure(t *testing.T) {
	h := newHarness()
	h.invoker.err = errors.New("AccessDeniedException")
	stage := defaultStage()
	stage["lambdaArn"] = "arn:aws:lambda:eu-west-1:123456789012:function:f"
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, stage)); err != nil {
		t.Fatal(err)
	}
	payload, p := click(t, h, 0, sam)
	_, err := h.svc.Respond(context.Background(), payload, p)
	if !errors.Is(err, hookerr.Delegation) || !strings.Contains(err.Error(), "AccessDeniedException") {
		t.Fatalf("expected delegation error, got %v", err)
	}
}

func TestResolveDelegatedSkipsSignatureAndForwarding(t *testing.T) {
	h := newHarness()
	v := ActionValue{
		Type:         ValueType,
		Status:       DecisionApprove,
		Token:        "tok-9",
		Region:       "eu-west-1",
		LambdaArn:    "arn:aws:lambda:eu-west-1:123456789012:function:me",
		PipelineName: "acme-prod-api",
	}
	value, _ := v.Encode()
	p := &envelope.InteractionPayload{
		Type:    "block_actions",
		Actions: []envelope.Action{{Value: value}},
		Channel: envelope.Channel{ID: "C1"},
		User:    sam,
		Message: envelope.Message{TS: "1.1", Blocks: []json.RawMessage{json.RawMessage(`{"type":"divider"}`)}},
	}

	out, err := h.svc.ResolveDelegated(context.Background(), p)
	if err != nil {
		t.Fatalf("ResolveDelegated error: %v", err)
	}
	if out.Status != StatusApproved || h.invoker.calls != 0 {
		t.Fatalf("expected local resolution, got %+v invoker calls=%d", out, h.invoker.calls)
	}
	if len(h.pipeline.calls) != 1 || h.pipeline.calls[0].region != "eu-west-1" {
		t.Fatalf("unexpected pipeline calls %+v", h.pipeline.calls)
	}
	if got := len(h.rec.Updates[0].Blocks); got != 2 {
		t.Fatalf("expected response section appended to short message, got %d blocks", got)
	}
}

func TestRespondWithoutActions(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Respond(context.Background(), "{}", &envelope.InteractionPayload{Type: "block_actions"})
	if !errors.Is(err, hookerr.MalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
}

func TestUnsignedModeAcceptsPlainValues(t *testing.T) {
	h := newHarness()
	h.svc.deps.SigningKey = nil
	if _, err := h.svc.Present(context.Background(), approvalMessage(t, defaultStage())); err != nil {
		t.Fatal(err)
	}
	payload, p := click(t, h, 0, sam)
	v, _ := ParseActionValue(p.Actions[0].Value)
	if v.Sig != "" {
		t.Fatal("expected unsigned value")
	}
	if _, err := h.svc.Respond(context.Background(), payload, p); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
}

func TestOutcomeString(t *testing.T) {
	if (Outcome{Status: StatusApproved, Duplicate: true}).String() != "Approved (duplicate)" {
		t.Fatal("unexpected duplicate string")
	}
	if (Outcome{Status: StatusRejected}).String() != "Rejected" {
		t.Fatal("unexpected plain string")
	}
}
