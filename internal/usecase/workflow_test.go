package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"digest-agent/internal/domain"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

func defaultParams() *mockParams {
	return &mockParams{
		vals: map[string]string{
			"/prefix/agents/coordinator":     "coord-1",
			"/prefix/agents/image-generator": "image-1",
			"/prefix/agents/slack-delivery":  "slack-1",
			"/prefix/schedule-id":            "sched-1",
		},
	}
}

type invocation struct {
	message string
	agentID string
}

// mockInvoker replays a fixed sequence of invoke outcomes and records calls.
type mockInvoker struct {
	results []domain.InvokeResult
	errs    []error
	calls   []invocation
}

func (m *mockInvoker) Invoke(_ context.Context, message, agentID string) (domain.InvokeResult, error) {
	idx := len(m.calls)
	m.calls = append(m.calls, invocation{message: message, agentID: agentID})
	var res domain.InvokeResult
	if idx < len(m.results) {
		res = m.results[idx]
	}
	var err error
	if idx < len(m.errs) {
		err = m.errs[idx]
	}
	return res, err
}

func successResult(t *testing.T, body string) domain.InvokeResult {
	t.Helper()
	var tree any
	require.NoError(t, json.Unmarshal([]byte(body), &tree))
	return domain.InvokeResult{Success: true, Response: tree}
}

func newTestService(t *testing.T, inv *mockInvoker, store *fakeStore) *WorkflowService {
	t.Helper()
	svc, err := NewWorkflowService(inv, defaultParams(), store, "/prefix")
	require.NoError(t, err)
	return svc
}

func TestNewWorkflowService_ValidatesDependencies(t *testing.T) {
	store := newFakeStore()

	_, err := NewWorkflowService(nil, defaultParams(), store, "/prefix")
	require.Error(t, err)

	_, err = NewWorkflowService(&mockInvoker{}, nil, store, "/prefix")
	require.Error(t, err)

	_, err = NewWorkflowService(&mockInvoker{}, defaultParams(), nil, "/prefix")
	require.Error(t, err)

	_, err = NewWorkflowService(&mockInvoker{}, defaultParams(), store, "  ")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Digest stage
// ---------------------------------------------------------------------------

func TestGenerateDigest_HappyPath(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"hello world","week_summary":"big week"}}`),
	}}
	store := newFakeStore()
	svc := newTestService(t, inv, store)

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, domain.SeveritySuccess, report.Severity)
	require.Equal(t, msgDigestSuccess, report.Message)

	require.Len(t, inv.calls, 1)
	require.Equal(t, "coord-1", inv.calls[0].agentID)
	require.Contains(t, inv.calls[0].message, "YC startups")
	require.Contains(t, inv.calls[0].message, "LinkedIn post")

	state := svc.Snapshot()
	require.Equal(t, domain.StageSucceeded, state.Stages[domain.StageDigest])
	require.NotNil(t, state.Digest)
	require.Equal(t, "hello world", state.Digest.LinkedInPost)
	require.Equal(t, "hello world", state.Post, "editable post seeded from digest")
	require.Empty(t, state.ActiveStage)

	history := svc.History()
	require.Len(t, history, 1, "exactly one entry appended")
	require.Equal(t, "big week", history[0].WeekSummary)
	require.Equal(t, domain.HistoryStatusGenerated, history[0].Status)
	require.Contains(t, store.data, historyStorageKey, "history persisted")
}

func TestGenerateDigest_DeeplyWrappedPayload(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"message":{"output":{"linkedin_post":"nested","week_summary":"w"}}}}`),
	}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, domain.SeveritySuccess, report.Severity)
	require.Equal(t, "nested", svc.Snapshot().Digest.LinkedInPost)
}

func TestGenerateDigest_DegradedRawTextRecovery(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"message":"plain text, not json"}`),
	}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, msgDigestDegraded, report.Message)
	require.NotEqual(t, domain.SeverityError, report.Severity, "degraded parse is not an error status")

	state := svc.Snapshot()
	require.Nil(t, state.Digest, "no digest committed")
	require.Equal(t, "plain text, not json", state.Post, "raw text surfaced as draft")
	require.Empty(t, svc.History(), "no history entry for a degraded parse")
}

func TestGenerateDigest_DegradedRawResponseFallback(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"raw_response":"plain agent text"}`),
	}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, msgDigestDegraded, report.Message)
	require.Equal(t, domain.SeverityInfo, report.Severity)

	state := svc.Snapshot()
	require.Nil(t, state.Digest)
	require.Equal(t, "plain agent text", state.Post, "raw_response surfaced as draft")
	require.Empty(t, svc.History())
}

func TestGenerateDigest_MessagePreferredOverRawResponse(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"message":"from message","raw_response":"from raw"}`),
	}}
	svc := newTestService(t, inv, newFakeStore())

	svc.GenerateDigest(context.Background())
	require.Equal(t, "from message", svc.Snapshot().Post)
}

func TestGenerateDigest_DegradedDraftCapped(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	inv := &mockInvoker{results: []domain.InvokeResult{
		{Success: true, Response: map[string]any{"message": string(long)}},
	}}
	svc := newTestService(t, inv, newFakeStore())

	svc.GenerateDigest(context.Background())
	require.Len(t, svc.Snapshot().Post, maxDraftLen)
}

func TestGenerateDigest_UnexpectedFormat(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"something":"else"}`),
	}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, domain.SeverityError, report.Severity)
	require.Equal(t, msgDigestUnexpected, report.Message)
	require.Equal(t, domain.StageFailed, svc.Snapshot().Stages[domain.StageDigest])
}

func TestGenerateDigest_NetworkTransportPhrasing(t *testing.T) {
	inv := &mockInvoker{errs: []error{errors.New("context deadline exceeded (Client.Timeout)")}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, domain.SeverityError, report.Severity)
	require.Equal(t, msgDigestNetwork, report.Message)
}

func TestGenerateDigest_GenericTransportError(t *testing.T) {
	inv := &mockInvoker{errs: []error{errors.New("agentapi: unexpected status 500")}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, domain.SeverityError, report.Severity)
	require.Contains(t, report.Message, "unexpected status 500")
}

func TestGenerateDigest_ServiceReportedFailure(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		{Success: false, Error: "agent is busy"},
	}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateDigest(context.Background())
	require.Equal(t, domain.SeverityError, report.Severity)
	require.Equal(t, "Error: agent is busy", report.Message)
}

func TestGenerateDigest_RetriggerOverwritesTerminalState(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"something":"else"}`),
		successResult(t, `{"result":{"linkedin_post":"second try","week_summary":"w"}}`),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	require.Equal(t, domain.StageFailed, svc.Snapshot().Stages[domain.StageDigest])

	svc.GenerateDigest(ctx)
	require.Equal(t, domain.StageSucceeded, svc.Snapshot().Stages[domain.StageDigest])
	require.Len(t, svc.History(), 1)
}

func TestEnsureConfig_LoadedOnce(t *testing.T) {
	params := defaultParams()
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"a"}}`),
		successResult(t, `{"result":{"linkedin_post":"b"}}`),
	}}
	svc, err := NewWorkflowService(inv, params, newFakeStore(), "/prefix")
	require.NoError(t, err)
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	after := params.calls
	svc.GenerateDigest(ctx)
	require.Equal(t, after, params.calls, "SSM parameters loaded once per process")
}

// ---------------------------------------------------------------------------
// Image stage
// ---------------------------------------------------------------------------

const imageSuccessBody = `{
	"result": {"image_description": "brown banner", "design_notes": "bold", "alt_text": "digest art"},
	"module_outputs": {"artifact_files": [{"file_url": "https://files/img.png", "name": "img", "format_type": "png"}]}
}`

func TestGenerateImage_HappyPathAmendsEntry(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"post","week_summary":"summary of week"}}`),
		successResult(t, imageSuccessBody),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	report := svc.GenerateImage(ctx)
	require.Equal(t, domain.SeveritySuccess, report.Severity)
	require.Equal(t, msgImageSuccess, report.Message)

	require.Len(t, inv.calls, 2)
	require.Equal(t, "image-1", inv.calls[1].agentID)
	require.Contains(t, inv.calls[1].message, "summary of week")

	state := svc.Snapshot()
	require.Equal(t, "https://files/img.png", state.ImageURL)
	require.NotNil(t, state.Image)
	require.Equal(t, "brown banner", state.Image.ImageDescription)

	history := svc.History()
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ImageURL)
	require.Equal(t, "https://files/img.png", *history[0].ImageURL)
	require.Equal(t, domain.HistoryStatusGenerated, history[0].Status, "status untouched by image amend")
}

func TestGenerateImage_WithoutDigestUsesGenericPrompt(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{successResult(t, imageSuccessBody)}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateImage(context.Background())
	require.Equal(t, domain.SeveritySuccess, report.Severity)
	require.Contains(t, inv.calls[0].message, genericWeekSummary)
	require.Empty(t, svc.History(), "no entry to amend, none created")
}

func TestGenerateImage_NoFileReturned(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"post","week_summary":"w"}}`),
		successResult(t, `{"result":{"image_description":"desc"}}`),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	report := svc.GenerateImage(ctx)
	require.Equal(t, domain.SeverityInfo, report.Severity)
	require.Equal(t, msgImageNoFile, report.Message)

	state := svc.Snapshot()
	require.Empty(t, state.ImageURL)
	require.NotNil(t, state.Image, "descriptive fields still captured")
	require.Nil(t, svc.History()[0].ImageURL, "no amendment without a file")
}

func TestGenerateImage_TransportError(t *testing.T) {
	inv := &mockInvoker{errs: []error{errors.New("boom")}}
	svc := newTestService(t, inv, newFakeStore())

	report := svc.GenerateImage(context.Background())
	require.Equal(t, domain.SeverityError, report.Severity)
	require.Equal(t, "Error: boom", report.Message)
	require.Equal(t, domain.StageFailed, svc.Snapshot().Stages[domain.StageImage])
}

// ---------------------------------------------------------------------------
// Delivery stage
// ---------------------------------------------------------------------------

func TestDeliver_EmptyChannelDoesNotInvoke(t *testing.T) {
	inv := &mockInvoker{}
	svc := newTestService(t, inv, newFakeStore())

	_, err := svc.Deliver(context.Background(), "   ")
	require.Error(t, err)

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
	require.Equal(t, "empty_channel", ucErr.Reason)
	require.Empty(t, inv.calls, "agent adapter must not be invoked")
}

func TestDeliver_HappyPathMarksSent(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"the post","week_summary":"the summary"}}`),
		successResult(t, `{"result":{"delivery_status":"delivered","channel_name":"#ai-weekly","timestamp":"1756630800.12"}}`),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	report, err := svc.Deliver(ctx, "#ai-weekly")
	require.NoError(t, err)
	require.Equal(t, domain.SeveritySuccess, report.Severity)
	require.Equal(t, "Delivered to #ai-weekly -- Status: delivered at 1756630800.12", report.Message)

	require.Equal(t, "slack-1", inv.calls[1].agentID)
	require.Contains(t, inv.calls[1].message, "the post")
	require.Contains(t, inv.calls[1].message, "Summary: the summary")
	require.Contains(t, inv.calls[1].message, `"#ai-weekly"`)
	require.Contains(t, inv.calls[1].message, "SLACK_CHAT_POST_MESSAGE")

	require.Equal(t, "delivered", svc.Snapshot().DeliveryStatus)
	require.Equal(t, domain.HistoryStatusSent, svc.History()[0].Status)
}

func TestDeliver_DefaultsWhenConfirmationAbsent(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"p","week_summary":"w"}}`),
		successResult(t, `{"result":"ok then"}`),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	report, err := svc.Deliver(ctx, "#general")
	require.NoError(t, err)
	require.Equal(t, domain.SeveritySuccess, report.Severity)
	require.Equal(t, "Delivered to #general -- Status: sent", report.Message)
	require.Equal(t, domain.HistoryStatusSent, svc.History()[0].Status)
}

func TestDeliver_EditedPostPreferredOverOriginal(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"original","week_summary":"w"}}`),
		successResult(t, `{"result":{"delivery_status":"sent"}}`),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	svc.SetPost("hand-edited version")
	_, err := svc.Deliver(ctx, "#c")
	require.NoError(t, err)
	require.Contains(t, inv.calls[1].message, "hand-edited version")
	require.NotContains(t, inv.calls[1].message, "original")
}

func TestDeliver_FallsBackToDigestPostWhenDraftCleared(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"from digest","week_summary":"w"}}`),
		successResult(t, `{"result":{"delivery_status":"sent"}}`),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	svc.SetPost("")
	_, err := svc.Deliver(ctx, "#c")
	require.NoError(t, err)
	require.Contains(t, inv.calls[1].message, "from digest")
}

func TestDeliver_ServiceReportedFailure(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		{Success: false, Error: "slack token expired"},
	}}
	svc := newTestService(t, inv, newFakeStore())

	report, err := svc.Deliver(context.Background(), "#c")
	require.NoError(t, err)
	require.Equal(t, domain.SeverityError, report.Severity)
	require.Equal(t, "Error: slack token expired", report.Message)
	require.Empty(t, svc.History())
}

// ---------------------------------------------------------------------------
// Regeneration and cross-stage interaction
// ---------------------------------------------------------------------------

func TestRegeneration_AmendTargetsOriginatingEntry(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"first","week_summary":"w1"}}`),
		successResult(t, `{"result":{"linkedin_post":"second","week_summary":"w2"}}`),
		successResult(t, imageSuccessBody),
	}}
	svc := newTestService(t, inv, newFakeStore())
	ctx := context.Background()

	svc.GenerateDigest(ctx)
	svc.GenerateDigest(ctx)
	svc.GenerateImage(ctx)

	history := svc.History()
	require.Len(t, history, 2)
	require.NotNil(t, history[0].ImageURL, "image amends the digest it was started against")
	require.Nil(t, history[1].ImageURL)
}

func TestSnapshotAndPersistRoundTrip(t *testing.T) {
	inv := &mockInvoker{results: []domain.InvokeResult{
		successResult(t, `{"result":{"linkedin_post":"p","week_summary":"w"}}`),
	}}
	store := newFakeStore()
	svc := newTestService(t, inv, store)
	ctx := context.Background()

	svc.GenerateDigest(ctx)

	// A fresh service over the same store sees the same history.
	svc2 := newTestService(t, &mockInvoker{}, store)
	svc2.Load(ctx)
	require.Equal(t, svc.History(), svc2.History())
}

// ---------------------------------------------------------------------------
// Preferences and schedule id
// ---------------------------------------------------------------------------

func TestDefaultChannelRoundTrip(t *testing.T) {
	svc := newTestService(t, &mockInvoker{}, newFakeStore())
	ctx := context.Background()

	require.Empty(t, svc.DefaultChannel(ctx))
	svc.SetDefaultChannel(ctx, "#ai-weekly-digest")
	require.Equal(t, "#ai-weekly-digest", svc.DefaultChannel(ctx))
}

func TestDefaultChannel_StoreErrorDegradesToEmpty(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("dynamo down")
	svc := newTestService(t, &mockInvoker{}, store)
	require.Empty(t, svc.DefaultChannel(context.Background()))
}

func TestScheduleID(t *testing.T) {
	svc := newTestService(t, &mockInvoker{}, newFakeStore())
	id, err := svc.ScheduleID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sched-1", id)
}

func TestScheduleID_ParamError(t *testing.T) {
	svc, err := NewWorkflowService(&mockInvoker{}, &mockParams{err: errors.New("ssm down")}, newFakeStore(), "/prefix")
	require.NoError(t, err)

	_, err = svc.ScheduleID(context.Background())
	require.Error(t, err)

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
}
