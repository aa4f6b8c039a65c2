package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"digest-agent/internal/domain"
	"digest-agent/internal/extract"
	"digest-agent/internal/repository"
)

const (
	historyStorageKey = "twiai_history"
	channelStorageKey = "twiai_slack_default"

	maxDraftLen = 3000
)

// AgentInvoker is the opaque agent invocation transport.
type AgentInvoker interface {
	Invoke(ctx context.Context, message, agentID string) (domain.InvokeResult, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StateView is the snapshot of workflow state owed to the caller.
type StateView struct {
	Digest         *domain.DigestPayload              `json:"digest"`
	Post           string                             `json:"post"`
	ImageURL       string                             `json:"imageUrl"`
	Image          *domain.ImagePayload               `json:"image"`
	DeliveryStatus string                             `json:"deliveryStatus"`
	ActiveStage    domain.Stage                       `json:"activeStage,omitempty"`
	Stages         map[domain.Stage]domain.StageState `json:"stages"`
	Reports        map[domain.Stage]domain.Report     `json:"reports"`
}

// WorkflowService sequences the three digest workflow stages against the
// agent service and owns the session's workflow state. The stages are
// independently triggerable; each mutates a disjoint slice of the state
// except for the history entry amendments, which are id-addressed.
type WorkflowService struct {
	agents      AgentInvoker
	params      ParamGetter
	store       repository.Store
	ledger      *Ledger
	paramPrefix string

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	coordinatorID string
	imageAgentID  string
	slackAgentID  string
	scheduleID    string

	mu             sync.Mutex
	digest         *domain.DigestPayload
	post           string
	imageURL       string
	image          *domain.ImagePayload
	deliveryStatus string
	entryID        string
	activeStage    domain.Stage
	stages         map[domain.Stage]domain.StageState
	reports        map[domain.Stage]domain.Report
}

// NewWorkflowService creates the orchestrator. Agent identifiers are loaded
// lazily from the parameter store under paramPrefix on first use.
func NewWorkflowService(agents AgentInvoker, params ParamGetter, store repository.Store, paramPrefix string) (*WorkflowService, error) {
	if agents == nil {
		return nil, errors.New("usecase: agent invoker must not be nil")
	}
	if params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &WorkflowService{
		agents:      agents,
		params:      params,
		store:       store,
		ledger:      NewLedger(store, historyStorageKey),
		paramPrefix: paramPrefix,
		stages: map[domain.Stage]domain.StageState{
			domain.StageDigest:   domain.StageIdle,
			domain.StageImage:    domain.StageIdle,
			domain.StageDelivery: domain.StageIdle,
		},
		reports: map[domain.Stage]domain.Report{},
	}, nil
}

// Load restores persisted history at session start.
func (s *WorkflowService) Load(ctx context.Context) {
	s.ledger.Load(ctx)
}

// GenerateDigest runs the digest stage: one agent invocation, response
// normalization, state commit, and a new history entry. Every outcome
// resolves to a report; nothing here is fatal.
func (s *WorkflowService) GenerateDigest(ctx context.Context) domain.Report {
	if err := s.ensureConfig(ctx); err != nil {
		return s.finishStage(domain.StageDigest, domain.StageFailed, reportError("Error: "+err.Error()))
	}
	s.beginStage(domain.StageDigest)

	res, err := s.agents.Invoke(ctx, buildDigestRequest(), s.coordinatorID)
	if err != nil {
		return s.finishStage(domain.StageDigest, domain.StageFailed, digestTransportReport(err.Error()))
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg, _ = stringField(res.Response, "message")
		}
		if msg == "" {
			msg = msgDigestFallback
		}
		return s.finishStage(domain.StageDigest, domain.StageFailed, reportError("Error: "+msg))
	}

	envelope := invokeEnvelope(res)
	for _, root := range candidateRoots(envelope) {
		digest, ok := extract.Digest(root)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.digest = digest
		s.post = digest.LinkedInPost
		s.mu.Unlock()

		entry := s.ledger.Append(ctx, digest)
		s.mu.Lock()
		s.entryID = entry.ID
		s.mu.Unlock()

		return s.finishStage(domain.StageDigest, domain.StageSucceeded, reportSuccess(msgDigestSuccess))
	}

	// Degraded recovery: no certified payload, but the agent may still have
	// produced free text worth showing as the editable draft, either as a
	// message field or as unparsed raw_response text.
	msg, _ := stringField(res.Response, "message")
	if msg == "" {
		msg, _ = stringField(res.Response, "raw_response")
	}
	if msg != "" {
		s.mu.Lock()
		s.post = truncate(msg, maxDraftLen)
		s.mu.Unlock()
		return s.finishStage(domain.StageDigest, domain.StageFailed, reportInfo(msgDigestDegraded))
	}
	return s.finishStage(domain.StageDigest, domain.StageFailed, reportError(msgDigestUnexpected))
}

// GenerateImage runs the image stage. A current digest is not a hard
// precondition; it only enriches the prompt.
func (s *WorkflowService) GenerateImage(ctx context.Context) domain.Report {
	if err := s.ensureConfig(ctx); err != nil {
		return s.finishStage(domain.StageImage, domain.StageFailed, reportError("Error: "+err.Error()))
	}
	s.beginStage(domain.StageImage)

	s.mu.Lock()
	digest := s.digest
	entryID := s.entryID
	s.mu.Unlock()

	res, err := s.agents.Invoke(ctx, buildImagePrompt(digest), s.imageAgentID)
	if err != nil {
		return s.finishStage(domain.StageImage, domain.StageFailed, reportError("Error: "+err.Error()))
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = msgImageFallback
		}
		return s.finishStage(domain.StageImage, domain.StageFailed, reportError("Error: "+msg))
	}

	// Descriptive fields come straight off the nested result object; the
	// file URL is resolved separately from the artifact-file list.
	if data, ok := extract.Image(field(res.Response, "result")); ok {
		s.mu.Lock()
		s.image = data
		s.mu.Unlock()
	}

	files := extract.ArtifactFiles(invokeEnvelope(res))
	if len(files) == 0 || files[0].FileURL == "" {
		return s.finishStage(domain.StageImage, domain.StageSucceeded, reportInfo(msgImageNoFile))
	}

	url := files[0].FileURL
	s.mu.Lock()
	s.imageURL = url
	s.mu.Unlock()
	s.ledger.AmendImage(ctx, entryID, url)

	return s.finishStage(domain.StageImage, domain.StageSucceeded, reportSuccess(msgImageSuccess))
}

// Deliver runs the delivery stage. A non-empty channel is a hard
// precondition: without one the agent is never invoked.
func (s *WorkflowService) Deliver(ctx context.Context, channel string) (domain.Report, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return domain.Report{}, newError(ErrorInvalidInput, "empty_channel", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return s.finishStage(domain.StageDelivery, domain.StageFailed, reportError("Error: "+err.Error())), nil
	}
	s.beginStage(domain.StageDelivery)

	s.mu.Lock()
	content := s.post
	if content == "" && s.digest != nil {
		content = s.digest.LinkedInPost
	}
	weekSummary := ""
	if s.digest != nil {
		weekSummary = s.digest.WeekSummary
	}
	entryID := s.entryID
	s.mu.Unlock()

	res, err := s.agents.Invoke(ctx, buildDeliveryMessage(channel, content, weekSummary), s.slackAgentID)
	if err != nil {
		return s.finishStage(domain.StageDelivery, domain.StageFailed, reportError("Error: "+err.Error())), nil
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = msgDeliveryFallback
		}
		return s.finishStage(domain.StageDelivery, domain.StageFailed, reportError("Error: "+msg)), nil
	}

	statusText := domain.HistoryStatusSent
	channelName := channel
	timestamp := ""
	for _, root := range candidateRoots(invokeEnvelope(res)) {
		confirmation, ok := extract.Delivery(root)
		if !ok {
			continue
		}
		if confirmation.DeliveryStatus != "" {
			statusText = confirmation.DeliveryStatus
		}
		if confirmation.ChannelName != "" {
			channelName = confirmation.ChannelName
		}
		timestamp = confirmation.Timestamp
		break
	}

	s.mu.Lock()
	s.deliveryStatus = statusText
	s.mu.Unlock()
	s.ledger.MarkSent(ctx, entryID)

	msg := "Delivered to " + channelName + " -- Status: " + statusText
	if timestamp != "" {
		msg += " at " + timestamp
	}
	return s.finishStage(domain.StageDelivery, domain.StageSucceeded, reportSuccess(msg)), nil
}

// SetPost replaces the editable post text.
func (s *WorkflowService) SetPost(post string) {
	s.mu.Lock()
	s.post = post
	s.mu.Unlock()
}

// History returns the ordered history, most recent first.
func (s *WorkflowService) History() []domain.HistoryEntry {
	return s.ledger.Entries()
}

// Snapshot returns the current workflow state for display.
func (s *WorkflowService) Snapshot() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := make(map[domain.Stage]domain.StageState, len(s.stages))
	for k, v := range s.stages {
		stages[k] = v
	}
	reports := make(map[domain.Stage]domain.Report, len(s.reports))
	for k, v := range s.reports {
		reports[k] = v
	}
	return StateView{
		Digest:         s.digest,
		Post:           s.post,
		ImageURL:       s.imageURL,
		Image:          s.image,
		DeliveryStatus: s.deliveryStatus,
		ActiveStage:    s.activeStage,
		Stages:         stages,
		Reports:        reports,
	}
}

// DefaultChannel reads the persisted default delivery channel; storage
// failures degrade to empty.
func (s *WorkflowService) DefaultChannel(ctx context.Context) string {
	value, found, err := s.store.Get(ctx, channelStorageKey)
	if err != nil {
		slog.Warn("default channel read failed", "err", err)
		return ""
	}
	if !found {
		return ""
	}
	return value
}

// SetDefaultChannel persists the default delivery channel, best-effort.
func (s *WorkflowService) SetDefaultChannel(ctx context.Context, channel string) {
	if err := s.store.Set(ctx, channelStorageKey, channel); err != nil {
		slog.Warn("default channel persist failed", "err", err)
	}
}

// ScheduleID returns the configured digest schedule identifier.
func (s *WorkflowService) ScheduleID(ctx context.Context) (string, error) {
	if err := s.ensureConfig(ctx); err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}
	return s.scheduleID, nil
}

func (s *WorkflowService) beginStage(stage domain.Stage) {
	s.mu.Lock()
	s.stages[stage] = domain.StageRunning
	s.reports[stage] = runningReport(stage)
	s.activeStage = stage
	s.mu.Unlock()
}

func (s *WorkflowService) finishStage(stage domain.Stage, state domain.StageState, report domain.Report) domain.Report {
	s.mu.Lock()
	s.stages[stage] = state
	s.reports[stage] = report
	if s.activeStage == stage {
		s.activeStage = ""
	}
	s.mu.Unlock()
	return report
}

func (s *WorkflowService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	coordinator, err := s.params.GetParameter(ctx, s.paramPrefix+"/agents/coordinator")
	if err != nil {
		return err
	}
	imageAgent, err := s.params.GetParameter(ctx, s.paramPrefix+"/agents/image-generator")
	if err != nil {
		return err
	}
	slackAgent, err := s.params.GetParameter(ctx, s.paramPrefix+"/agents/slack-delivery")
	if err != nil {
		return err
	}
	scheduleID, err := s.params.GetParameter(ctx, s.paramPrefix+"/schedule-id")
	if err != nil {
		return err
	}

	s.coordinatorID = coordinator
	s.imageAgentID = imageAgent
	s.slackAgentID = slackAgent
	s.scheduleID = scheduleID
	s.cacheLoaded = true
	return nil
}

// invokeEnvelope rebuilds the transport envelope as an untyped tree so the
// extractor's wrapper-key search sees the same shape callers of the remote
// service see.
func invokeEnvelope(res domain.InvokeResult) map[string]any {
	return map[string]any{
		"success":  res.Success,
		"response": res.Response,
		"error":    res.Error,
	}
}

// candidateRoots returns the extraction roots in priority order: the nested
// response.result field, the whole response field, then the whole envelope.
func candidateRoots(envelope map[string]any) []any {
	response := envelope["response"]
	return []any{field(response, "result"), response, envelope}
}

// field reads a key off an untyped tree node, nil when absent or not an
// object.
func field(raw any, key string) any {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return obj[key]
}

// stringField reads a string-valued key off an untyped tree node.
func stringField(raw any, key string) (string, bool) {
	v, ok := field(raw, key).(string)
	return v, ok
}
