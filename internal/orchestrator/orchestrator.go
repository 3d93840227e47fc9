package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus/internal/attachments"
	"github.com/haasonsaas/nexus/internal/datetime"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/repository"
	"github.com/haasonsaas/nexus/internal/settings"
	"github.com/haasonsaas/nexus/internal/streaming"
	"github.com/haasonsaas/nexus/internal/titlegen"
	"github.com/haasonsaas/nexus/pkg/models"
)

// providerName identifies the wire provider for LLM request metrics/traces.
// The orchestrator currently only ever talks to OpenRouter.
const providerName = "openrouter"

// ToolAggregator is the catalog/invocation surface the orchestrator needs
// from the tool aggregator. internal/mcp.Manager satisfies this.
type ToolAggregator interface {
	Catalog() *mcp.Catalog
	Invoke(ctx context.Context, qualifiedName string, arguments map[string]any) (*mcp.InvocationResult, error)
}

// Config bounds the orchestrator's behavior and wires its observability.
// Tracer and Metrics are both optional: nil disables span creation and
// metric recording respectively without changing control flow.
type Config struct {
	Limits  TurnLimits
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// Orchestrator owns the per-turn chat control flow.
type Orchestrator struct {
	repo           repository.Store
	attachmentRepo repository.AttachmentStore
	attachmentSvc  *attachments.Service
	provider       Provider
	tools          ToolAggregator
	modelSettings  *settings.ModelSettingsService
	presets        *settings.PresetService
	planner        *Planner
	titles         *titlegen.Generator
	limits         TurnLimits
	tracer         *observability.Tracer
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// New creates an Orchestrator wiring together the gateway's components.
// planner may be nil (tool narrowing disabled).
func New(
	repo repository.Store,
	attachmentRepo repository.AttachmentStore,
	attachmentSvc *attachments.Service,
	provider Provider,
	tools ToolAggregator,
	modelSettings *settings.ModelSettingsService,
	presets *settings.PresetService,
	planner *Planner,
	titles *titlegen.Generator,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:           repo,
		attachmentRepo: attachmentRepo,
		attachmentSvc:  attachmentSvc,
		provider:       provider,
		tools:          tools,
		modelSettings:  modelSettings,
		presets:        presets,
		planner:        planner,
		titles:         titles,
		limits:         cfg.Limits.withDefaults(),
		tracer:         cfg.Tracer,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "orchestrator"),
	}
}

// startSpan starts a named span when a tracer is configured, otherwise it
// returns ctx unchanged along with its (non-recording) ambient span so
// callers can unconditionally defer span.End().
func (o *Orchestrator) startSpan(ctx context.Context, name string, opts ...observability.SpanOptions) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name, opts...)
}

func (o *Orchestrator) recordSpanError(span trace.Span, err error) {
	if o.tracer == nil || err == nil {
		return
	}
	o.tracer.RecordError(span, err)
}

func (o *Orchestrator) setSpanAttrs(span trace.Span, keyvals ...any) {
	if o.tracer == nil {
		return
	}
	o.tracer.SetAttributes(span, keyvals...)
}

func (o *Orchestrator) recordLLMRequest(model, status string, durationSeconds float64) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordLLMRequest(providerName, model, status, durationSeconds, 0, 0)
}

func (o *Orchestrator) recordToolExecution(toolName, status string, durationSeconds float64) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordToolExecution(toolName, status, durationSeconds)
}

func (o *Orchestrator) recordError(component, errorType string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordError(component, errorType)
}

// StartSession mints a session id. Because the repository lazily creates
// the session row on first append_message, this never touches storage: a
// client-supplied id is simply echoed back, honoring idempotence.
func (o *Orchestrator) StartSession(clientSessionID string) string {
	if clientSessionID != "" {
		return clientSessionID
	}
	return uuid.NewString()
}

// GetConversation returns a session's ordered messages with freshly-signed
// attachment URLs.
func (o *Orchestrator) GetConversation(ctx context.Context, sessionID string) ([]*models.Message, error) {
	messages, err := o.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.refreshStaleAttachmentURLs(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ClearSession deletes a session and its messages.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	return o.repo.DeleteSession(ctx, sessionID)
}

// ListSessions returns saved-session summaries matching opts.
func (o *Orchestrator) ListSessions(ctx context.Context, opts repository.ListSessionsOptions) ([]*models.SessionSummary, error) {
	return o.repo.ListSessions(ctx, opts)
}

// GenerateTitle runs title generation for sessionID synchronously against
// its current conversation and returns the resulting title, overwriting
// whatever title is currently set.
func (o *Orchestrator) GenerateTitle(ctx context.Context, sessionID string) (string, error) {
	if o.titles == nil {
		return "", fmt.Errorf("title generation is not configured")
	}
	messages, err := o.GetConversation(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	return o.titles.Generate(ctx, sessionID, messages)
}

// SetActiveModel replaces the active model snapshot.
func (o *Orchestrator) SetActiveModel(snapshot models.ModelSnapshot) error {
	return o.modelSettings.Set(snapshot)
}

// ApplyPreset applies a named preset and returns the resulting snapshot.
func (o *Orchestrator) ApplyPreset(ctx context.Context, name string) (models.ModelSnapshot, error) {
	if err := o.presets.Apply(ctx, name); err != nil {
		return models.ModelSnapshot{}, err
	}
	return o.modelSettings.Get()
}

// refreshStaleAttachmentURLs mutates content parts carrying an
// attachment_id in place, reissuing signed URLs that are within the
// refresh threshold of expiring.
func (o *Orchestrator) refreshStaleAttachmentURLs(ctx context.Context, messages []*models.Message) error {
	if o.attachmentRepo == nil || o.attachmentSvc == nil {
		return nil
	}
	for _, m := range messages {
		if !m.Content.IsStructured() {
			continue
		}
		for i := range m.Content.Parts {
			part := &m.Content.Parts[i]
			if part.Type != models.ContentPartImageURL || part.AttachmentID == "" {
				continue
			}
			a, err := o.attachmentRepo.GetAttachment(ctx, part.AttachmentID)
			if err != nil {
				continue
			}
			refreshed, err := o.attachmentSvc.RefreshIfStale(ctx, a)
			if err != nil {
				o.logger.Warn("failed to refresh attachment url", "attachment_id", part.AttachmentID, "error", err)
				continue
			}
			part.ImageURL = refreshed.SignedURL
		}
	}
	return nil
}

// turnState carries the mutable state of one process_stream call across
// tool-loop iterations.
type turnState struct {
	sessionID      string
	messages       []*models.Message
	events         chan StreamEvent
	snapshot       models.ModelSnapshot
	model          string
	iterationsLeft int
	totalToolCalls int
	startedAt      time.Time
}

// ProcessStream runs one turn of the chat control flow, returning a channel
// of events the caller streams to the client as SSE. The channel is closed
// after exactly one EventDone.
func (o *Orchestrator) ProcessStream(ctx context.Context, sessionID, timezone, modelOverride string, incoming []*models.Message) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent)

	isNewSession := false
	if sessionID == "" {
		sessionID = uuid.NewString()
		isNewSession = true
	} else if _, err := o.repo.GetSession(ctx, sessionID); err != nil {
		if err != repository.ErrSessionNotFound {
			return nil, err
		}
		isNewSession = true
	}

	for _, msg := range incoming {
		if _, err := o.repo.AppendMessage(ctx, sessionID, msg); err != nil {
			return nil, fmt.Errorf("persist incoming message: %w", err)
		}
	}

	history, err := o.GetConversation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	snapshot, err := o.modelSettings.Get()
	if err != nil {
		return nil, fmt.Errorf("load model snapshot: %w", err)
	}
	model := snapshot.ModelID
	if modelOverride != "" {
		model = modelOverride
	}

	st := &turnState{
		sessionID:      sessionID,
		messages:       history,
		events:         events,
		snapshot:       snapshot,
		model:          model,
		iterationsLeft: o.limits.MaxToolIterations,
		startedAt:      time.Now(),
	}

	go func() {
		defer close(events)
		if isNewSession {
			events <- StreamEvent{Kind: EventSession, SessionID: sessionID}
		}
		o.runTurn(ctx, timezone, st)
	}()

	return events, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, timezone string, st *turnState) {
	ctx, turnSpan := o.startSpan(ctx, "turn")
	defer turnSpan.End()
	o.setSpanAttrs(turnSpan, "session_id", st.sessionID, "model", st.model)

	systemMessage := o.buildSystemMessage(timezone, st.snapshot)

	catalog := o.fetchToolCatalog(ctx, st)

	for {
		wallExceeded := o.limits.MaxWallTime > 0 && time.Since(st.startedAt) > o.limits.MaxWallTime
		if st.iterationsLeft <= 0 || wallExceeded || (o.limits.MaxToolCalls > 0 && st.totalToolCalls >= o.limits.MaxToolCalls) {
			st.events <- StreamEvent{Kind: EventError, SessionID: st.sessionID, Err: &StreamErrorDetail{
				Reason:  ErrorToolLoopExhaused,
				Message: "maximum tool iterations reached with tool calls still pending",
			}}
			st.events <- StreamEvent{Kind: EventDone, SessionID: st.sessionID}
			return
		}
		st.iterationsLeft--

		outbound := make([]*models.Message, 0, len(st.messages)+1)
		outbound = append(outbound, systemMessage)
		outbound = append(outbound, st.messages...)
		wireMessages := toProviderMessages(outbound)

		requestStart := time.Now()
		llmCtx, llmSpan := o.startSpan(ctx, "llm_request")
		o.setSpanAttrs(llmSpan, "llm.provider", providerName, "llm.model", st.model)

		body, err := o.provider.StreamChatCompletion(llmCtx, st.model, wireMessages, catalog, 0, st.snapshot.Parameters)
		if err != nil {
			o.recordSpanError(llmSpan, err)
			llmSpan.End()
			o.recordLLMRequest(st.model, "error", time.Since(requestStart).Seconds())
			o.recordError("provider", "request_failed")
			st.events <- StreamEvent{Kind: EventError, SessionID: st.sessionID, Err: classifyProviderError(err)}
			st.events <- StreamEvent{Kind: EventDone, SessionID: st.sessionID}
			return
		}

		turn, streamErr := o.consumeTurn(llmCtx, st, body)
		llmSpan.End()
		if streamErr != nil {
			o.recordLLMRequest(st.model, "error", time.Since(requestStart).Seconds())
			o.recordError("provider", "stream_failed")
			st.events <- StreamEvent{Kind: EventError, SessionID: st.sessionID, Err: &StreamErrorDetail{
				Reason:  ErrorProviderFailure,
				Message: streamErr.Error(),
			}}
			st.events <- StreamEvent{Kind: EventDone, SessionID: st.sessionID}
			return
		}
		o.recordLLMRequest(st.model, "success", time.Since(requestStart).Seconds())

		if len(turn.ToolCalls) == 0 {
			o.finishTurn(ctx, st, turn)
			return
		}

		o.runToolCalls(ctx, st, turn)
	}
}

// buildSystemMessage composes the transient system message per-turn: a
// generated time preamble followed by the persisted system prompt, never
// persisted as a Message row.
func (o *Orchestrator) buildSystemMessage(timezone string, snapshot models.ModelSnapshot) *models.Message {
	tz := datetime.ResolveUserTimezone(timezone)
	format := datetime.ResolveUserTimeFormat(datetime.TimeFormatAuto)
	now := time.Now()
	preamble := fmt.Sprintf(
		"Current time: %s. UTC instant: %s. Use this for any relative-time reasoning.",
		datetime.FormatUserTimeWithTimezone(now, tz, format),
		now.UTC().Format(time.RFC3339),
	)
	if snapshot.SystemPrompt != nil && *snapshot.SystemPrompt != "" {
		preamble = preamble + "\n\n" + *snapshot.SystemPrompt
	}
	return &models.Message{Role: models.RoleSystem, Content: models.NewTextContent(preamble)}
}

func (o *Orchestrator) fetchToolCatalog(ctx context.Context, st *turnState) []providers.ChatTool {
	if o.tools == nil {
		return nil
	}
	catalog := o.tools.Catalog()
	if catalog == nil {
		return nil
	}
	openaiTools := catalog.OpenAITools()

	if o.planner != nil {
		tail := conversationTail(st.messages)
		plan, err := o.planner.Plan(ctx, tail, catalog.Summaries())
		if err == nil && plan != nil && !plan.BroadSearch && len(plan.CandidateTools) > 0 {
			openaiTools = narrowTools(openaiTools, plan.CandidateTools)
		}
	}

	return toProviderTools(openaiTools)
}

func narrowTools(tools []mcp.OpenAITool, candidates []string) []mcp.OpenAITool {
	wanted := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		wanted[name] = struct{}{}
	}
	narrowed := make([]mcp.OpenAITool, 0, len(candidates))
	for _, t := range tools {
		if _, ok := wanted[t.Function.Name]; ok {
			narrowed = append(narrowed, t)
		}
	}
	if len(narrowed) == 0 {
		return tools
	}
	return narrowed
}

func conversationTail(messages []*models.Message) string {
	const tailLen = 4
	start := 0
	if len(messages) > tailLen {
		start = len(messages) - tailLen
	}
	var out string
	for _, m := range messages[start:] {
		out += string(m.Role) + ": " + m.Content.PlainText() + "\n"
	}
	return out
}

// consumeTurn drains the provider's SSE body through the streaming
// handler, forwarding text deltas as EventDelta, and returns the
// assembled turn result.
func (o *Orchestrator) consumeTurn(ctx context.Context, st *turnState, body io.ReadCloser) (*streaming.TurnResult, error) {
	onFrameError := func(err error) { o.recordError("streaming", "frame_parse_error") }
	for event := range streaming.Consume(body, onFrameError) {
		switch event.Kind {
		case streaming.EventTextDelta:
			select {
			case st.events <- StreamEvent{
				Kind:      EventDelta,
				SessionID: st.sessionID,
				Delta:     &ChatCompletionChunk{Choices: []ChunkChoice{{Delta: ChunkDelta{Content: event.TextDelta}}}},
			}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case streaming.EventTurnComplete:
			return event.Turn, nil
		case streaming.EventError:
			return nil, event.Err
		}
	}
	return nil, fmt.Errorf("provider stream ended without a terminal event")
}

// finishTurn persists the terminal assistant message, fires title
// generation, and closes out the stream.
func (o *Orchestrator) finishTurn(ctx context.Context, st *turnState, turn *streaming.TurnResult) {
	assistantMsg := &models.Message{
		SessionID: st.sessionID,
		Role:      models.RoleAssistant,
		Content:   models.NewTextContent(turn.Content),
	}
	stored, err := o.repo.AppendMessage(ctx, st.sessionID, assistantMsg)
	if err != nil {
		st.events <- StreamEvent{Kind: EventError, SessionID: st.sessionID, Err: &StreamErrorDetail{
			Reason:  ErrorProviderFailure,
			Message: fmt.Sprintf("persist assistant message: %v", err),
		}}
		st.events <- StreamEvent{Kind: EventDone, SessionID: st.sessionID}
		return
	}
	st.messages = append(st.messages, stored)

	if o.titles != nil {
		if session, err := o.repo.GetSession(ctx, st.sessionID); err == nil {
			currentSource := models.TitleSourceAuto
			if session.Title != nil {
				currentSource = session.TitleSource
			}
			if session.Title == nil || currentSource != models.TitleSourceUser {
				o.titles.GenerateAsync(st.sessionID, currentSource, st.messages)
			}
		}
	}

	st.events <- StreamEvent{Kind: EventDone, SessionID: st.sessionID}
}

// runToolCalls persists the assistant message carrying the batch of tool
// calls, invokes each in order, persists the resulting tool messages (and
// any carried-forward images as a synthetic user message), and emits the
// per-call lifecycle events.
func (o *Orchestrator) runToolCalls(ctx context.Context, st *turnState, turn *streaming.TurnResult) {
	toolCalls := toModelToolCalls(turn.ToolCalls)
	assistantMsg := &models.Message{
		SessionID: st.sessionID,
		Role:      models.RoleAssistant,
		Content:   models.NewTextContent(turn.Content),
		ToolCalls: toolCalls,
	}
	stored, err := o.repo.AppendMessage(ctx, st.sessionID, assistantMsg)
	if err != nil {
		st.events <- StreamEvent{Kind: EventError, SessionID: st.sessionID, Err: &StreamErrorDetail{
			Reason:  ErrorProviderFailure,
			Message: fmt.Sprintf("persist assistant tool-call message: %v", err),
		}}
		st.events <- StreamEvent{Kind: EventDone, SessionID: st.sessionID}
		return
	}
	st.messages = append(st.messages, stored)

	var carriedImages []models.ContentPart
	for _, call := range toolCalls {
		st.events <- StreamEvent{Kind: EventTool, SessionID: st.sessionID, Tool: &ToolEvent{
			CallID: call.ID, Name: call.Name, Status: ToolStatusStarted,
		}}

		// Span attributes and metric labels use the sanitized tool name:
		// raw MCP tool names can carry arbitrary punctuation that otel/
		// Prometheus label values shouldn't.
		sanitizedName := mcp.SanitizeToolPart(call.Name)

		toolStart := time.Now()
		toolCtx, toolSpan := o.startSpan(ctx, "tool_call")
		o.setSpanAttrs(toolSpan, "tool.name", sanitizedName, "tool.call_id", call.ID)

		resultText, isError, images := o.invokeTool(toolCtx, call)
		st.totalToolCalls++

		toolStatus := "success"
		if isError {
			toolStatus = "error"
			o.recordSpanError(toolSpan, fmt.Errorf("%s", resultText))
		}
		toolSpan.End()
		o.recordToolExecution(sanitizedName, toolStatus, time.Since(toolStart).Seconds())

		toolCallID := call.ID
		toolName := call.Name
		toolMsg := &models.Message{
			SessionID:  st.sessionID,
			Role:       models.RoleTool,
			Content:    models.NewTextContent(resultText),
			ToolCallID: &toolCallID,
			ToolName:   &toolName,
		}
		storedTool, err := o.repo.AppendMessage(ctx, st.sessionID, toolMsg)
		if err == nil {
			st.messages = append(st.messages, storedTool)
		}

		status := ToolStatusFinished
		if isError {
			status = ToolStatusError
		}
		st.events <- StreamEvent{Kind: EventTool, SessionID: st.sessionID, Tool: &ToolEvent{
			CallID: call.ID, Name: call.Name, Status: status, Result: truncateResult(resultText),
		}}

		for _, img := range images {
			carriedImages = append(carriedImages, o.persistToolImage(ctx, st.sessionID, img))
		}
	}

	if len(carriedImages) > 0 {
		imageMsg := &models.Message{
			SessionID: st.sessionID,
			Role:      models.RoleUser,
			Content:   models.Content{Parts: carriedImages},
		}
		if stored, err := o.repo.AppendMessage(ctx, st.sessionID, imageMsg); err == nil {
			st.messages = append(st.messages, stored)
		}
	}
}

func (o *Orchestrator) invokeTool(ctx context.Context, call models.ToolCall) (text string, isError bool, images []mcp.ImagePart) {
	if call.Malformed {
		return fmt.Sprintf("tool_malformed_args: could not parse arguments: %s", call.RawArguments), true, nil
	}
	if o.tools == nil {
		return "tool_failure: no tool aggregator configured", true, nil
	}
	var args map[string]any
	if len(call.ArgumentsJSON) > 0 {
		if err := unmarshalArgs(call.ArgumentsJSON, &args); err != nil {
			return fmt.Sprintf("tool_malformed_args: %v", err), true, nil
		}
	}
	result, err := o.tools.Invoke(ctx, call.Name, args)
	if err != nil {
		if invErr, ok := err.(*mcp.InvocationError); ok {
			return fmt.Sprintf("%s: %s", invErr.Kind, invErr.Reason), true, nil
		}
		return err.Error(), true, nil
	}
	return result.Text, result.IsError, result.Images
}

func (o *Orchestrator) persistToolImage(ctx context.Context, sessionID string, img mcp.ImagePart) models.ContentPart {
	part := models.ContentPart{Type: models.ContentPartImageURL, ImageURL: img.URL, MimeType: img.MimeType}
	if o.attachmentSvc == nil {
		return part
	}
	data, mime, ok := decodeDataURL(img.URL)
	if !ok {
		return part
	}
	if mime == "" {
		mime = img.MimeType
	}
	attachment, err := o.attachmentSvc.SaveToolImage(ctx, sessionID, data, mime)
	if err != nil {
		o.logger.Warn("failed to persist tool-generated image", "error", err)
		return part
	}
	part.ImageURL = attachment.SignedURL
	part.AttachmentID = attachment.ID
	return part
}

func truncateResult(text string) string {
	const maxLen = 200
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

func classifyProviderError(err error) *StreamErrorDetail {
	reason := ErrorProviderFailure
	if providerErr, ok := providers.GetProviderError(err); ok {
		switch providerErr.Reason {
		case providers.FailoverAuth:
			reason = ErrorProviderAuth
		case providers.FailoverModelUnavailable:
			reason = ErrorModelNotFound
		}
	}
	return &StreamErrorDetail{Reason: reason, Message: err.Error()}
}
