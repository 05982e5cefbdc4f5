// Package session owns the live conversations of a store. Each session holds one dialogue
// Conversation behind its own mutex, so turns of one conversation run strictly one after the
// other while different conversations never wait on each other.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "drivethru-orchestrator/internal/common/errors"
	"drivethru-orchestrator/internal/common/logger"
	"drivethru-orchestrator/internal/common/metrics"
	"drivethru-orchestrator/internal/common/observability"
	"drivethru-orchestrator/internal/conversation/dialogue"
	"drivethru-orchestrator/internal/conversation/intent"
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/repair"
	"drivethru-orchestrator/internal/conversation/sessionlog"
)

// Classifier is the language-understanding service.
type Classifier interface {
	Classify(ctx context.Context, text string, convCtx map[string]interface{}) (intent.Raw, error)
}

type RecordEmitter interface {
	Emit(r sessionlog.Record) bool
}

// DirectivePublisher fans directives out to the lane terminals.
type DirectivePublisher interface {
	PublishDirective(ctx context.Context, sessionID string, directive interface{}) error
}

// AcceptanceNotifier is told about every accepted order.
type AcceptanceNotifier interface {
	OrderAccepted(ctx context.Context, t Ticket) error
}

type Config struct {
	// TurnTimeout bounds a whole turn including collaborator calls. 0 disables it.
	TurnTimeout      time.Duration
	IdleTTL          time.Duration
	MinASRConfidence float64
	Repair           repair.Config
}

func DefaultConfig() Config {
	return Config{
		TurnTimeout:      8 * time.Second,
		IdleTTL:          10 * time.Minute,
		MinASRConfidence: 0.5,
		Repair:           repair.DefaultConfig(),
	}
}

type Manager struct {
	config     Config
	catalog    *menu.Catalog
	machine    *dialogue.Machine
	normalizer *intent.Normalizer
	classifier Classifier
	logger     logger.Logger

	sink      RecordEmitter
	lanes     DirectivePublisher
	notifier  AcceptanceNotifier
	obs       *observability.Observability
	publishTO time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	bg       sync.WaitGroup
}

type session struct {
	mu         sync.Mutex
	id         string
	conv       *dialogue.Conversation
	last       *dialogue.Directive
	ticket     *Ticket
	createdAt  time.Time
	lastActive time.Time
	ended      bool
}

func NewManager(
	config Config,
	catalog *menu.Catalog,
	machine *dialogue.Machine,
	normalizer *intent.Normalizer,
	classifier Classifier,
	log logger.Logger,
) *Manager {
	return &Manager{
		config:     config,
		catalog:    catalog,
		machine:    machine,
		normalizer: normalizer,
		classifier: classifier,
		logger:     log,
		obs:        &observability.Observability{},
		publishTO:  5 * time.Second,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

func (m *Manager) WithSink(sink RecordEmitter) *Manager {
	m.sink = sink
	return m
}

func (m *Manager) WithDirectivePublisher(p DirectivePublisher) *Manager {
	m.lanes = p
	return m
}

func (m *Manager) WithAcceptanceNotifier(n AcceptanceNotifier) *Manager {
	m.notifier = n
	return m
}

func (m *Manager) WithObservability(obs *observability.Observability) *Manager {
	if obs != nil {
		m.obs = obs
	}
	return m
}

// ==========================
// Results
// ==========================

// TurnResult carries one directive per intent applied in the turn; Directive is the last.
type TurnResult struct {
	SessionID  string               `json:"sessionId"`
	Directive  dialogue.Directive   `json:"directive"`
	Directives []dialogue.Directive `json:"directives"`
	State      dialogue.StateKind   `json:"state"`
	Total      menu.Cents           `json:"totalCents"`
	Intents    []intent.Kind        `json:"intents"`
}

type Snapshot struct {
	SessionID     string                 `json:"sessionId"`
	State         dialogue.StateKind     `json:"state"`
	Turns         int                    `json:"turns"`
	Lines         []dialogue.SummaryLine `json:"lines"`
	Total         menu.Cents             `json:"totalCents"`
	Display       string                 `json:"total"`
	LastDirective *dialogue.Directive    `json:"lastDirective,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastActive    time.Time              `json:"lastActive"`
}

type Diagnostics struct {
	Snapshot
	PendingPhrase     string             `json:"pendingPhrase,omitempty"`
	PendingCandidates []dialogue.ItemRef `json:"pendingCandidates,omitempty"`
	Repair            repair.Stats       `json:"repair"`
}

// ==========================
// Lifecycle
// ==========================

// Start opens a new conversation in the greeting state.
func (m *Manager) Start(ctx context.Context) TurnResult {
	_, span := m.obs.StartSpan(ctx, "conversation.start")
	defer span.End()

	now := m.now()
	s := &session{
		id:         uuid.NewString(),
		conv:       dialogue.NewConversation(m.catalog, m.config.Repair),
		createdAt:  now,
		lastActive: now,
	}
	greeted := dialogue.Directive{Kind: dialogue.DirectiveGreeted}
	s.last = &greeted

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	m.logger.Info("session started", map[string]interface{}{"sessionId": s.id})
	m.publishDirective(s.id, greeted)

	return TurnResult{
		SessionID:  s.id,
		Directive:  greeted,
		Directives: []dialogue.Directive{greeted},
		State:      s.conv.State.Kind,
	}
}

// Reset starts a new conversation on an existing session id.
func (m *Manager) Reset(id string) (Snapshot, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()

	s.conv = dialogue.NewConversation(m.catalog, m.config.Repair)
	s.last = nil
	s.ticket = nil
	s.lastActive = m.now()

	m.logger.Info("session reset", map[string]interface{}{"sessionId": id})
	return snapshotOf(s), nil
}

// End closes a session. Turns waiting on it fail with SESSION_NOT_FOUND.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return apperrors.NewSessionNotFoundError(id)
	}

	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	metrics.ActiveSessions.Dec()

	m.logger.Info("session ended", map[string]interface{}{"sessionId": id})
	return nil
}

// Sweep ends sessions idle for longer than the configured TTL and returns how many it ended.
// A session with a turn in flight is never swept.
func (m *Manager) Sweep() int {
	if m.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.config.IdleTTL)

	m.mu.RLock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	swept := 0
	for _, s := range candidates {
		if !s.mu.TryLock() {
			continue
		}
		idle := !s.ended && s.lastActive.Before(cutoff)
		if idle {
			s.ended = true
		}
		s.mu.Unlock()
		if !idle {
			continue
		}

		m.mu.Lock()
		cur, ok := m.sessions[s.id]
		removed := ok && cur == s
		if removed {
			delete(m.sessions, s.id)
		}
		m.mu.Unlock()
		if removed {
			metrics.ActiveSessions.Dec()
			swept++
		}
	}

	if swept > 0 {
		m.logger.Info("idle sessions swept", map[string]interface{}{"count": swept})
	}
	return swept
}

// Run sweeps idle sessions every interval until ctx is done. A non-positive interval sweeps
// twice per idle TTL.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.config.IdleTTL / 2
	}
	if interval <= 0 {
		interval = DefaultConfig().IdleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close waits for in-flight publishes.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ==========================
// Reads
// ==========================

func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()
	return snapshotOf(s), nil
}

func (m *Manager) Diagnostics(id string) (Diagnostics, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Diagnostics{}, err
	}
	defer s.mu.Unlock()

	d := Diagnostics{Snapshot: snapshotOf(s), Repair: s.conv.Policy.Stats()}
	if p := s.conv.State.Pending; p != nil {
		d.PendingPhrase = p.Reference.Phrase
		for _, c := range p.Reference.Candidates {
			d.PendingCandidates = append(d.PendingCandidates, dialogue.ItemRef{
				ID: c.Item.ID, Name: c.Item.Name, Price: c.Item.Price,
			})
		}
	}
	return d, nil
}

// Ticket returns the kitchen ticket of an accepted order.
func (m *Manager) Ticket(id string) (Ticket, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Ticket{}, err
	}
	defer s.mu.Unlock()

	if s.ticket == nil {
		return Ticket{}, apperrors.NewOrderNotAcceptedError(id, string(s.conv.State.Kind))
	}
	return *s.ticket, nil
}

func snapshotOf(s *session) Snapshot {
	total := s.conv.Order.Total()
	return Snapshot{
		SessionID:     s.id,
		State:         s.conv.State.Kind,
		Turns:         s.conv.Turns,
		Lines:         dialogue.Lines(s.conv.Order),
		Total:         total,
		Display:       total.String(),
		LastDirective: s.last,
		CreatedAt:     s.createdAt,
		LastActive:    s.lastActive,
	}
}

// acquire returns the session locked.
func (m *Manager) acquire(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(id)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	return s, nil
}

// ==========================
// Turns
// ==========================

// Turn runs one customer utterance through understanding, resolution and the dialogue
// machine. The session is updated only if the whole turn completes; an abandoned turn
// returns TURN_CANCELLED and leaves the session as it was.
func (m *Manager) Turn(ctx context.Context, id string, in TurnInput) (TurnResult, error) {
	start := time.Now()

	s, err := m.acquire(id)
	if err != nil {
		return TurnResult{}, err
	}
	defer s.mu.Unlock()

	if m.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.TurnTimeout)
		defer cancel()
	}
	ctx, span := m.obs.StartSpan(ctx, "conversation.turn",
		attribute.String("session.id", id),
		attribute.String("state", string(s.conv.State.Kind)),
	)
	defer span.End()

	intents, err := m.understand(ctx, s.conv, in)
	if err != nil {
		return TurnResult{}, m.cancelled(ctx, id, start, err)
	}

	conv := s.conv
	results := make([]dialogue.Result, 0, len(intents))
	for _, it := range intents {
		res, err := m.machine.Apply(ctx, conv, it)
		if err != nil {
			return TurnResult{}, m.cancelled(ctx, id, start, err)
		}
		conv = res.Conversation
		results = append(results, res)

		if k := conv.State.Kind; k == dialogue.StateAwaitingClarification || k.IsTerminal() {
			break
		}
	}

	// Commit.
	now := m.now()
	accepted := s.conv.State.Kind != dialogue.StateClosed && conv.State.Kind == dialogue.StateClosed
	s.conv = conv
	s.lastActive = now
	last := results[len(results)-1].Directive
	s.last = &last
	if accepted {
		total := conv.Order.Total()
		s.ticket = &Ticket{
			TicketID:   uuid.NewString(),
			SessionID:  id,
			Lines:      dialogue.Lines(conv.Order),
			Total:      total,
			Display:    total.String(),
			AcceptedAt: now,
		}
	}

	out := TurnResult{
		SessionID: id,
		Directive: last,
		State:     conv.State.Kind,
		Total:     conv.Order.Total(),
	}
	for _, res := range results {
		out.Directives = append(out.Directives, res.Directive)
		out.Intents = append(out.Intents, res.Intent)
		m.record(ctx, id, res)
	}

	span.SetAttributes(
		attribute.String("next_state", string(out.State)),
		attribute.String("directive", string(last.Kind)),
	)
	metrics.TurnDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
	m.obs.RecordTurnDuration(ctx, time.Since(start), "completed")

	m.logger.Info("turn processed", map[string]interface{}{
		"sessionId":  id,
		"turn":       conv.Turns,
		"intents":    len(results),
		"state":      string(out.State),
		"directive":  string(last.Kind),
		"totalCents": int64(out.Total),
	})

	m.publishDirective(id, last)
	if accepted {
		metrics.OrdersAccepted.Inc()
		m.notifyAccepted(*s.ticket)
	}
	return out, nil
}

// understand turns the input into intents. It returns an error only when ctx is done.
func (m *Manager) understand(ctx context.Context, conv *dialogue.Conversation, in TurnInput) ([]intent.Intent, error) {
	if u, ok := precheck(in, m.config.MinASRConfidence); ok {
		return []intent.Intent{u}, nil
	}

	phase := intent.Phase(conv.State.Kind)
	if conv.State.Kind == dialogue.StateAwaitingClarification {
		phase = intent.PhaseAwaitingClarification
	}

	if in.Raw != nil {
		raw := *in.Raw
		if raw.Text == "" {
			raw.Text = in.Text
		}
		return m.normalizer.NormalizeAll(raw, phase), nil
	}

	text := in.Text
	if m.classifier == nil {
		return []intent.Intent{intent.Unknown{RawText: text, Reason: intent.ReasonUnavailable}}, nil
	}

	raw, err := m.classifier.Classify(ctx, text, classifierContext(conv))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		stdErr := apperrors.Normalize(err)
		m.logger.Warn("language understanding unavailable", map[string]interface{}{
			"errorCode": stdErr.Code,
			"category":  apperrors.GetErrorCategory(stdErr.Code),
			"error":     err.Error(),
		})
		return []intent.Intent{intent.Unknown{RawText: text, Reason: intent.ReasonUnavailable}}, nil
	}
	if raw.Text == "" {
		raw.Text = text
	}
	return m.normalizer.NormalizeAll(raw, phase), nil
}

func classifierContext(conv *dialogue.Conversation) map[string]interface{} {
	items := conv.Order.Items()
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	out := map[string]interface{}{
		"state":      string(conv.State.Kind),
		"orderItems": names,
	}
	if p := conv.State.Pending; p != nil {
		candidates := make([]string, len(p.Reference.Candidates))
		for i, c := range p.Reference.Candidates {
			candidates[i] = c.Item.Name
		}
		out["candidates"] = candidates
	}
	return out
}

func (m *Manager) cancelled(ctx context.Context, id string, start time.Time, err error) error {
	metrics.TurnDuration.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
	m.obs.RecordTurnDuration(ctx, time.Since(start), "cancelled")
	m.logger.Warn("turn abandoned", map[string]interface{}{
		"sessionId": id,
		"error":     err.Error(),
	})
	return apperrors.NewTurnCancelledError(id, err)
}

func (m *Manager) record(ctx context.Context, id string, res dialogue.Result) {
	metrics.TurnsProcessed.WithLabelValues(string(res.Intent), string(res.Directive.Kind)).Inc()
	if res.Resolution != "" {
		metrics.ResolutionOutcomes.WithLabelValues(string(res.Resolution)).Inc()
	}
	if res.Failure != "" {
		metrics.RepairActions.WithLabelValues(string(res.Failure), string(res.Action)).Inc()
	}
	m.obs.RecordTurn(ctx, string(res.Intent), string(res.Directive.Kind))

	if m.sink == nil {
		return
	}
	m.sink.Emit(sessionlog.Record{
		SessionID:  id,
		Turn:       res.Conversation.Turns,
		Intent:     string(res.Intent),
		Resolution: string(res.Resolution),
		State:      string(res.Conversation.State.Kind),
		Directive:  string(res.Directive.Kind),
		Failure:    string(res.Failure),
		Action:     string(res.Action),
		Total:      int64(res.Conversation.Order.Total()),
		Timestamp:  m.now().UTC(),
	})
}

func (m *Manager) publishDirective(id string, d dialogue.Directive) {
	if m.lanes == nil {
		return
	}
	m.background(func(ctx context.Context) {
		if err := m.lanes.PublishDirective(ctx, id, d); err != nil {
			m.logger.Warn("directive publish failed", map[string]interface{}{
				"sessionId": id,
				"error":     err.Error(),
			})
		}
	})
}

func (m *Manager) notifyAccepted(t Ticket) {
	if m.notifier == nil {
		return
	}
	m.background(func(ctx context.Context) {
		if err := m.notifier.OrderAccepted(ctx, t); err != nil {
			m.logger.Error("order acceptance notification failed", map[string]interface{}{
				"sessionId": t.SessionID,
				"ticketId":  t.TicketID,
				"error":     err.Error(),
			})
			return
		}
		m.logger.Info("kitchen ticket published", map[string]interface{}{
			"sessionId": t.SessionID,
			"ticketId":  t.TicketID,
		})
	})
}

func (m *Manager) background(fn func(ctx context.Context)) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.publishTO)
		defer cancel()
		fn(ctx)
	}()
}
