// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appaws "drivethru-orchestrator/internal/common/aws"
	"drivethru-orchestrator/internal/common/camunda"
	"drivethru-orchestrator/internal/common/logger"
	"drivethru-orchestrator/internal/conversation/dialogue"
	"drivethru-orchestrator/internal/conversation/intent"
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/resolver"
	"drivethru-orchestrator/internal/conversation/session"
	"drivethru-orchestrator/internal/conversation/sessionlog"
	"drivethru-orchestrator/internal/conversation/upsell"

	processturn "drivethru-orchestrator/internal/workers/conversation/process-turn"
	submitorder "drivethru-orchestrator/internal/workers/conversation/submit-order"
)

const ticketTopic = "arn:aws:sns:us-east-1:123456789012:kitchen-tickets"

// Logger adapters to bridge logger.Logger to worker-specific Logger interfaces
type processTurnLoggerAdapter struct {
	logger.Logger
}

func (a *processTurnLoggerAdapter) With(fields map[string]interface{}) processturn.Logger {
	return &processTurnLoggerAdapter{a.Logger.With(fields)}
}

type submitOrderLoggerAdapter struct {
	logger.Logger
}

func (a *submitOrderLoggerAdapter) With(fields map[string]interface{}) submitorder.Logger {
	return &submitOrderLoggerAdapter{a.Logger.With(fields)}
}

// ==========================
// Stack
// ==========================

// nluScript answers parse-intent calls from a fixed utterance table.
type nluScript struct {
	mu      sync.Mutex
	script  map[string]intent.Raw
	down    bool
	queries []string
}

func (n *nluScript) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.queries = append(n.queries, req.Query)
	down := n.down
	raw, ok := n.script[req.Query]
	n.mu.Unlock()

	if down {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		raw = intent.Raw{Intent: "unknown"}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(raw)
}

type recordingWriter struct {
	mu      sync.Mutex
	records []sessionlog.Record
}

func (w *recordingWriter) Name() string { return "recording" }

func (w *recordingWriter) Write(_ context.Context, r sessionlog.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r)
	return nil
}

type kitchenSNS struct {
	mu     sync.Mutex
	inputs []*sns.PublishInput
}

func (k *kitchenSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.inputs = append(k.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("kitchen-1")}, nil
}

type stack struct {
	nlu     *nluScript
	redis   *miniredis.Miniredis
	turns   *recordingWriter
	sink    *sessionlog.Sink
	kitchen *kitchenSNS
	manager *session.Manager
	process *processturn.Handler
	submit  *submitorder.Handler
}

var utterances = map[string]intent.Raw{
	"two crunchy tacos":       {Intent: "add_item", Item: "crunchy taco", Quantity: 2},
	"and a baja blast":        {Intent: "add_item", Item: "baja blast"},
	"no lettuce on the tacos": {Intent: "modify_item", ItemReference: "tacos", Modification: "no lettuce"},
	"that's all":              {Intent: "end_order"},
	"yes":                     {Intent: "confirm"},
	"a taco":                  {Intent: "add_item", Item: "taco"},
	"the second one":          {Intent: "select", Ordinal: "second"},
	"a pepperoni pizza":       {Intent: "add_item", Item: "pepperoni pizza"},
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)

	catalog, err := menu.LoadDefault()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	scorer := resolver.NewCachedScorer(resolver.NewLexicalScorer(), rdb, 10*time.Minute, log)

	res := resolver.New(catalog, scorer, resolver.DefaultPolicy())
	machine := dialogue.NewMachine(catalog, res, dialogue.DefaultConfig()).
		WithUpsell(upsell.NewSuggester(catalog, upsell.DefaultRules()))

	nlu := &nluScript{script: utterances}
	nluServer := httptest.NewServer(nlu)
	t.Cleanup(nluServer.Close)
	classifier := intent.NewClient(&intent.ClientConfig{
		GenAIBaseURL: nluServer.URL,
		APIKey:       "test-key",
		Timeout:      2 * time.Second,
	}, log)

	turns := &recordingWriter{}
	sink := sessionlog.NewSink(64, log, sessionlog.NewLogWriter(log), turns)

	manager := session.NewManager(
		session.DefaultConfig(),
		catalog,
		machine,
		intent.NewNormalizer(intent.NormalizerConfig{MinConfidence: 0.3}),
		classifier,
		log,
	).WithSink(sink)

	kitchen := &kitchenSNS{}
	tickets := session.NewTicketPublisher(appaws.NewSNSClientFromAPI(kitchen), ticketTopic)

	return &stack{
		nlu:     nlu,
		redis:   mr,
		turns:   turns,
		sink:    sink,
		kitchen: kitchen,
		manager: manager,
		process: processturn.NewHandler(processturn.LoadConfig(), manager, &processTurnLoggerAdapter{log}),
		submit:  submitorder.NewHandler(submitorder.LoadConfig(), manager, tickets, &submitOrderLoggerAdapter{log}),
	}
}

func (s *stack) say(t *testing.T, id, text string) *processturn.Output {
	t.Helper()
	out, err := s.process.Execute(context.Background(), &processturn.Input{SessionID: id, Text: text})
	require.NoError(t, err)
	return out
}

func (s *stack) flush(t *testing.T) []sessionlog.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.sink.Close(ctx))

	s.turns.mu.Lock()
	defer s.turns.mu.Unlock()
	return append([]sessionlog.Record(nil), s.turns.records...)
}

// ==========================
// Scenarios
// ==========================

func TestDriveThru_OrderToKitchen(t *testing.T) {
	s := newStack(t)
	id := s.manager.Start(context.Background()).SessionID

	out := s.say(t, id, "two crunchy tacos")
	assert.Equal(t, "confirmation", out.DirectiveKind)
	require.NotNil(t, out.Directive.Suggestion)
	assert.Equal(t, "cravings-box", out.Directive.Suggestion.ID)

	out = s.say(t, id, "and a baja blast")
	assert.Equal(t, int64(527), out.TotalCents)

	out = s.say(t, id, "no lettuce on the tacos")
	assert.Equal(t, "item_modified", out.DirectiveKind)

	out = s.say(t, id, "that's all")
	assert.Equal(t, "summary", out.DirectiveKind)
	assert.Equal(t, "awaiting_confirmation", out.State)
	assert.Len(t, out.Directive.Lines, 2)

	out = s.say(t, id, "yes")
	assert.Equal(t, "order_accepted", out.DirectiveKind)
	assert.True(t, out.OrderClosed)

	submitted, err := s.submit.Execute(context.Background(), &submitorder.Input{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, "kitchen-1", submitted.MessageID)
	assert.Equal(t, int64(527), submitted.TotalCents)
	assert.Equal(t, 2, submitted.LineCount)

	require.Len(t, s.kitchen.inputs, 1)
	var ticket session.Ticket
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(s.kitchen.inputs[0].Message)), &ticket))
	assert.Equal(t, "$5.27", ticket.Display)
	assert.Equal(t, []string{"no lettuce"}, ticket.Lines[0].Modifications)

	// Every menu lookup went through the score cache.
	var cached int
	for _, key := range s.redis.Keys() {
		if strings.HasPrefix(key, "drivethru:similarity:") {
			cached++
		}
	}
	assert.Greater(t, cached, 0)

	records := s.flush(t)
	require.Len(t, records, 5)
	assert.Equal(t, "add_item", records[0].Intent)
	assert.Equal(t, "order_accepted", records[4].Directive)
	assert.Equal(t, int64(527), records[4].Total)
}

func TestDriveThru_ClarifyThenAccept(t *testing.T) {
	s := newStack(t)
	id := s.manager.Start(context.Background()).SessionID

	out := s.say(t, id, "a taco")
	assert.Equal(t, "disambiguation", out.DirectiveKind)
	assert.Equal(t, "awaiting_clarification", out.State)
	require.Len(t, out.Directive.Candidates, 3)
	assert.Equal(t, "soft-taco", out.Directive.Candidates[1].ID)

	out = s.say(t, id, "the second one")
	assert.Equal(t, "confirmation", out.DirectiveKind)
	assert.Equal(t, "soft-taco", out.Directive.Item.ID)
	assert.Equal(t, "ordering", out.State)

	s.say(t, id, "that's all")
	out = s.say(t, id, "yes")
	assert.True(t, out.OrderClosed)
}

func TestDriveThru_NotOnMenuRecovers(t *testing.T) {
	s := newStack(t)
	id := s.manager.Start(context.Background()).SessionID

	out := s.say(t, id, "a pepperoni pizza")
	assert.Equal(t, "not_on_menu", out.DirectiveKind)

	out = s.say(t, id, "two crunchy tacos")
	assert.Equal(t, "confirmation", out.DirectiveKind)

	diag, err := s.manager.Diagnostics(id)
	require.NoError(t, err)
	assert.Equal(t, 0, diag.Repair.ResolutionFailures)
}

func TestDriveThru_LanguageServiceOutageEscalates(t *testing.T) {
	s := newStack(t)
	id := s.manager.Start(context.Background()).SessionID
	s.say(t, id, "two crunchy tacos")

	s.nlu.mu.Lock()
	s.nlu.down = true
	s.nlu.mu.Unlock()

	out := s.say(t, id, "and a baja blast")
	assert.Equal(t, "reprompt", out.DirectiveKind)
	assert.Equal(t, "Sorry, could you say that again?", out.Directive.Message)

	out = s.say(t, id, "and a baja blast")
	assert.Equal(t, "escalation", out.DirectiveKind)

	// The order taken before the outage is intact.
	assert.Equal(t, int64(298), out.TotalCents)
}

func TestDriveThru_SubmitBeforeAccepted(t *testing.T) {
	s := newStack(t)
	id := s.manager.Start(context.Background()).SessionID
	s.say(t, id, "two crunchy tacos")

	_, err := s.submit.Execute(context.Background(), &submitorder.Input{SessionID: id})
	require.Error(t, err)
	assert.Empty(t, s.kitchen.inputs)
}

// ==========================
// Live broker
// ==========================

// TestZeebeTopology runs only when ZEEBE_ADDRESS points at a reachable gateway.
func TestZeebeTopology(t *testing.T) {
	addr := os.Getenv("ZEEBE_ADDRESS")
	if addr == "" {
		t.Skip("ZEEBE_ADDRESS not set")
	}

	client, err := camunda.NewClient(addr)
	require.NoError(t, err, "❌ Zeebe connection failed")
	defer client.Close()

	log := logger.NewTestLogger(t)
	s := newStack(t)
	w := camunda.NewWorker(client.GetClient(), camunda.JobSpec{TaskType: processturn.TaskType, MaxJobsActive: 1, Timeout: 5 * time.Second}, s.process, log)
	w.Start()
	w.Stop(context.Background())
	t.Log("✅ Zeebe connected")
}

// ==========================
// Benchmarks
// ==========================

func BenchmarkProcessTurn(b *testing.B) {
	catalog, err := menu.LoadDefault()
	require.NoError(b, err)

	res := resolver.New(catalog, resolver.NewLexicalScorer(), resolver.DefaultPolicy())
	machine := dialogue.NewMachine(catalog, res, dialogue.DefaultConfig())
	manager := session.NewManager(
		session.DefaultConfig(),
		catalog,
		machine,
		intent.NewNormalizer(intent.NormalizerConfig{MinConfidence: 0.3}),
		nil,
		logger.NewNoOpLogger(),
	)
	raw := &intent.Raw{Intent: "add_item", Item: "bean burrito"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := manager.Start(context.Background()).SessionID
		if _, err := manager.Turn(context.Background(), id, session.TurnInput{Text: "a bean burrito", Raw: raw}); err != nil {
			b.Fatal(err)
		}
		manager.End(id)
	}
}
