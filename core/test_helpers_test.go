package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testCommunity      = "cmty_1"
	testFreeShape      = "shape_free"
	testPreauthShape   = "shape_preauth"
	testStarter        = "person_starter"
	testAuthor         = "person_author"
	testStarterAddress = "starter@example.com"
	testAuthorAddress  = "author@example.com"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) counterTotal(name string, tags map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, counter := range m.counters {
		if counter.name != name {
			continue
		}
		matched := true
		for key, value := range tags {
			if counter.tags[key] != value {
				matched = false
				break
			}
		}
		if matched {
			total += counter.value
		}
	}
	return total
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func hasLog(records []capturedLog, level string, msg string) bool {
	for _, record := range records {
		if record.level == level && record.msg == msg {
			return true
		}
	}
	return false
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	return cloneFieldMap(l.values), nil
}

type stubRecipients struct {
	mu         sync.Mutex
	recipients map[string]Recipient
}

func newStubRecipients() *stubRecipients {
	return &stubRecipients{recipients: map[string]Recipient{
		testStarter: {PersonID: testStarter, Locale: "en", Addresses: []string{testStarterAddress}},
		testAuthor:  {PersonID: testAuthor, Locale: "fi", Addresses: []string{testAuthorAddress}},
	}}
}

func (r *stubRecipients) ResolveRecipient(_ context.Context, _ string, personID string) (Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recipient, ok := r.recipients[personID]
	if !ok {
		return Recipient{}, fmt.Errorf("%w: %s", ErrNoAddress, personID)
	}
	return recipient, nil
}

func (r *stubRecipients) set(personID string, recipient Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients[personID] = recipient
}

type captureTransport struct {
	mu       sync.Mutex
	sent     []NotificationRequest
	failures int
	err      error
}

func (t *captureTransport) Send(_ context.Context, req NotificationRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures != 0 {
		if t.failures > 0 {
			t.failures--
		}
		if t.err != nil {
			return t.err
		}
		return fmt.Errorf("transport unavailable")
	}
	t.sent = append(t.sent, req)
	return nil
}

func (t *captureTransport) failNext(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = count
}

func (t *captureTransport) sentKinds() []SideEffectKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SideEffectKind, 0, len(t.sent))
	for _, req := range t.sent {
		out = append(out, req.Kind)
	}
	return out
}

func (t *captureTransport) findSent(kind SideEffectKind) (NotificationRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, req := range t.sent {
		if req.Kind == kind {
			return req, true
		}
	}
	return NotificationRequest{}, false
}

type stubPaymentDetails struct {
	has map[string]bool
}

func (s stubPaymentDetails) HasPaymentDetails(_ context.Context, _ string, personID string, _ PaymentGateway) (bool, error) {
	return s.has[personID], nil
}

type captureAlertSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureAlertSink) Alert(_ context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *captureAlertSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// testClock is a settable clock shared by the service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc        *Service
	store      *MemoryStore
	recipients *stubRecipients
	transport  *captureTransport
	alerts     *captureAlertSink
	metrics    *captureMetricsRecorder
	logger     *captureLogger
	clock      *testClock
}

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		store:      NewMemoryStore(),
		recipients: newStubRecipients(),
		transport:  &captureTransport{},
		alerts:     &captureAlertSink{},
		metrics:    &captureMetricsRecorder{},
		logger:     newCaptureLogger(),
		clock:      newTestClock(),
	}
	fixture.store.Now = fixture.clock.Now
	base := []Option{
		WithRepositoryFactory(fixture.store),
		WithRecipientResolver(fixture.recipients),
		WithNotificationTransport(fixture.transport),
		WithAlertSink(fixture.alerts),
		WithMetricsRecorder(fixture.metrics),
		WithLogger(fixture.logger),
		WithLoggerProvider(stubLoggerProvider{logger: fixture.logger}),
		WithClock(fixture.clock.Now),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.svc = svc
	ctx := context.Background()
	if _, err := svc.PublishProcess(ctx, DefaultFreeProcess(testCommunity, testFreeShape)); err != nil {
		t.Fatalf("publish free process: %v", err)
	}
	if _, err := svc.PublishProcess(ctx, DefaultPreauthorizeProcess(testCommunity, testPreauthShape)); err != nil {
		t.Fatalf("publish preauthorize process: %v", err)
	}
	return fixture
}

func (f *serviceFixture) provisionStripe(t *testing.T) {
	t.Helper()
	_, err := f.svc.ProvisionGatewaySettings(context.Background(), GatewaySettings{
		CommunityID: testCommunity,
		Gateway:     PaymentGatewayStripe,
		ProcessKind: ProcessKindPreauthorize,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("provision stripe: %v", err)
	}
}

func (f *serviceFixture) initiate(t *testing.T, shape string) Transaction {
	t.Helper()
	tx, _, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CommunityID:    testCommunity,
		ListingID:      "listing_1",
		ListingShapeID: shape,
		StarterID:      testStarter,
		AuthorID:       testAuthor,
		Actor:          testStarter,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return tx
}

func (f *serviceFixture) transition(t *testing.T, txID string, to State, actor string) TransitionRecord {
	t.Helper()
	record, err := f.svc.Transition(context.Background(), TransitionRequest{
		TransactionID: txID,
		ToState:       to,
		Actor:         actor,
	})
	if err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
	return record
}

func (f *serviceFixture) dispatchesFor(t *testing.T, transitionID string) []DispatchRecord {
	t.Helper()
	records, err := f.store.DispatchStore().ListByTransition(context.Background(), transitionID)
	if err != nil {
		t.Fatalf("list dispatches: %v", err)
	}
	return records
}

func findDispatch(records []DispatchRecord, kind SideEffectKind) (DispatchRecord, bool) {
	for _, rec := range records {
		if rec.Kind == kind {
			return rec, true
		}
	}
	return DispatchRecord{}, false
}

func containsKind(kinds []SideEffectKind, kind SideEffectKind) bool {
	for _, candidate := range kinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

func hasPrefixKey(metadata map[string]any, prefix string) bool {
	for key := range metadata {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
