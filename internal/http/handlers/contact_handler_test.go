package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-venue-backend/internal/backup"
	"github.com/tbourn/go-venue-backend/internal/http/middleware"
	"github.com/tbourn/go-venue-backend/internal/mail"
	"github.com/tbourn/go-venue-backend/internal/services"
)

// ---------- test plumbing ----------

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&syncWriter{w: &buf})
	return &buf
}

// syncWriter serializes writes from concurrent requests.
type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// stubStrategy is a scripted mail.Strategy.
type stubStrategy struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
	msgs  []*mail.Message
	order *[]string
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Send(_ context.Context, msg *mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.msgs = append(s.msgs, msg)
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	return s.err
}

func (s *stubStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memIdem is an in-memory IdempotencyStore that also backs the lookup.
type memIdem struct {
	mu      sync.Mutex
	recs    map[string]middleware.StoredResponse
	pending map[string]bool
}

func (m *memIdem) Reserve(_ context.Context, key string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.recs[key]; done || m.pending[key] {
		return ErrKeyInUse
	}
	if m.pending == nil {
		m.pending = map[string]bool{}
	}
	m.pending[key] = true
	return nil
}

func (m *memIdem) Remember(_ context.Context, key string, status int, success bool, msg string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = map[string]middleware.StoredResponse{}
	}
	delete(m.pending, key)
	m.recs[key] = middleware.StoredResponse{Status: status, Success: success, Message: msg}
	return nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

func (m *memIdem) lookup(_ context.Context, key string, _ time.Time) (*middleware.StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sr, ok := m.recs[key]; ok {
		return &sr, nil
	}
	return nil, nil
}

type fixture struct {
	dir        string
	strategies []*stubStrategy
	idem       *memIdem
	router     *gin.Engine
}

// newFixture wires the real service, backup store and dispatcher behind the
// handler, with stub mail strategies failing per errs.
func newFixture(t *testing.T, errs ...error) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{dir: filepath.Join(t.TempDir(), "contact-submissions"), idem: &memIdem{}}
	names := []string{"smtps", "service", "starttls"}
	var ss []mail.Strategy
	for i, err := range errs {
		s := &stubStrategy{name: names[i%len(names)], err: err}
		f.strategies = append(f.strategies, s)
		ss = append(ss, s)
	}
	svc := services.NewSubmissionService(
		backup.New(f.dir),
		mail.NewDispatcher(time.Second, ss...),
		mail.Addressing{From: "site@example.com", FromName: "Venue Website", To: "ops@example.com"},
	)
	h := NewContactHandler(svc, f.idem, time.Hour)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, f.idem.lookup))
	r.Any("/api/contact", h.Submit)
	f.router = r
	return f
}

func (f *fixture) post(t *testing.T, body string, hdr ...string) (*httptest.ResponseRecorder, ContactResponse) {
	t.Helper()
	return f.do(t, http.MethodPost, body, hdr...)
}

func (f *fixture) do(t *testing.T, method, body string, hdr ...string) (*httptest.ResponseRecorder, ContactResponse) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/contact", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp ContactResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json body %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	files, err := backup.New(f.dir).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return files
}

func (f *fixture) totalSends() int {
	n := 0
	for _, s := range f.strategies {
		n += s.Calls()
	}
	return n
}

const janeBody = `{"fullName":"Jane Doe","email":"jane@example.com","phone":"555-1234","guestCount":"10"}`

// ---------- tests ----------

func TestSubmit_Success_WritesOneFileAndSendsOnce(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	w, resp := f.post(t, janeBody)
	if w.Code != http.StatusOK || !resp.Success || resp.Message != MsgSent {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if files := f.files(t); len(files) != 1 {
		t.Fatalf("want 1 file, got %v", files)
	}
	if got := []int{f.strategies[0].Calls(), f.strategies[1].Calls(), f.strategies[2].Calls()}; got[0] != 1 || got[1] != 0 || got[2] != 0 {
		t.Fatalf("strategy calls = %v, want [1 0 0]", got)
	}
	msg := f.strategies[0].msgs[0]
	if msg.ReplyTo != "jane@example.com" || !strings.Contains(msg.HTML, "Jane Doe") {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSubmit_MissingRequired_400_NoSideEffects(t *testing.T) {
	cases := map[string]string{
		"no name":     `{"email":"a@b.c","phone":"1"}`,
		"blank email": `{"fullName":"A","email":"   ","phone":"1"}`,
		"no phone":    `{"fullName":"A","email":"a@b.c"}`,
		"empty":       `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			w, resp := f.post(t, body)
			if w.Code != http.StatusBadRequest || resp.Success || resp.Message != MsgMissingFields {
				t.Fatalf("got %d %+v", w.Code, resp)
			}
			if len(f.files(t)) != 0 || f.totalSends() != 0 {
				t.Fatalf("expected no side effects")
			}
		})
	}
}

func TestSubmit_MalformedJSON_400(t *testing.T) {
	f := newFixture(t, nil)
	w, resp := f.post(t, `{"fullName":`)
	if w.Code != http.StatusBadRequest || resp.Message != MsgInvalidBody {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if len(f.files(t)) != 0 || f.totalSends() != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestSubmit_NonPost_405(t *testing.T) {
	f := newFixture(t, nil)
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		w, resp := f.do(t, m, janeBody)
		if w.Code != http.StatusMethodNotAllowed || resp.Success || resp.Message != "Method not allowed" {
			t.Fatalf("%s: got %d %+v", m, w.Code, resp)
		}
	}
	if len(f.files(t)) != 0 || f.totalSends() != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestSubmit_FallsOverInOrder(t *testing.T) {
	var order []string
	f := newFixture(t, errors.New("tls"), errors.New("auth"), nil)
	for _, s := range f.strategies {
		s.order = &order
	}

	w, resp := f.post(t, janeBody)
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if strings.Join(order, ",") != "smtps,service,starttls" {
		t.Fatalf("order = %v", order)
	}
}

func TestSubmit_AllFail_500_SavedMessage_AndFileContent(t *testing.T) {
	buf := captureLogs(t)
	f := newFixture(t, errors.New("fail-one"), errors.New("fail-two"), errors.New("fail-three"))

	w, resp := f.post(t, janeBody)
	if w.Code != http.StatusInternalServerError || resp.Success || !strings.Contains(resp.Message, "saved") {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	files := f.files(t)
	if len(files) != 1 {
		t.Fatalf("want 1 file, got %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]string
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec["fullName"] != "Jane Doe" || rec["guestCount"] != "10" {
		t.Fatalf("unexpected record: %v", rec)
	}
	logs := buf.String()
	for _, want := range []string{"fail-one", "fail-two", "fail-three"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("aggregated error missing %q in logs:\n%s", want, logs)
		}
	}
}

func TestSubmit_BackupFails_StillDelivers(t *testing.T) {
	f := newFixture(t, nil)
	// Make the submissions dir path a regular file.
	if err := os.WriteFile(f.dir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, resp := f.post(t, janeBody)
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if f.totalSends() != 1 {
		t.Fatalf("expected one send, got %d", f.totalSends())
	}
}

func TestSubmit_BackupAndDeliveryFail_NotCapturedMessage(t *testing.T) {
	f := newFixture(t, errors.New("down"))
	if err := os.WriteFile(f.dir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, resp := f.post(t, janeBody)
	if w.Code != http.StatusInternalServerError || resp.Message != MsgNotCaptured {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
}

func TestSubmit_GuestCountAsNumber(t *testing.T) {
	f := newFixture(t, nil)
	w, _ := f.post(t, `{"fullName":"A","email":"a@b.c","phone":"1","guestCount":12}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	data, _ := os.ReadFile(f.files(t)[0])
	if !strings.Contains(string(data), `"guestCount": "12"`) {
		t.Fatalf("guestCount not stored as text: %s", data)
	}
}

func TestSubmit_BodyTooLarge_413(t *testing.T) {
	f := newFixture(t, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 64)
		c.Next()
	})
	r.POST("/api/contact", NewContactHandler(nil, nil, 0).Submit)
	f.router = r

	big := `{"fullName":"` + strings.Repeat("x", 256) + `","email":"a@b.c","phone":"1"}`
	w, resp := f.post(t, big)
	if w.Code != http.StatusRequestEntityTooLarge || resp.Message != MsgBodyTooLarge {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
}

func TestSubmit_IdempotentReplay_NoSecondSideEffects(t *testing.T) {
	f := newFixture(t, errors.New("a"), errors.New("b"), errors.New("c"))

	w1, r1 := f.post(t, janeBody, middleware.HeaderIdempotencyKey, "retry-1")
	if w1.Code != http.StatusInternalServerError {
		t.Fatalf("first: %d", w1.Code)
	}
	sendsAfterFirst := f.totalSends()

	w2, r2 := f.post(t, janeBody, middleware.HeaderIdempotencyKey, "retry-1")
	if w2.Code != w1.Code || r2 != r1 {
		t.Fatalf("replay mismatch: %d %+v vs %d %+v", w2.Code, r2, w1.Code, r1)
	}
	if w2.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("missing replay header")
	}
	if len(f.files(t)) != 1 || f.totalSends() != sendsAfterFirst {
		t.Fatalf("replay must not write or send")
	}
}

// gatedSvc blocks every Submit until release is closed.
type gatedSvc struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (g *gatedSvc) Submit(context.Context, services.SubmissionRequest) (*services.Outcome, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	<-g.release
	return &services.Outcome{}, nil
}

func TestSubmit_SameKeyInFlight_409_SingleRun(t *testing.T) {
	f := newFixture(t, nil)
	svc := &gatedSvc{started: make(chan struct{}), release: make(chan struct{})}
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, f.idem.lookup))
	r.Any("/api/contact", NewContactHandler(svc, f.idem, time.Hour).Submit)
	f.router = r

	type result struct {
		code int
		resp ContactResponse
	}
	first := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(janeBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderIdempotencyKey, "double-click")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var resp ContactResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		first <- result{w.Code, resp}
	}()

	select {
	case <-svc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the service")
	}

	w, resp := f.post(t, janeBody, middleware.HeaderIdempotencyKey, "double-click")
	if w.Code != http.StatusConflict || resp.Success || resp.Message != MsgInProgress {
		t.Fatalf("in-flight duplicate: got %d %+v", w.Code, resp)
	}

	close(svc.release)
	res := <-first
	if res.code != http.StatusOK || res.resp.Message != MsgSent {
		t.Fatalf("first: got %d %+v", res.code, res.resp)
	}

	w, resp = f.post(t, janeBody, middleware.HeaderIdempotencyKey, "double-click")
	if w.Code != http.StatusOK || resp.Message != MsgSent || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("retry after completion: got %d %+v", w.Code, resp)
	}
	if n := svc.calls.Load(); n != 1 {
		t.Fatalf("pipeline ran %d times, want 1", n)
	}
}

func TestSubmit_ValidationFailureFreesKey(t *testing.T) {
	f := newFixture(t, nil)

	w, _ := f.post(t, `{}`, middleware.HeaderIdempotencyKey, "fix-and-retry")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("first: %d", w.Code)
	}
	w, resp := f.post(t, janeBody, middleware.HeaderIdempotencyKey, "fix-and-retry")
	if w.Code != http.StatusOK || resp.Message != MsgSent || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("corrected retry: got %d %+v", w.Code, resp)
	}
	if f.totalSends() != 1 {
		t.Fatalf("sends = %d, want 1", f.totalSends())
	}
}

type panicSvc struct{}

func (panicSvc) Submit(context.Context, services.SubmissionRequest) (*services.Outcome, error) {
	panic("template exploded")
}

func TestSubmit_PanicBecomesDegraded500(t *testing.T) {
	_ = captureLogs(t)
	f := newFixture(t, nil)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger())
	r.POST("/api/contact", NewContactHandler(panicSvc{}, nil, 0).Submit)
	f.router = r

	w, resp := f.post(t, janeBody)
	if w.Code != http.StatusInternalServerError || resp.Success || resp.Message != MsgSavedNotSent {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
}

func TestSubmit_ConcurrentRequests_DistinctFiles(t *testing.T) {
	f := newFixture(t, nil)

	const n = 50
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(janeBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	for c := range codes {
		if c != http.StatusOK {
			t.Fatalf("unexpected status %d", c)
		}
	}
	if files := f.files(t); len(files) != n {
		t.Fatalf("want %d files, got %d", n, len(files))
	}
	if f.totalSends() != n {
		t.Fatalf("want %d sends, got %d", n, f.totalSends())
	}
}

func TestFormString_UnmarshalJSON(t *testing.T) {
	cases := map[string]string{
		`"x"`:   "x",
		`12`:    "12",
		`-1.5`:  "-1.5",
		`null`:  "",
		`true`:  "true",
		`" y "`: " y ",
	}
	for in, want := range cases {
		var f FormString
		if err := json.Unmarshal([]byte(in), &f); err != nil || string(f) != want {
			t.Errorf("%s -> %q, %v; want %q", in, f, err, want)
		}
	}
	var f FormString
	if err := json.Unmarshal([]byte(`{"a":1}`), &f); err == nil {
		t.Errorf("object should be rejected")
	}
}
