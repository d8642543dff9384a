package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/provider"
)

const apiPrefix = "/gmail/v1/users/me/"

// fakeGmail serves the handful of Gmail endpoints the client uses.
type fakeGmail struct {
	mu       sync.Mutex
	labels   []*gmailapi.Label
	messages map[string]*gmailapi.Message
	order    []string

	sent     []*gmailapi.Message
	modified map[string]*gmailapi.ModifyMessageRequest
	created  []*gmailapi.Label

	// fail maps "METHOD route" to the statuses returned before succeeding.
	fail map[string][]int
	hits map[string]int
	auth string
}

func newFakeGmail() *fakeGmail {
	return &fakeGmail{
		labels: []*gmailapi.Label{
			{Id: "INBOX", Name: "INBOX", Type: "system"},
			{Id: "Label_1", Name: "Replied", Type: "user"},
		},
		messages: make(map[string]*gmailapi.Message),
		modified: make(map[string]*gmailapi.ModifyMessageRequest),
		fail:     make(map[string][]int),
		hits:     make(map[string]int),
	}
}

func (f *fakeGmail) addMessage(id, from, subject, body string) {
	f.messages[id] = &gmailapi.Message{
		Id:       id,
		ThreadId: "thread-" + id,
		LabelIds: []string{"INBOX"},
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
				{Name: "Message-ID", Value: "<" + id + "@mail.example.com>"},
			},
			Body: &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(body))},
		},
	}
	f.order = append(f.order, id)
}

func (f *fakeGmail) route(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.Path, apiPrefix)
	parts := strings.Split(rest, "/")
	switch {
	case rest == "labels":
		return r.Method + " labels"
	case rest == "messages":
		return r.Method + " messages"
	case rest == "messages/send":
		return r.Method + " send"
	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "modify":
		return r.Method + " modify"
	case len(parts) == 2 && parts[0] == "messages":
		return r.Method + " message"
	}
	return r.Method + " " + rest
}

func (f *fakeGmail) hitCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func writeError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, code, http.StatusText(code))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	route := f.route(r)
	f.hits[route]++
	f.auth = r.Header.Get("Authorization")

	if queue := f.fail[route]; len(queue) > 0 {
		code := queue[0]
		if len(queue) > 1 {
			f.fail[route] = queue[1:]
		}
		if code > 0 {
			writeError(w, code)
			return
		}
	}

	rest := strings.TrimPrefix(r.URL.Path, apiPrefix)
	switch route {
	case "GET labels":
		writeJSON(w, &gmailapi.ListLabelsResponse{Labels: f.labels})
	case "POST labels":
		var l gmailapi.Label
		json.NewDecoder(r.Body).Decode(&l)
		l.Id = fmt.Sprintf("Label_%d", len(f.labels)+1)
		l.Type = "user"
		f.labels = append(f.labels, &l)
		f.created = append(f.created, &l)
		writeJSON(w, &l)
	case "GET messages":
		resp := &gmailapi.ListMessagesResponse{}
		for _, id := range f.order {
			resp.Messages = append(resp.Messages, &gmailapi.Message{Id: id})
		}
		writeJSON(w, resp)
	case "GET message":
		id := strings.TrimPrefix(rest, "messages/")
		msg, ok := f.messages[id]
		if !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		writeJSON(w, msg)
	case "POST send":
		var m gmailapi.Message
		json.NewDecoder(r.Body).Decode(&m)
		f.sent = append(f.sent, &m)
		writeJSON(w, &gmailapi.Message{Id: "sent-1", ThreadId: m.ThreadId})
	case "POST modify":
		id := strings.Split(rest, "/")[1]
		if _, ok := f.messages[id]; !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		var req gmailapi.ModifyMessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.modified[id] = &req
		writeJSON(w, f.messages[id])
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeGmail, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL + "/"
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	c, err := New(context.Background(), ts, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestListMessages(t *testing.T) {
	f := newFakeGmail()
	f.addMessage("m1", "Alice <alice@acme.com>", "Quote", "Need 2 Widget please")
	f.addMessage("m2", "bob@other.com", "Hi", "Hello")
	c := newTestClient(t, f, Config{})

	emails, next, err := c.ListMessages(context.Background(), provider.ListOptions{Folder: "INBOX", MaxResults: 10})
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if next != "" {
		t.Errorf("next page token = %q, want empty", next)
	}
	if len(emails) != 2 {
		t.Fatalf("got %d emails, want 2", len(emails))
	}
	if emails[0].From.Email != "alice@acme.com" || emails[0].Body != "Need 2 Widget please" {
		t.Errorf("emails[0] = %+v", emails[0])
	}
	if emails[0].MessageID != "<m1@mail.example.com>" {
		t.Errorf("MessageID = %q, want %q", emails[0].MessageID, "<m1@mail.example.com>")
	}
	if f.auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", f.auth, "Bearer test-token")
	}
}

func TestListMessages_SkipsVanishedMessage(t *testing.T) {
	f := newFakeGmail()
	f.addMessage("m1", "alice@acme.com", "Quote", "Widget")
	f.order = append(f.order, "gone")
	c := newTestClient(t, f, Config{})

	emails, _, err := c.ListMessages(context.Background(), provider.ListOptions{Folder: "INBOX"})
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(emails) != 1 || emails[0].ID != "m1" {
		t.Errorf("emails = %+v, want only m1", emails)
	}
}

func TestListMessages_UnknownFolder(t *testing.T) {
	f := newFakeGmail()
	c := newTestClient(t, f, Config{})

	_, _, err := c.ListMessages(context.Background(), provider.ListOptions{Folder: "Nope"})
	if !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSendReply(t *testing.T) {
	f := newFakeGmail()
	c := newTestClient(t, f, Config{})

	original := &domain.Email{
		ID:        "m1",
		ThreadID:  "thread-m1",
		MessageID: "<m1@mail.example.com>",
		From:      domain.Address{Name: "Alice", Email: "alice@acme.com"},
		Subject:   "Quote",
	}
	draft := domain.ReplyDraft{Subject: "Re: Quote", Body: "Item: Widget, Price: £9.99 (Approx)\n"}
	if err := c.SendReply(context.Background(), original, draft); err != nil {
		t.Fatalf("SendReply() error: %v", err)
	}

	if len(f.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(f.sent))
	}
	if f.sent[0].ThreadId != "thread-m1" {
		t.Errorf("ThreadId = %q, want %q", f.sent[0].ThreadId, "thread-m1")
	}
	raw, err := base64.URLEncoding.DecodeString(f.sent[0].Raw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, want := range []string{
		"To: \"Alice\" <alice@acme.com>\r\n",
		"Subject: Re: Quote\r\n",
		"In-Reply-To: <m1@mail.example.com>\r\n",
		"References: <m1@mail.example.com>\r\n",
		"Item: Widget, Price: £9.99 (Approx)\r\n",
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("raw message missing %q:\n%s", want, raw)
		}
	}
}

func TestSendReply_RetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantHits int
		wantErr  bool
	}{
		{"rate limited then ok", []int{http.StatusTooManyRequests, 0}, 2, false},
		{"server error not retried", []int{http.StatusServiceUnavailable, 0}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeGmail()
			f.fail["POST send"] = tt.statuses
			c := newTestClient(t, f, Config{MaxAttempts: 3})

			err := c.SendReply(context.Background(), &domain.Email{ID: "m1", From: domain.Address{Email: "a@b.com"}}, domain.ReplyDraft{})
			if (err != nil) != tt.wantErr {
				t.Errorf("SendReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := f.hitCount("POST send"); got != tt.wantHits {
				t.Errorf("send attempts = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestFindOrCreateFolder(t *testing.T) {
	f := newFakeGmail()
	c := newTestClient(t, f, Config{})
	ctx := context.Background()

	id, err := c.FindOrCreateFolder(ctx, "replied")
	if err != nil {
		t.Fatalf("FindOrCreateFolder(existing) error: %v", err)
	}
	if id != "Label_1" {
		t.Errorf("id = %q, want %q", id, "Label_1")
	}

	id, err = c.FindOrCreateFolder(ctx, "Quoted")
	if err != nil {
		t.Fatalf("FindOrCreateFolder(new) error: %v", err)
	}
	if len(f.created) != 1 || f.created[0].Name != "Quoted" {
		t.Fatalf("created = %+v, want one Quoted label", f.created)
	}
	if id != f.created[0].Id {
		t.Errorf("id = %q, want %q", id, f.created[0].Id)
	}

	if _, err := c.FindOrCreateFolder(ctx, "Quoted"); err != nil {
		t.Fatalf("FindOrCreateFolder(again) error: %v", err)
	}
	if len(f.created) != 1 {
		t.Errorf("created %d labels, want 1", len(f.created))
	}
	if got := f.hitCount("GET labels"); got != 2 {
		t.Errorf("label list calls = %d, want 2", got)
	}
}

func TestMoveMessage(t *testing.T) {
	f := newFakeGmail()
	f.addMessage("m1", "alice@acme.com", "Quote", "Widget")
	c := newTestClient(t, f, Config{})

	if err := c.MoveMessage(context.Background(), "m1", "Label_1"); err != nil {
		t.Fatalf("MoveMessage() error: %v", err)
	}
	req := f.modified["m1"]
	if req == nil {
		t.Fatal("no modify request recorded")
	}
	if len(req.AddLabelIds) != 1 || req.AddLabelIds[0] != "Label_1" {
		t.Errorf("add = %v, want [Label_1]", req.AddLabelIds)
	}
	if len(req.RemoveLabelIds) != 1 || req.RemoveLabelIds[0] != "INBOX" {
		t.Errorf("remove = %v, want [INBOX]", req.RemoveLabelIds)
	}
}

func TestMoveMessage_NotFound(t *testing.T) {
	f := newFakeGmail()
	c := newTestClient(t, f, Config{})

	err := c.MoveMessage(context.Background(), "missing", "Label_1")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if got := f.hitCount("POST modify"); got != 1 {
		t.Errorf("modify attempts = %d, want 1", got)
	}
}

func TestCall_RetriesTransientErrors(t *testing.T) {
	f := newFakeGmail()
	f.fail["GET labels"] = []int{http.StatusServiceUnavailable, http.StatusInternalServerError, 0}
	c := newTestClient(t, f, Config{MaxAttempts: 3})

	labels, err := c.ListLabels(context.Background())
	if err != nil {
		t.Fatalf("ListLabels() error: %v", err)
	}
	if len(labels) != 2 {
		t.Errorf("got %d labels, want 2", len(labels))
	}
	if got := f.hitCount("GET labels"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestCall_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeGmail()
	f.fail["GET labels"] = []int{http.StatusServiceUnavailable}
	c := newTestClient(t, f, Config{MaxAttempts: 2})

	if _, err := c.ListLabels(context.Background()); err == nil {
		t.Fatal("ListLabels() succeeded, want error")
	}
	if got := f.hitCount("GET labels"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestCall_DoesNotRetryClientErrors(t *testing.T) {
	f := newFakeGmail()
	f.fail["GET labels"] = []int{http.StatusForbidden}
	c := newTestClient(t, f, Config{MaxAttempts: 3})

	if _, err := c.ListLabels(context.Background()); err == nil {
		t.Fatal("ListLabels() succeeded, want error")
	}
	if got := f.hitCount("GET labels"); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestCall_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newFakeGmail()
	f.addMessage("m1", "alice@acme.com", "Quote", "Widget")
	f.fail["POST modify"] = []int{http.StatusInternalServerError}
	c := newTestClient(t, f, Config{MaxAttempts: 1})
	ctx := context.Background()

	for i := 0; i < breakerTripAfter; i++ {
		if err := c.MoveMessage(ctx, "m1", "Label_1"); err == nil {
			t.Fatalf("attempt %d succeeded, want error", i)
		}
	}

	err := c.MoveMessage(ctx, "m1", "Label_1")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want open breaker", err)
	}
	if got := f.hitCount("POST modify"); got != breakerTripAfter {
		t.Errorf("modify hits = %d, want %d", got, breakerTripAfter)
	}
}

func TestCall_ClientErrorsKeepBreakerClosed(t *testing.T) {
	f := newFakeGmail()
	f.addMessage("m1", "alice@acme.com", "Quote", "Widget")
	f.fail["POST modify"] = []int{http.StatusForbidden}
	c := newTestClient(t, f, Config{MaxAttempts: 1})
	ctx := context.Background()

	for i := 0; i < breakerTripAfter+1; i++ {
		err := c.MoveMessage(ctx, "m1", "Label_1")
		if err == nil {
			t.Fatalf("attempt %d succeeded, want error", i)
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("attempt %d: breaker opened on client errors", i)
		}
	}
	if got := f.hitCount("POST modify"); got != breakerTripAfter+1 {
		t.Errorf("modify hits = %d, want %d", got, breakerTripAfter+1)
	}
}

func TestBuildReply_EncodesNonASCIISubject(t *testing.T) {
	raw := buildReply(
		&domain.Email{From: domain.Address{Email: "a@b.com"}},
		domain.ReplyDraft{Subject: "Re: Café order", Body: "x"},
	)
	if !strings.Contains(raw, "Subject: =?utf-8?q?") {
		t.Errorf("subject not encoded:\n%s", raw)
	}
	if strings.Contains(raw, "In-Reply-To") {
		t.Errorf("unexpected In-Reply-To without a Message-ID:\n%s", raw)
	}
}
