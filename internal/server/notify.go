package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"talentops/internal/config"
	"talentops/internal/domain"
	"talentops/internal/engine"
)

const (
	defaultNotifyInterval = 2 * time.Second
	defaultWebhookTimeout = 5 * time.Second
	defaultNotifyBatch    = 100
)

// notifier tails the event log and fans each event out to configured
// webhooks and to in-app notification rows. Delivery is fire and forget:
// a failed webhook stalls only its own cursor.
type notifier struct {
	engine   engine.Engine
	org      string
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
	// index -1 tracks the in-app notification fan-out.
	inboxCursor int64
	inboxInit   bool
}

// StartNotifier launches the background dispatcher for the engine's org.
func StartNotifier(e engine.Engine) {
	if e.Config == nil {
		return
	}
	orgID := e.Config.Org.ID
	if strings.TrimSpace(orgID) == "" {
		return
	}
	n := &notifier{
		engine:   e,
		org:      orgID,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go n.run()
}

func (n *notifier) run() {
	ticker := time.NewTicker(defaultNotifyInterval)
	defer ticker.Stop()
	for {
		n.dispatchAll()
		<-ticker.C
	}
}

func (n *notifier) dispatchAll() {
	n.dispatchInbox()
	for i, hook := range n.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		n.dispatchWebhook(i, hook)
	}
}

// dispatchInbox turns workflow events into notification rows for the people
// they concern.
func (n *notifier) dispatchInbox() {
	ctx := context.Background()
	n.mu.Lock()
	if !n.inboxInit {
		cur, err := n.engine.Repo.LatestEventID(ctx, n.org)
		if err != nil {
			n.mu.Unlock()
			log.Printf("notify: init cursor failed: %v", err)
			return
		}
		n.inboxCursor = cur
		n.inboxInit = true
	}
	cursor := n.inboxCursor
	n.mu.Unlock()

	events, err := n.engine.Repo.EventsAfter(ctx, defaultNotifyBatch, cursor, n.org)
	if err != nil {
		log.Printf("notify: fetch events failed: %v", err)
		return
	}
	for _, evt := range events {
		if err := n.notifyFor(ctx, evt); err != nil {
			log.Printf("notify: event %d: %v", evt.ID, err)
		}
		n.mu.Lock()
		n.inboxCursor = evt.ID
		n.mu.Unlock()
	}
}

func (n *notifier) notifyFor(ctx context.Context, evt domain.Event) error {
	if evt.EntityKind != "task" || evt.EntityID == "" {
		return nil
	}
	t, err := n.engine.Repo.GetTask(ctx, evt.EntityID)
	if err != nil {
		return err
	}
	var receiver, message string
	switch evt.Type {
	case "task.created":
		receiver = stringOrEmpty(t.AssignedTo)
		message = fmt.Sprintf("You were assigned %q", t.Title)
	case "task.approved":
		receiver = stringOrEmpty(t.AssignedTo)
		message = fmt.Sprintf("Work on %q was approved", t.Title)
	case "task.rejected":
		receiver = stringOrEmpty(t.AssignedTo)
		message = fmt.Sprintf("Work on %q was rejected; more changes requested", t.Title)
	case "task.proof.submitted":
		receiver = stringOrEmpty(t.AssignedBy)
		message = fmt.Sprintf("%q is awaiting validation", t.Title)
	case "task.issue.reported":
		receiver = stringOrEmpty(t.AssignedBy)
		message = fmt.Sprintf("An issue was reported on %q", t.Title)
	default:
		return nil
	}
	if receiver == "" || receiver == evt.ActorID {
		return nil
	}
	return n.engine.Repo.InsertNotification(ctx, domain.Notification{
		ID:         uuid.New().String(),
		OrgID:      n.org,
		ReceiverID: receiver,
		SenderID:   evt.ActorID,
		Message:    message,
		Type:       evt.Type,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *notifier) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := n.cursorFor(idx)
	events, err := n.engine.Repo.EventsAfter(ctx, defaultNotifyBatch, cursor, n.org)
	if err != nil {
		log.Printf("webhook: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			n.setCursor(idx, evt.ID)
			continue
		}
		if err := n.postEvent(ctx, hook, evt); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		n.setCursor(idx, evt.ID)
	}
}

func (n *notifier) cursorFor(idx int) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.cursors[idx]; ok {
		return cur
	}
	ctx := context.Background()
	cur, err := n.engine.Repo.LatestEventID(ctx, n.org)
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	n.cursors[idx] = cur
	return cur
}

func (n *notifier) setCursor(idx int, value int64) {
	n.mu.Lock()
	n.cursors[idx] = value
	n.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	OrgID      string          `json:"org_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (n *notifier) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		OrgID:      evt.OrgID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := n.client
	if timeout != n.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Talentops-Event", evt.Type)
	req.Header.Set("X-Talentops-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Talentops-Org", n.org)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Talentops-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
