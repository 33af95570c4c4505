package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNotificationStreamEmitsAnswerNotifications(t *testing.T) {
	stack := newTestStack(t)
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)

	askerToken := stack.token(t, "user-a", "Ada")
	answererToken := stack.token(t, "user-b", "Bea")
	questionID := stack.createQuestion(t, askerToken)

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/notifications/stream?access_token="+askerToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	events := readEvents(t, bufio.NewReader(streamResp.Body))

	ready := nextEvent(t, events, realtimeEventReady)
	var readyPayload struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	if err := json.Unmarshal([]byte(ready), &readyPayload); err != nil {
		t.Fatalf("failed to decode ready payload: %v", err)
	}
	if readyPayload.UnreadCount != 0 {
		t.Fatalf("expected no unread notifications, got %d", readyPayload.UnreadCount)
	}

	body, err := json.Marshal(map[string]string{"questionId": questionID, "content": testAnswerContent})
	if err != nil {
		t.Fatalf("failed to encode answer: %v", err)
	}
	answerReq, err := http.NewRequest(http.MethodPost, server.URL+"/answers", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to construct answer request: %v", err)
	}
	answerReq.Header.Set("Authorization", "Bearer "+answererToken)
	answerReq.Header.Set("Content-Type", "application/json")
	answerResp, err := http.DefaultClient.Do(answerReq)
	if err != nil {
		t.Fatalf("answer request failed: %v", err)
	}
	_ = answerResp.Body.Close()
	if answerResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected answer status: %d", answerResp.StatusCode)
	}

	data := nextEvent(t, events, RealtimeEventNotification)
	var payload notificationEventPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("failed to decode notification payload: %v", err)
	}
	if payload.Notification.RecipientID != "user-a" || payload.Notification.SenderID != "user-b" {
		t.Fatalf("unexpected notification routing: %#v", payload.Notification)
	}
	if payload.Notification.Metadata.QuestionTitle != testQuestionTitle {
		t.Fatalf("unexpected question title snapshot: %q", payload.Notification.Metadata.QuestionTitle)
	}
	if payload.Source != realtimeSourceBackend {
		t.Fatalf("unexpected source: %q", payload.Source)
	}
}

type streamEvent struct {
	name string
	data string
	err  error
}

// readEvents parses the event stream in the background and forwards complete events.
func readEvents(t *testing.T, reader *bufio.Reader) <-chan streamEvent {
	t.Helper()
	events := make(chan streamEvent, 16)
	go func() {
		defer close(events)
		current := streamEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				events <- streamEvent{err: err}
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				if current.name != "" {
					events <- current
				}
				current = streamEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan streamEvent, name string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", name)
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before %s event", name)
			}
			if event.err != nil {
				t.Fatalf("failed to read stream: %v", event.err)
			}
			if event.name == name {
				return event.data
			}
		}
	}
}
