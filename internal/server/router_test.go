package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/auth"
	"github.com/MarcoPoloResearchLab/qna/internal/database"
	"github.com/MarcoPoloResearchLab/qna/internal/ids"
	"github.com/MarcoPoloResearchLab/qna/internal/metrics"
	"github.com/MarcoPoloResearchLab/qna/internal/notifications"
	"github.com/MarcoPoloResearchLab/qna/internal/questions"
	"github.com/MarcoPoloResearchLab/qna/internal/users"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "qna-auth"
	testAudience      = "qna-api"
	testCookieName    = "qna_session"

	testQuestionTitle       = "How to implement JWT authentication in React?"
	testQuestionDescription = "I need to keep users signed in across page reloads safely."
	testAnswerContent       = "Keep the token in an httpOnly cookie and refresh it on the server."
)

type testStack struct {
	handler  http.Handler
	issuer   *auth.TokenIssuer
	realtime *RealtimeDispatcher
	db       *gorm.DB
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, Path: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	recorder := metrics.NewRecorder()
	realtime := NewRealtimeDispatcher()

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	ledger, err := votes.NewLedger(votes.LedgerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build vote ledger: %v", err)
	}
	notifier, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Publisher:  realtime,
		Recorder:   recorder,
	})
	if err != nil {
		t.Fatalf("failed to build notifications service: %v", err)
	}
	questionService, err := questions.NewService(questions.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Ledger:     ledger,
		Notifier:   notifier,
		Directory:  userService,
		Recorder:   recorder,
	})
	if err != nil {
		t.Fatalf("failed to build questions service: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Users:             userService,
		Questions:         questionService,
		Notifications:     notifier,
		Database:          db,
		Realtime:          realtime,
		Metrics:           recorder.Handler(),
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: time.Second,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testStack{handler: handler, issuer: issuer, realtime: realtime, db: db}
}

func (s testStack) token(t *testing.T, userID, displayName string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(auth.Identity{UserID: userID, DisplayName: displayName})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s testStack) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, recorder.Code, recorder.Body.String())
	}
}

type idResponse struct {
	ID string `json:"id"`
}

type voteResponse struct {
	VoteCount    int64 `json:"voteCount"`
	HasUpvoted   bool  `json:"hasUpvoted"`
	HasDownvoted bool  `json:"hasDownvoted"`
}

func (s testStack) createQuestion(t *testing.T, token string) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/questions", token, map[string]interface{}{
		"title":       testQuestionTitle,
		"description": testQuestionDescription,
		"tags":        []string{"React", "jwt"},
	})
	expectStatus(t, recorder, http.StatusCreated)
	var created idResponse
	decodeBody(t, recorder, &created)
	if created.ID == "" {
		t.Fatalf("expected question id in %s", recorder.Body.String())
	}
	return created.ID
}

func (s testStack) createAnswer(t *testing.T, token, questionID string) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/answers", token, map[string]string{
		"questionId": questionID,
		"content":    testAnswerContent,
	})
	expectStatus(t, recorder, http.StatusCreated)
	var created idResponse
	decodeBody(t, recorder, &created)
	return created.ID
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	stack := newTestStack(t)

	recorder := stack.do(t, http.MethodPost, "/questions", "", map[string]string{"title": testQuestionTitle})
	expectStatus(t, recorder, http.StatusUnauthorized)
	assertErrorCode(t, recorder, "auth.missing_token")

	recorder = stack.do(t, http.MethodGet, "/notifications", "not-a-jwt", nil)
	expectStatus(t, recorder, http.StatusUnauthorized)
	assertErrorCode(t, recorder, "auth.invalid_token")
}

func TestMeReturnsResolvedUser(t *testing.T) {
	stack := newTestStack(t)
	recorder := stack.do(t, http.MethodGet, "/me", stack.token(t, "user-a", "Ada"), nil)
	expectStatus(t, recorder, http.StatusOK)
	var me struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	decodeBody(t, recorder, &me)
	if me.ID != "user-a" {
		t.Fatalf("unexpected user: %s", recorder.Body.String())
	}
}

func TestVotingOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	askerToken := stack.token(t, "user-a", "Ada")
	answererToken := stack.token(t, "user-b", "Bea")

	questionID := stack.createQuestion(t, askerToken)
	answerID := stack.createAnswer(t, answererToken, questionID)

	recorder := stack.do(t, http.MethodPost, "/questions/"+questionID+"/vote", askerToken, map[string]string{"voteType": "upvote"})
	expectStatus(t, recorder, http.StatusForbidden)
	assertErrorCode(t, recorder, "questions.vote_question.self_vote")

	recorder = stack.do(t, http.MethodPost, "/answers/"+answerID+"/vote", askerToken, map[string]string{"voteType": "sideways"})
	expectStatus(t, recorder, http.StatusBadRequest)
	assertErrorCode(t, recorder, "server.vote.invalid_request")

	recorder = stack.do(t, http.MethodPost, "/answers/"+answerID+"/vote", askerToken, map[string]string{"voteType": "upvote"})
	expectStatus(t, recorder, http.StatusOK)
	var state voteResponse
	decodeBody(t, recorder, &state)
	if state != (voteResponse{VoteCount: 1, HasUpvoted: true}) {
		t.Fatalf("unexpected vote state after upvote: %+v", state)
	}

	recorder = stack.do(t, http.MethodPost, "/answers/"+answerID+"/vote", askerToken, map[string]string{"voteType": "downvote"})
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &state)
	if state != (voteResponse{VoteCount: -1, HasDownvoted: true}) {
		t.Fatalf("unexpected vote state after toggle: %+v", state)
	}

	recorder = stack.do(t, http.MethodDelete, "/answers/"+answerID+"/vote?voteType=downvote", askerToken, nil)
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &state)
	if state != (voteResponse{}) {
		t.Fatalf("unexpected vote state after withdrawal: %+v", state)
	}

	recorder = stack.do(t, http.MethodDelete, "/questions/"+questionID+"/vote", answererToken, nil)
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = stack.do(t, http.MethodPost, "/questions/"+questionID+"/vote", answererToken, map[string]string{"voteType": "upvote"})
	expectStatus(t, recorder, http.StatusOK)

	recorder = stack.do(t, http.MethodGet, "/questions/"+questionID, answererToken, nil)
	expectStatus(t, recorder, http.StatusOK)
	var viewed struct {
		VoteCount   int64 `json:"voteCount"`
		HasUpvoted  bool  `json:"hasUpvoted"`
		AnswerCount int64 `json:"answerCount"`
	}
	decodeBody(t, recorder, &viewed)
	if viewed.VoteCount != 1 || !viewed.HasUpvoted || viewed.AnswerCount != 1 {
		t.Fatalf("unexpected viewer state: %s", recorder.Body.String())
	}

	recorder = stack.do(t, http.MethodGet, "/questions/"+questionID, "", nil)
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &viewed)
	if viewed.VoteCount != 1 || viewed.HasUpvoted {
		t.Fatalf("unexpected anonymous state: %s", recorder.Body.String())
	}

	recorder = stack.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	if !strings.Contains(recorder.Body.String(), "qna_votes_total") {
		t.Fatalf("expected vote counters in metrics output")
	}
}

func TestAnswersAndAcceptanceOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	askerToken := stack.token(t, "user-a", "Ada")
	firstToken := stack.token(t, "user-b", "Bea")
	secondToken := stack.token(t, "user-c", "Cy")

	questionID := stack.createQuestion(t, askerToken)
	firstAnswer := stack.createAnswer(t, firstToken, questionID)
	secondAnswer := stack.createAnswer(t, secondToken, questionID)

	recorder := stack.do(t, http.MethodPost, "/answers", firstToken, map[string]string{
		"questionId": questionID,
		"content":    testAnswerContent,
	})
	expectStatus(t, recorder, http.StatusConflict)
	assertErrorCode(t, recorder, "questions.create_answer.duplicate_answer")

	recorder = stack.do(t, http.MethodPost, "/answers", firstToken, map[string]string{"content": testAnswerContent})
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = stack.do(t, http.MethodPost, "/answers/"+firstAnswer+"/accept", secondToken, nil)
	expectStatus(t, recorder, http.StatusForbidden)
	assertErrorCode(t, recorder, "questions.accept_answer.not_question_author")

	recorder = stack.do(t, http.MethodPost, "/answers/"+firstAnswer+"/accept", askerToken, nil)
	expectStatus(t, recorder, http.StatusOK)
	recorder = stack.do(t, http.MethodPost, "/answers/"+secondAnswer+"/accept", askerToken, nil)
	expectStatus(t, recorder, http.StatusOK)

	recorder = stack.do(t, http.MethodGet, "/questions/"+questionID+"/answers", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	var listed struct {
		Answers []struct {
			ID         string `json:"id"`
			IsAccepted bool   `json:"isAccepted"`
		} `json:"answers"`
	}
	decodeBody(t, recorder, &listed)
	if len(listed.Answers) != 2 {
		t.Fatalf("expected two answers, got %s", recorder.Body.String())
	}
	if listed.Answers[0].ID != secondAnswer || !listed.Answers[0].IsAccepted || listed.Answers[1].IsAccepted {
		t.Fatalf("expected only the second answer accepted and listed first: %s", recorder.Body.String())
	}

	recorder = stack.do(t, http.MethodPut, "/answers/"+firstAnswer, firstToken, map[string]string{
		"content": testAnswerContent + " Rotate the signing key regularly.",
	})
	expectStatus(t, recorder, http.StatusOK)

	recorder = stack.do(t, http.MethodPost, "/answers/"+firstAnswer+"/comments", askerToken, map[string]string{"content": "Thanks!"})
	expectStatus(t, recorder, http.StatusCreated)

	recorder = stack.do(t, http.MethodDelete, "/answers/"+firstAnswer, secondToken, nil)
	expectStatus(t, recorder, http.StatusForbidden)
	recorder = stack.do(t, http.MethodDelete, "/answers/"+firstAnswer, firstToken, nil)
	expectStatus(t, recorder, http.StatusNoContent)

	recorder = stack.do(t, http.MethodDelete, "/questions/"+questionID, askerToken, nil)
	expectStatus(t, recorder, http.StatusNoContent)
	recorder = stack.do(t, http.MethodGet, "/questions/"+questionID, "", nil)
	expectStatus(t, recorder, http.StatusNotFound)
}

func TestQuestionListingAndTagsOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	askerToken := stack.token(t, "user-a", "Ada")
	questionID := stack.createQuestion(t, askerToken)

	recorder := stack.do(t, http.MethodGet, "/questions?tag=react&sort=newest", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	var listed struct {
		Questions []idResponse `json:"questions"`
		Total     int64        `json:"total"`
	}
	decodeBody(t, recorder, &listed)
	if listed.Total != 1 || len(listed.Questions) != 1 || listed.Questions[0].ID != questionID {
		t.Fatalf("unexpected listing: %s", recorder.Body.String())
	}

	recorder = stack.do(t, http.MethodGet, "/questions?sort=sideways", "", nil)
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = stack.do(t, http.MethodPut, "/questions/"+questionID, askerToken, map[string]interface{}{
		"tags":   []string{"react", "oauth"},
		"status": "closed",
	})
	expectStatus(t, recorder, http.StatusOK)

	recorder = stack.do(t, http.MethodGet, "/tags", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	var tagList struct {
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	}
	decodeBody(t, recorder, &tagList)
	names := make([]string, 0, len(tagList.Tags))
	for _, tag := range tagList.Tags {
		names = append(names, tag.Name)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "oauth") || strings.Contains(joined, "jwt") {
		t.Fatalf("unexpected tags after retag: %s", joined)
	}
}

func TestNotificationsOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	askerToken := stack.token(t, "user-a", "Ada")
	answererToken := stack.token(t, "user-b", "Bea")

	questionID := stack.createQuestion(t, askerToken)
	stack.createAnswer(t, answererToken, questionID)

	recorder := stack.do(t, http.MethodGet, "/notifications?unreadOnly=true", askerToken, nil)
	expectStatus(t, recorder, http.StatusOK)
	var listed struct {
		Notifications []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Sender   string `json:"sender"`
			Metadata struct {
				QuestionTitle string `json:"questionTitle"`
			} `json:"metadata"`
		} `json:"notifications"`
		UnreadCount int64 `json:"unreadCount"`
	}
	decodeBody(t, recorder, &listed)
	if listed.UnreadCount != 1 || len(listed.Notifications) != 1 {
		t.Fatalf("unexpected notifications: %s", recorder.Body.String())
	}
	notification := listed.Notifications[0]
	if notification.Type != "answer" || notification.Sender != "user-b" || notification.Metadata.QuestionTitle != testQuestionTitle {
		t.Fatalf("unexpected answer notification: %s", recorder.Body.String())
	}

	recorder = stack.do(t, http.MethodPut, "/notifications/mark-read", askerToken, map[string][]string{"notificationIds": {}})
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = stack.do(t, http.MethodPut, "/notifications/mark-read", askerToken, map[string][]string{"notificationIds": {notification.ID}})
	expectStatus(t, recorder, http.StatusOK)

	recorder = stack.do(t, http.MethodGet, "/notifications/unread-count", askerToken, nil)
	expectStatus(t, recorder, http.StatusOK)
	var count struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	decodeBody(t, recorder, &count)
	if count.UnreadCount != 0 {
		t.Fatalf("expected no unread notifications, got %d", count.UnreadCount)
	}

	recorder = stack.do(t, http.MethodPut, "/notifications/mark-all-read", askerToken, nil)
	expectStatus(t, recorder, http.StatusOK)

	recorder = stack.do(t, http.MethodDelete, "/notifications/"+notification.ID, answererToken, nil)
	expectStatus(t, recorder, http.StatusNotFound)
	recorder = stack.do(t, http.MethodDelete, "/notifications/"+notification.ID, askerToken, nil)
	expectStatus(t, recorder, http.StatusNoContent)
}

func TestHealthz(t *testing.T) {
	stack := newTestStack(t)
	recorder := stack.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, recorder, http.StatusOK)
}
