package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/drive-chat/internal/auth"
	"gwi.com/drive-chat/internal/core"
	"gwi.com/drive-chat/internal/drive"
	"gwi.com/drive-chat/internal/imagefallback"
	"gwi.com/drive-chat/internal/llm"
	"gwi.com/drive-chat/internal/notify"
	"gwi.com/drive-chat/internal/store"
)

const testSecret = "test-secret"

type staticModerator struct{ harmful bool }

func (m staticModerator) Check(context.Context, string) (llm.Verdict, error) {
	return llm.Verdict{Harmful: m.harmful, Category: "harassment"}, nil
}

type staticAnswers struct{ text string }

func (a staticAnswers) Generate(context.Context, string, string) (*llm.Answer, error) {
	return &llm.Answer{Text: a.text}, nil
}

func (staticAnswers) Structured() bool { return false }

type failingDownloader struct{ err error }

func (d failingDownloader) Download(context.Context, string) (*drive.Content, error) {
	return nil, d.err
}

type testServer struct {
	handler http.Handler
	files   *drive.MockClient
	db      *store.SQLiteStore
}

func newTestServer(t *testing.T, files Downloader) *testServer {
	t.Helper()
	sample := drive.NewSampleClient()
	if files == nil {
		files = sample
	}

	db, err := store.NewSQLiteStore("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resolver := imagefallback.NewResolver(nil, nil, nil, 0)
	chat := core.NewChatService(core.ChatDeps{
		Knowledge:   drive.NewBuilder(sample, nil, 0, 2),
		FolderID:    drive.SampleFolderID,
		Moderator:   staticModerator{},
		Answers:     staticAnswers{text: "1. Press reset.\n[image-step1: router-back.png (ID: img-router-back)]"},
		Resolver:    resolver,
		Transcripts: core.NewTranscripts(time.Hour),
		MaxImages:   3,
	})
	tickets := core.NewTicketService(db, notify.Nop{})

	h := NewAPIHandler(chat, tickets, files, nil, resolver, testSecret)
	return &testServer{
		handler: NewRouter(h, []string{"http://localhost:3000"}),
		files:   sample,
		db:      db,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateTicket(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/create-ticket", map[string]string{
		"question":  "How do I book the boardroom?",
		"userEmail": "jo@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CreateTicketResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Regexp(t, `^TKT-[0-9A-F]{8}$`, resp.TicketID)

	stored, err := s.db.GetTicket(context.Background(), resp.TicketID)
	require.NoError(t, err)
	assert.Equal(t, store.TicketOpen, stored.Status)
}

func TestCreateTicket_MissingQuestion(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/create-ticket", map[string]string{"question": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[errorResponse](t, rec).Error)

	tickets, err := s.db.ListTickets(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestImageProxy(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/image-proxy?fileId=img-router-back", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=604800", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestImageProxy_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/image-proxy", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/image-proxy?fileId=../etc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/image-proxy?fileId=doc-router-reset", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "documents are not proxied")
	assert.Equal(t, "Image not found", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/image-proxy?fileId=missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	broken := newTestServer(t, failingDownloader{err: errors.New("drive api 500")})
	rec = broken.do(t, http.MethodGet, "/api/image-proxy?fileId=img-router-back", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to fetch image", decode[errorResponse](t, rec).Error)
}

func TestImageURL(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/image-url", map[string]string{"fileId": "img-router-back"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[imagefallback.Resolution](t, rec)
	assert.Equal(t, "https://lh3.googleusercontent.com/d/img-router-back", res.URL)
	assert.NotEmpty(t, res.Fallbacks)

	rec = s.do(t, http.MethodPost, "/api/image-url", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/image-url", map[string]string{"fileId": "a b"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "How do I reset the router?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[core.TurnResult](t, rec)
	require.NotNil(t, res.Reply)
	require.Len(t, res.Reply.Images, 1)
	assert.Equal(t, "step-1", res.Reply.Images[0].StepID)
	assert.Equal(t, core.ImageResolved, res.Reply.Images[0].Status)

	rec = s.do(t, http.MethodGet, "/api/sessions/"+res.SessionID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Messages []core.Message `json:"messages"`
	}](t, rec)
	assert.Len(t, history.Messages, 2)

	rec = s.do(t, http.MethodDelete, "/api/sessions/"+res.SessionID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/sessions/"+res.SessionID+"/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat_EmptyMessage(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaffTicketRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/tickets", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tickets", nil, http.Header{"Authorization": {"Bearer nonsense"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.GenerateJWT(testSecret, "alex", time.Hour)
	require.NoError(t, err)
	authz := http.Header{"Authorization": {"Bearer " + token}}

	created := decode[CreateTicketResponse](t, s.do(t, http.MethodPost, "/api/create-ticket", map[string]string{"question": "VPN keeps dropping"}, nil))

	rec = s.do(t, http.MethodGet, "/api/tickets?status=open", nil, authz)
	require.Equal(t, http.StatusOK, rec.Code)
	tickets := decode[[]store.Ticket](t, rec)
	require.Len(t, tickets, 1)
	assert.Equal(t, created.TicketID, tickets[0].ID)

	rec = s.do(t, http.MethodPatch, "/api/tickets/"+created.TicketID, map[string]string{"status": "resolved"}, authz)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.TicketResolved, decode[store.Ticket](t, rec).Status)

	rec = s.do(t, http.MethodPatch, "/api/tickets/"+created.TicketID, map[string]string{"status": "archived"}, authz)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tickets/TKT-00000000", nil, authz)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
