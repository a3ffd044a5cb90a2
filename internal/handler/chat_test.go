package handler

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/gemini-relay/internal/llm"
	"github.com/capitalize-ai/gemini-relay/internal/model"
	"github.com/capitalize-ai/gemini-relay/internal/service"
	"github.com/capitalize-ai/gemini-relay/internal/session"
	"github.com/capitalize-ai/gemini-relay/internal/token"
	"github.com/capitalize-ai/gemini-relay/pkg/logger"
)

const cookieName = "user_token"

type stubClient struct {
	result *llm.Result
	last   *llm.Request
}

func (s *stubClient) Generate(_ context.Context, req *llm.Request) *llm.Result {
	s.last = req
	if s.result != nil {
		return s.result
	}
	return llm.Success("reply to " + req.Message.Text())
}

func (s *stubClient) Name() string { return "stub" }

type fixedIssuer string

func (f fixedIssuer) Issue() string { return string(f) }

type fixture struct {
	handler *ChatHandler
	store   *session.Store
	client  *stubClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := session.NewStore()
	client := &stubClient{}
	svc := service.NewChatService(store, client, nil, service.Config{MaxHistory: 4, CallTimeout: time.Second}, logger.NewNop())
	h := NewChatHandler(svc, fixedIssuer(strings.Repeat("c", 32)), CookieConfig{
		Name:   cookieName,
		MaxAge: 7 * 24 * time.Hour,
	}, 1024, logger.NewNop())
	return &fixture{handler: h, store: store, client: client}
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func tokenCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", cookieName)
	return nil
}

func TestAskIssuesTokenCookie(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Ask(rec, formRequest("/api/ask-gemini", url.Values{"message": {"hello"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reply to hello", rec.Body.String())

	c := tokenCookie(t, rec)
	assert.Equal(t, strings.Repeat("c", 32), c.Value)
	assert.Equal(t, 7*24*60*60, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 1, f.store.Len())
}

func TestAskUsesCookieToken(t *testing.T) {
	f := newFixture(t)
	tok := token.NewIssuer().Issue()

	for _, msg := range []string{"one", "two"} {
		req := formRequest("/api/ask-gemini", url.Values{"message": {msg}})
		req.AddCookie(&http.Cookie{Name: cookieName, Value: tok})
		rec := httptest.NewRecorder()
		f.handler.Ask(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tok, tokenCookie(t, rec).Value)
	}

	require.Len(t, f.client.last.History, 2)
	assert.Equal(t, "one", f.client.last.History[0].Text())
}

func TestAskFormTokenWins(t *testing.T) {
	f := newFixture(t)
	formTok := strings.Repeat("a", 32)

	req := formRequest("/api/ask-gemini", url.Values{"message": {"hi"}, "token": {strings.ToUpper(formTok)}})
	req.AddCookie(&http.Cookie{Name: cookieName, Value: strings.Repeat("b", 32)})
	rec := httptest.NewRecorder()
	f.handler.Ask(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, formTok, tokenCookie(t, rec).Value)
}

func TestAskInvalidToken(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Ask(rec, formRequest("/api/ask-gemini", url.Values{"message": {"hi"}, "token": {"not-a-token"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid token", rec.Body.String())
	assert.Equal(t, 0, f.store.Len())
}

func TestAskMissingMessage(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Ask(rec, formRequest("/api/ask-gemini", url.Values{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.ErrEmptyMessage.Error(), rec.Body.String())
	assert.Equal(t, 0, f.store.Len())
}

func TestAskProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		result *llm.Result
		status int
	}{
		{name: "blocked", result: llm.Blocked("SAFETY"), status: http.StatusUnprocessableEntity},
		{name: "failure", result: llm.Failure(errors.New("boom")), status: http.StatusBadGateway},
		{name: "timeout", result: llm.Failure(context.DeadlineExceeded), status: http.StatusGatewayTimeout},
		{name: "image unsupported", result: llm.Failure(llm.ErrImageUnsupported), status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.client.result = tt.result

			rec := httptest.NewRecorder()
			f.handler.Ask(rec, formRequest("/api/ask-gemini", url.Values{"message": {"hi"}}))
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Body.String())
		})
	}
}

func multipartRequest(t *testing.T, message string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("message", message))
	if image != nil {
		part, err := mw.CreateFormFile("image", "upload.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ask-gemini", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAskWithImage(t *testing.T) {
	f := newFixture(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

	rec := httptest.NewRecorder()
	f.handler.Ask(rec, multipartRequest(t, "what is this", png))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.client.last.Message.HasImage())

	var img *model.Image
	for _, p := range f.client.last.Message.Parts {
		if p.Image != nil {
			img = p.Image
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MIMEType)
}

func TestAskRejectsBadImage(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Ask(rec, multipartRequest(t, "hi", []byte("definitely not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 2048)...)
	rec = httptest.NewRecorder()
	f.handler.Ask(rec, multipartRequest(t, "hi", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestResetClearsHistory(t *testing.T) {
	f := newFixture(t)
	tok := token.NewIssuer().Issue()

	req := formRequest("/api/ask-gemini", url.Values{"message": {"hello"}, "token": {tok}})
	f.handler.Ask(httptest.NewRecorder(), req)
	require.Equal(t, 1, f.store.Len())

	rec := httptest.NewRecorder()
	f.handler.Reset(rec, formRequest("/api/reset", url.Values{"token": {tok}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "History reset for user: "+token.Mask(tok), rec.Body.String())
	assert.NotContains(t, rec.Body.String(), tok[:8])
	assert.Equal(t, 0, f.store.Len())

	// resetting again is harmless
	rec = httptest.NewRecorder()
	f.handler.Reset(rec, formRequest("/api/reset", url.Values{"token": {tok}}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetInvalidToken(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Reset(rec, formRequest("/api/reset", url.Values{"token": {"xyz"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
