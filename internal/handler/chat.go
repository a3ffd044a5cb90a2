// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/gemini-relay/internal/llm"
	"github.com/capitalize-ai/gemini-relay/internal/middleware"
	"github.com/capitalize-ai/gemini-relay/internal/model"
	"github.com/capitalize-ai/gemini-relay/internal/service"
	"github.com/capitalize-ai/gemini-relay/internal/session"
	"github.com/capitalize-ai/gemini-relay/internal/token"
	"github.com/capitalize-ai/gemini-relay/pkg/logger"
)

// formOverhead is the body allowance on top of the image size limit.
const formOverhead = 1 << 20

// ChatService is the business logic behind the chat endpoints.
type ChatService interface {
	Ask(ctx context.Context, tok, text string, img *model.Image) (*service.Reply, error)
	Reset(ctx context.Context, tok string) bool
}

// TokenIssuer issues new tokens.
type TokenIssuer interface {
	Issue() string
}

// CookieConfig controls the token cookie.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// ChatHandler handles the chat endpoints.
type ChatHandler struct {
	chat          ChatService
	issuer        TokenIssuer
	cookie        CookieConfig
	maxImageBytes int64
	logger        *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(
	chat ChatService,
	issuer TokenIssuer,
	cookie CookieConfig,
	maxImageBytes int64,
	log *logger.Logger,
) *ChatHandler {
	return &ChatHandler{
		chat:          chat,
		issuer:        issuer,
		cookie:        cookie,
		maxImageBytes: maxImageBytes,
		logger:        log,
	}
}

// Ask handles POST /api/ask-gemini
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+formOverhead)

	if err := h.parseForm(r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		writeText(w, http.StatusBadRequest, "invalid form data")
		return
	}

	tok, err := h.resolveToken(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "invalid token")
		return
	}
	h.setTokenCookie(w, tok)

	message := r.PostFormValue("message")
	if err := middleware.ValidateMessageContent(message); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	img, status, err := h.readImage(r)
	if err != nil {
		writeText(w, status, err.Error())
		return
	}

	reply, err := h.chat.Ask(r.Context(), tok, message, img)
	if err != nil {
		log := h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), token.Mask(tok))
		status, text := askError(log, err)
		writeText(w, status, text)
		return
	}

	writeText(w, http.StatusOK, reply.Text)
}

// Reset handles POST /api/reset
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "invalid form data")
		return
	}

	tok, err := h.resolveToken(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "invalid token")
		return
	}

	h.chat.Reset(r.Context(), tok)
	h.setTokenCookie(w, tok)
	writeText(w, http.StatusOK, "History reset for user: "+token.Mask(tok))
}

func (h *ChatHandler) parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(h.maxImageBytes + formOverhead)
	}
	return r.ParseForm()
}

// resolveToken takes the token from the form, then the cookie, and issues
// a new one when neither is present.
func (h *ChatHandler) resolveToken(r *http.Request) (string, error) {
	raw := r.FormValue("token")
	if raw == "" {
		if c, err := r.Cookie(h.cookie.Name); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return h.issuer.Issue(), nil
	}
	return middleware.ValidateToken(raw)
}

func (h *ChatHandler) setTokenCookie(w http.ResponseWriter, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *ChatHandler) readImage(r *http.Request) (*model.Image, int, error) {
	if r.MultipartForm == nil {
		return nil, 0, nil
	}

	f, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid image upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxImageBytes+1))
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid image upload")
	}

	mimeType, err := middleware.ValidateImage(data, h.maxImageBytes)
	switch {
	case errors.Is(err, middleware.ErrImageTooLarge):
		return nil, http.StatusRequestEntityTooLarge, err
	case err != nil:
		return nil, http.StatusBadRequest, err
	}
	return &model.Image{MIMEType: mimeType, Data: data}, 0, nil
}

func askError(log *logger.Logger, err error) (int, string) {
	var blocked *service.BlockedError
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &blocked):
		return http.StatusUnprocessableEntity, "The model declined to answer (" + blocked.Reason + ")"
	case errors.Is(err, session.ErrStoreFull):
		return http.StatusServiceUnavailable, "Server is busy, please try again later"
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout, "The model took too long to answer, please try again"
	case errors.Is(err, llm.ErrImageUnsupported):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrProvider):
		return http.StatusBadGateway, "The model request failed, please try again"
	default:
		log.Error("unexpected chat error", zap.Error(err))
		return http.StatusInternalServerError, "internal error"
	}
}
