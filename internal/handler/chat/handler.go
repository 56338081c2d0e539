package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/zhouzirui/taptalk/backend/internal/logger"
	"github.com/zhouzirui/taptalk/backend/internal/model/chat"
	chatService "github.com/zhouzirui/taptalk/backend/internal/service/chat"
	"github.com/zhouzirui/taptalk/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	validate *validator.Validate
	log      logger.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, log logger.Logger) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		chatSvc:  chatSvc,
		validate: validate,
		log:      log,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleSend)
	r.Get("/chat/{sessionID}", h.handleHistory)
	r.Delete("/chat/{sessionID}", h.handleClear)
}

type sendRequest struct {
	Message   string `json:"message" validate:"required,min=1"`
	SessionID string `json:"sessionId"`
	APIKey    string `json:"apiKey" validate:"omitempty,max=512"`
}

type sendResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type historyMessage struct {
	ID        uint64    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []historyMessage `json:"messages"`
}

// handleSend 转发一条用户消息并返回模型回复
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid request",
			Details: formatErrors("", "Request body must be a JSON object"),
		})
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid request",
			Details: validationDetails(err),
		})
		return
	}

	result, err := h.chatSvc.Send(r.Context(), chatService.SendRequest{
		Message:    payload.Message,
		SessionID:  payload.SessionID,
		Credential: payload.APIKey,
	})
	if err != nil {
		h.respondChatError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sendResponse{
		Response:  result.Text,
		SessionID: result.SessionID,
	})
}

// handleHistory 按顺序返回会话的全部消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	session, messages, err := h.chatSvc.History(r.Context(), sessionID)
	if err != nil {
		h.respondChatError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, historyResponse{
		SessionID: session.ID,
		Messages: lo.Map(messages, func(m chat.Message, _ int) historyMessage {
			return historyMessage{
				ID:        m.ID,
				Content:   m.Content,
				IsUser:    m.IsUser,
				Timestamp: m.Timestamp,
			}
		}),
	})
}

// handleClear 删除会话，未知会话同样返回成功
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.Clear(r.Context(), sessionID); err != nil {
		h.log.Errorf("[chat] clear session=%s: %v", sessionID, err)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) respondChatError(w http.ResponseWriter, err error) {
	var chatErr *chatService.Error
	if !errors.As(err, &chatErr) {
		h.log.Errorf("[chat] unclassified error: %v", err)
		utils.RespondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	switch chatErr.Kind {
	case chatService.KindValidation:
		utils.RespondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid request",
			Details: formatErrors("message", chatErr.Cause.Error()),
		})
	case chatService.KindSessionNotFound:
		utils.RespondJSON(w, http.StatusNotFound, errorResponse{Error: "Conversation not found"})
	case chatService.KindCredential:
		utils.RespondJSON(w, http.StatusUnauthorized, errorResponse{
			Error:     "Invalid or missing API key. Please check your API key and try again.",
			SessionID: chatErr.SessionID,
		})
	case chatService.KindUpstream, chatService.KindTimeout, chatService.KindMalformed:
		utils.RespondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     "Failed to generate AI response",
			Details:   upstreamDetails(chatErr),
			SessionID: chatErr.SessionID,
		})
	default:
		h.log.Errorf("[chat] internal error session=%s: %v", chatErr.SessionID, chatErr.Cause)
		utils.RespondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     "Internal server error",
			SessionID: chatErr.SessionID,
		})
	}
}

func upstreamDetails(chatErr *chatService.Error) string {
	var upstream *chatService.UpstreamError
	if errors.As(chatErr.Cause, &upstream) {
		return upstream.Message
	}
	return chatErr.Cause.Error()
}

// validationDetails 将校验错误转换为 {"_errors": [], "<field>": {"_errors": [...]}} 结构
func validationDetails(err error) map[string]any {
	details := map[string]any{"_errors": []string{}}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		details["_errors"] = []string{err.Error()}
		return details
	}

	for _, fe := range validationErrs {
		field := fe.Field()
		entry, _ := details[field].(map[string][]string)
		if entry == nil {
			entry = map[string][]string{"_errors": {}}
		}
		entry["_errors"] = append(entry["_errors"], describe(fe))
		details[field] = entry
	}
	return details
}

func formatErrors(field, message string) map[string]any {
	if field == "" {
		return map[string]any{"_errors": []string{message}}
	}
	return map[string]any{
		"_errors": []string{},
		field:     map[string][]string{"_errors": {message}},
	}
}

func describe(fe validator.FieldError) string {
	switch {
	case fe.Field() == "message" && (fe.Tag() == "required" || fe.Tag() == "min"):
		return "Message cannot be empty"
	case fe.Tag() == "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
