package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/fitmate-chat/internal/chat"
	"github.com/suPer8Hu/fitmate-chat/internal/common"
	"github.com/suPer8Hu/fitmate-chat/internal/httpapi/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (h *Handler) ListConversations(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	list, err := h.ChatSvc.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.Logger.Error("list conversations failed", zap.Uint64("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list conversations")
		return
	}
	common.OK(c, list)
}

func (h *Handler) GetConversation(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	hist, err := h.ChatSvc.GetHistory(c.Request.Context(), uid, c.Param("conversationId"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "conversation not found")
			return
		}
		h.Logger.Error("get conversation failed", zap.Uint64("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load conversation")
		return
	}
	common.OK(c, hist)
}

type sendMessageReq struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type sendMessageResp struct {
	ConversationID string `json:"conversationId"`
	Response       string `json:"response"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	convID, reply, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, strings.TrimSpace(req.ConversationID), req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			common.Fail(c, http.StatusBadRequest, 10002, "message required")
			return
		}
		h.Logger.Error("send message failed", zap.Uint64("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusBadGateway, 50201, "failed to get a reply")
		return
	}

	common.OK(c, sendMessageResp{ConversationID: convID, Response: reply})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	convID := c.Param("conversationId")
	if err := h.ChatSvc.DeleteConversation(c.Request.Context(), uid, convID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "conversation not found")
			return
		}
		h.Logger.Error("delete conversation failed", zap.Uint64("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to delete conversation")
		return
	}
	common.OK(c, gin.H{"id": convID})
}
