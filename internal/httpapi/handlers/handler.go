package handlers

import (
	"github.com/suPer8Hu/fitmate-chat/internal/chat"
	"github.com/suPer8Hu/fitmate-chat/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Logger  *zap.Logger
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chatSvc,
		Logger:  logger,
	}
}
