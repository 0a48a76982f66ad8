package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/fitmate-chat/internal/chat"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPermanent marks failures that a retry cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// TitleGenerator is the part of chat.Service the processor needs.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, userID uint64, conversationID string) (string, error)
}

type Processor struct {
	repo   *chat.Repo
	titles TitleGenerator
	logger *zap.Logger
}

func NewProcessor(repo *chat.Repo, titles TitleGenerator, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{repo: repo, titles: titles, logger: logger}
}

// Handle runs one job and records its outcome on the job row.
func (p *Processor) Handle(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	if err := p.repo.UpdateJobStatusRunning(ctx, jobID); err != nil {
		return err
	}
	j, err := p.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// conversation deleted together with its jobs
			return fmt.Errorf("%w: job %s not found", ErrPermanent, jobID)
		}
		return err
	}
	if j.Status == chat.JobSucceeded {
		return nil
	}

	var runErr error
	switch j.Kind {
	case chat.JobTitle:
		var title string
		title, runErr = p.titles.GenerateTitle(ctx, j.UserID, j.ConversationID)
		if runErr == nil {
			p.logger.Debug("conversation titled",
				zap.String("conversation_id", j.ConversationID), zap.String("title", title))
		} else if errors.Is(runErr, gorm.ErrRecordNotFound) {
			runErr = fmt.Errorf("%w: %v", ErrPermanent, runErr)
		}
	default:
		runErr = fmt.Errorf("%w: unknown job kind %q", ErrPermanent, j.Kind)
	}

	if runErr != nil {
		if err := p.repo.MarkJobFailed(ctx, jobID, runErr.Error()); err != nil {
			p.logger.Warn("mark job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		p.logger.Warn("job failed",
			zap.String("job_id", jobID),
			zap.String("kind", string(j.Kind)),
			zap.Duration("cost", time.Since(jobStart)),
			zap.Error(runErr))
		return runErr
	}

	if err := p.repo.MarkJobSucceeded(ctx, jobID); err != nil {
		return err
	}
	if total := time.Since(jobStart); total > 2*time.Second {
		p.logger.Info("slow job", zap.String("job_id", jobID), zap.Duration("total", total))
	}
	return nil
}
