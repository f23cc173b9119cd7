package service

import (
	"context"
	"fmt"

	"arenajudge/internal/common/mq"
	"arenajudge/internal/judge/model"
	judgeRepo "arenajudge/internal/judge/repository"
	"arenajudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// FinalStatusHandler reacts to terminal submission events.
type FinalStatusHandler interface {
	HandleFinalStatus(ctx context.Context, event model.StatusEvent) error
}

// HandleFinalStatusMessage processes final status messages from MQ.
func (s *SubmitService) HandleFinalStatusMessage(ctx context.Context, msg *mq.Message) error {
	event, err := judgeRepo.DecodeStatusEvent(msg)
	if err != nil {
		return err
	}
	return s.HandleFinalStatus(ctx, event)
}

// HandleFinalStatus refreshes the live status and fans event out to the registered handlers.
func (s *SubmitService) HandleFinalStatus(ctx context.Context, event model.StatusEvent) error {
	if err := s.saveStatus(ctx, event.Status); err != nil {
		logger.Warn(ctx, "refresh final status failed", zap.String("submission_id", event.Status.SubmissionID), zap.Error(err))
	}
	for _, handler := range s.finalStatusHandlers {
		if handler == nil {
			continue
		}
		if err := handler.HandleFinalStatus(ctx, event); err != nil {
			return fmt.Errorf("handle final status failed: %w", err)
		}
	}
	return nil
}
