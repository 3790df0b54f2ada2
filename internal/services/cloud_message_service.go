package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/internal/models"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
)

// MessageHandler processes one cloud-to-device message and decides how it is settled.
type MessageHandler func(msg *iothub.InboundMessage) models.Disposition

// LogHandler logs each message body and completes it.
func LogHandler(logger zerolog.Logger) MessageHandler {
	return func(msg *iothub.InboundMessage) models.Disposition {
		logger.Info().Str("etag", msg.ETag).Str("body", msg.Body).Msg("Received cloud-to-device message")
		return models.DispositionComplete
	}
}

// CloudMessageService polls the device queue and settles each message with
// the disposition its handler returns. It keeps no record of locked messages;
// a message whose settlement fails is redelivered by the hub once the lock
// times out.
type CloudMessageService struct {
	interval   time.Duration
	maxPerPoll int
	client     iothub.DeviceClient
	handler    MessageHandler
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCloudMessageService initializes a new CloudMessageService.
func NewCloudMessageService(interval time.Duration, maxPerPoll int, client iothub.DeviceClient, handler MessageHandler, logger zerolog.Logger) *CloudMessageService {
	if maxPerPoll < 1 {
		maxPerPoll = 1
	}
	return &CloudMessageService{
		interval:   interval,
		maxPerPoll: maxPerPoll,
		client:     client,
		handler:    handler,
		logger:     logger,
	}
}

// Start launches the polling loop.
func (s *CloudMessageService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.New("cloud message service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPollLoop()
	}()

	s.logger.Info().Dur("interval", s.interval).Int("max_per_poll", s.maxPerPoll).Msg("CloudMessageService started successfully")
	return nil
}

// Stop waits for an in-flight poll to finish and stops polling.
func (s *CloudMessageService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return errors.New("cloud message service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("CloudMessageService stopped successfully")
	return nil
}

func (s *CloudMessageService) runPollLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Poll(); err != nil {
				s.logger.Error().Err(err).Msg("Cloud-to-device poll failed")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Poll reads and settles messages until the queue is empty or maxPerPoll
// messages have been handled. An abandoned message goes back to the head of
// the queue, so the poll ends after it and redelivery waits for the next
// interval. It returns the number of messages handled.
func (s *CloudMessageService) Poll() (int, error) {
	handled := 0
	for handled < s.maxPerPoll {
		msg, err := s.client.ReadMessage()
		if err != nil {
			return handled, fmt.Errorf("failed to read message: %w", err)
		}

		if msg.Empty() {
			if msg.StatusCode != http.StatusNoContent {
				return handled, fmt.Errorf("hub answered read with status %d", msg.StatusCode)
			}
			return handled, nil
		}

		disposition := s.handler(msg)
		if err := s.settle(msg.ETag, disposition); err != nil {
			return handled, err
		}
		handled++

		if disposition == models.DispositionAbandon {
			break
		}
	}
	return handled, nil
}

func (s *CloudMessageService) settle(etag string, disposition models.Disposition) error {
	var (
		code int
		err  error
	)
	switch disposition {
	case models.DispositionComplete:
		code, err = s.client.CompleteMessage(etag)
	case models.DispositionReject:
		code, err = s.client.RejectMessage(etag)
	case models.DispositionAbandon:
		code, err = s.client.AbandonMessage(etag)
	default:
		return fmt.Errorf("unknown disposition %q for message %s", disposition, etag)
	}
	if err != nil {
		return fmt.Errorf("failed to %s message %s: %w", disposition, etag, err)
	}

	if code != http.StatusNoContent {
		// The lock is left to expire; the hub will redeliver the message.
		s.logger.Warn().Str("etag", etag).Str("disposition", string(disposition)).Int("status", code).Msg("Hub did not accept settlement")
		return nil
	}

	s.logger.Debug().Str("etag", etag).Str("disposition", string(disposition)).Msg("Message settled")
	return nil
}
