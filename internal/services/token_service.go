package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/pkg/iothub"
)

// TokenIssuer signs access tokens; iothub.Client implements it.
type TokenIssuer interface {
	CreateToken(ttl time.Duration) (*iothub.AccessToken, error)
}

// TokenService keeps the hub client's access token valid. The client never
// renews on its own, so the agent signs a token on start and signs a new one
// every ttl-renewBefore.
type TokenService struct {
	issuer      TokenIssuer
	ttl         time.Duration
	renewBefore time.Duration
	retryDelay  time.Duration
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTokenService initializes a new TokenService.
func NewTokenService(issuer TokenIssuer, ttl, renewBefore, retryDelay time.Duration, logger zerolog.Logger) *TokenService {
	return &TokenService{
		issuer:      issuer,
		ttl:         ttl,
		renewBefore: renewBefore,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

// Start signs the first token synchronously, so services started after it
// can talk to the hub, then launches the renewal loop.
func (t *TokenService) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx != nil {
		return errors.New("token service is already running")
	}
	if t.renewBefore >= t.ttl {
		return fmt.Errorf("renewal lead %s must be shorter than token ttl %s", t.renewBefore, t.ttl)
	}

	token, err := t.issuer.CreateToken(t.ttl)
	if err != nil {
		return fmt.Errorf("failed to sign initial access token: %w", err)
	}
	t.logger.Info().Time("expires_at", token.ExpiresAt()).Msg("Signed initial access token")

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runRenewalLoop()
	}()

	return nil
}

// Stop ends the renewal loop. The last token stays on the client until it expires.
func (t *TokenService) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx == nil {
		return errors.New("token service is not running")
	}

	t.cancel()
	t.wg.Wait()

	t.ctx = nil
	t.cancel = nil

	t.logger.Info().Msg("TokenService stopped successfully")
	return nil
}

func (t *TokenService) runRenewalLoop() {
	timer := time.NewTimer(t.ttl - t.renewBefore)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			token, err := t.issuer.CreateToken(t.ttl)
			if err != nil {
				t.logger.Error().Err(err).Dur("retry_in", t.retryDelay).Msg("Failed to renew access token")
				timer.Reset(t.retryDelay)
				continue
			}
			t.logger.Debug().Time("expires_at", token.ExpiresAt()).Msg("Access token renewed")
			timer.Reset(t.ttl - t.renewBefore)

		case <-t.ctx.Done():
			return
		}
	}
}
