package tokenization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/logger"
	"paybroker/internal/metrics"
	"paybroker/internal/models"
	"paybroker/internal/providers"
	"paybroker/internal/repositories"
	"paybroker/internal/validation"
)

const (
	resultSuccess  = "success"
	resultExisting = "existing"
	resultFailure  = "failure"

	// failureWriteTimeout bounds best-effort writes made after the request
	// context may already be gone.
	failureWriteTimeout = 5 * time.Second
)

type service struct {
	repo      repositories.TokenizationRepository
	providers ProviderResolver
	config    Config
	logger    *zap.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService creates a new tokenization service
func NewService(
	repo repositories.TokenizationRepository,
	resolver ProviderResolver,
	config Config,
	log *zap.Logger,
	m metrics.MetricsCollector,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if resolver == nil {
		panic("provider resolver is required")
	}

	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.CompletionLease <= 0 {
		config.CompletionLease = DefaultCompletionLease
	}
	if config.DefaultAlias == "" {
		config.DefaultAlias = DefaultAlias
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NoopMetricsCollector{}
	}

	return &service{
		repo:      repo,
		providers: resolver,
		config:    config,
		logger:    log.Named("tokenization"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) TokenizeDirect(ctx context.Context, identity models.Identity, req DirectRequest) (*models.CardView, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if !identity.Owns(req.UserID) {
		return nil, appErrors.Forbidden("Cannot tokenize cards for another user")
	}

	capability, err := s.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	shape := capability.Shape()
	if shape == providers.ShapeRedirect {
		return nil, appErrors.MethodNotSupported(
			fmt.Sprintf("Provider '%s' requires a tokenization session", req.Provider))
	}

	now := s.now()
	v := validation.New()
	if shape == providers.ShapeVault || req.CardToken != "" {
		v.Required("card_token", req.CardToken)
	} else {
		v.Card(req.CardNumber, req.CardExpMonth, req.CardExpYear, req.CardCVV, now)
	}
	v.MaxLength("card_holder_name", req.CardHolderName, validation.MaxHolderNameLength)
	v.MaxLength("alias", req.Alias, validation.MaxAliasLength)
	if err := v.Err(); err != nil {
		return nil, err
	}

	email := req.Email
	if email == "" {
		email = identity.Email
	}
	res, err := capability.TokenizeDirect(ctx, providers.DirectTokenizeInput{
		CardNumber: req.CardNumber,
		ExpMonth:   req.CardExpMonth,
		ExpYear:    req.CardExpYear,
		CVV:        req.CardCVV,
		HolderName: req.CardHolderName,
		CardToken:  req.CardToken,
		Email:      email,
	})
	if err != nil {
		s.metrics.RecordTokenization(req.Provider, string(shape), resultFailure)
		s.logger.Warn("direct tokenization failed",
			zap.String("provider", req.Provider), zap.String("user_id", identity.UserID), zap.Error(err))
		return nil, appErrors.WrapAs(err, appErrors.CodeTokenizationCompletionFailed, "failed to tokenize card")
	}

	cr := cardRequest{
		userID:       identity.UserID,
		provider:     req.Provider,
		alias:        req.Alias,
		setAsDefault: req.SetAsDefault,
	}
	card, existed, err := s.storeCard(ctx, cr, res, func(tx repositories.TokenizationRepository, card *models.PaymentCard) error {
		tokenID := card.CardID
		return tx.CreateSession(ctx, &models.TokenizationSession{
			SessionID:    directSessionPrefix + uuid.NewString(),
			UserID:       identity.UserID,
			Provider:     req.Provider,
			Status:       models.SessionStatusCompleted,
			Type:         models.SessionTypeDirect,
			TokenID:      &tokenID,
			Alias:        card.Alias,
			SetAsDefault: req.SetAsDefault,
			CreatedAt:    now,
			ExpiresAt:    now,
			CompletedAt:  &now,
			CardDetail:   logger.Sanitize(res.Detail),
		})
	})
	if err != nil {
		s.metrics.RecordTokenization(req.Provider, string(shape), resultFailure)
		return nil, appErrors.From(err)
	}

	s.recordStored(req.Provider, string(shape), existed)
	s.logger.Info("card tokenized",
		zap.String("provider", req.Provider),
		zap.String("user_id", identity.UserID),
		zap.String("card_id", card.CardID),
		zap.String("last_four", card.CardLastFour),
		zap.Bool("existing", existed),
	)
	return card.View(), nil
}

func (s *service) CreateSession(ctx context.Context, identity models.Identity, req SessionRequest) (*SessionResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if !identity.Owns(req.UserID) {
		return nil, appErrors.Forbidden("Cannot create sessions for another user")
	}

	v := validation.New()
	v.MaxLength("alias", req.Alias, validation.MaxAliasLength)
	if err := v.Err(); err != nil {
		return nil, err
	}

	capability, err := s.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	if capability.Shape() != providers.ShapeRedirect {
		return nil, appErrors.MethodNotSupported(
			fmt.Sprintf("Provider '%s' does not use tokenization sessions", req.Provider))
	}

	email := req.Email
	if email == "" {
		email = identity.Email
	}
	handle, err := capability.CreateSession(ctx, providers.SessionInput{
		UserID:    identity.UserID,
		ReturnURL: req.ReturnURL,
		Email:     email,
	})
	if err != nil {
		s.logger.Warn("session creation failed",
			zap.String("provider", req.Provider), zap.String("user_id", identity.UserID), zap.Error(err))
		return nil, appErrors.WrapAs(err, appErrors.CodeSessionCreationFailed, "failed to create tokenization session")
	}

	alias := req.Alias
	if alias == "" {
		alias = s.config.DefaultAlias
	}
	now := s.now()
	session := &models.TokenizationSession{
		SessionID:     handle.SessionID,
		UserID:        identity.UserID,
		Provider:      req.Provider,
		Status:        models.SessionStatusPending,
		Type:          models.SessionTypeRedirect,
		ProviderToken: handle.Token,
		Username:      handle.Username,
		Email:         handle.Email,
		Alias:         alias,
		SetAsDefault:  req.SetAsDefault,
		RedirectURL:   handle.RedirectURL,
		ReturnURL:     req.ReturnURL,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.config.SessionTTL),
		Metadata:      sessionMetadata(req.Metadata, identity.TrustMetadata),
	}
	if req.FinishRedirectURL != "" {
		finish := req.FinishRedirectURL
		session.FinishRedirectURL = &finish
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, appErrors.Internal(err)
	}

	s.logger.Info("tokenization session created",
		zap.String("session_id", session.SessionID),
		zap.String("provider", req.Provider),
		zap.String("user_id", identity.UserID),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return &SessionResponse{
		SessionID:   session.SessionID,
		RedirectURL: handle.RedirectURL,
		Token:       handle.Token,
		Template:    handle.Template,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *service) CompleteSession(ctx context.Context, provider, sessionID string, callback map[string]string) (*CompletionResult, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, appErrors.NotFound("Tokenization session not found")
		}
		return nil, appErrors.Internal(err)
	}
	if session.Provider != provider {
		return nil, appErrors.Validation(
			fmt.Sprintf("Tokenization session does not belong to provider '%s'", provider))
	}

	// Checked before any provider call: the provider side completion is not
	// idempotent.
	if session.IsCompleted() {
		return nil, appErrors.SessionAlreadyCompleted()
	}

	now := s.now()
	leaseCutoff := now.Add(-s.config.CompletionLease)
	if session.Expired(now) {
		expired := appErrors.SessionExpired()
		s.expireSession(ctx, session.SessionID, expired, leaseCutoff)
		return nil, expired
	}
	if session.Status == models.SessionStatusFailed {
		s.logger.Info("retrying failed tokenization session",
			zap.String("session_id", session.SessionID), zap.Stringp("previous_error", session.ErrorCode))
	}

	attemptID := uuid.NewString()
	claimed, err := s.repo.ClaimSession(ctx, session.SessionID, attemptID, now, leaseCutoff)
	if err != nil {
		return nil, appErrors.Internal(err)
	}
	if !claimed {
		return nil, s.claimConflict(ctx, session.SessionID)
	}

	result, err := s.completeClaimed(ctx, session, attemptID, callback, now)
	if err != nil {
		s.metrics.RecordTokenization(session.Provider, string(providers.ShapeRedirect), resultFailure)
		s.failSession(ctx, session.SessionID, attemptID, err)
		s.logger.Warn("tokenization session completion failed",
			zap.String("session_id", session.SessionID), zap.String("provider", session.Provider), zap.Error(err))
		return nil, appErrors.WrapAs(err, appErrors.CodeTokenizationCompletionFailed, "failed to complete tokenization")
	}
	return result, nil
}

func (s *service) completeClaimed(
	ctx context.Context,
	session *models.TokenizationSession,
	attemptID string,
	callback map[string]string,
	now time.Time,
) (*CompletionResult, error) {
	capability, err := s.providers.Resolve(session.Provider)
	if err != nil {
		return nil, err
	}

	res, err := capability.CompleteSession(ctx, providers.SessionCompletion{
		ProviderToken: session.ProviderToken,
		Username:      session.Username,
		Email:         session.Email,
		Callback:      callback,
	})
	if err != nil {
		return nil, err
	}

	cr := cardRequest{
		userID:       session.UserID,
		provider:     session.Provider,
		alias:        session.Alias,
		setAsDefault: session.SetAsDefault,
	}
	detail := logger.Sanitize(res.Detail)
	card, existed, err := s.storeCard(ctx, cr, res, func(tx repositories.TokenizationRepository, card *models.PaymentCard) error {
		err := tx.CompleteSession(ctx, session.SessionID, attemptID, card.CardID, detail, now)
		if errors.Is(err, repositories.ErrClaimLost) {
			return appErrors.SessionCompletionInProgress()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordStored(session.Provider, string(providers.ShapeRedirect), existed)
	s.logger.Info("tokenization session completed",
		zap.String("session_id", session.SessionID),
		zap.String("provider", session.Provider),
		zap.String("user_id", session.UserID),
		zap.String("card_id", card.CardID),
		zap.Bool("existing", existed),
	)
	return &CompletionResult{
		SessionID:         session.SessionID,
		Card:              card.View(),
		Existing:          existed,
		FinishRedirectURL: session.FinishRedirectURL,
	}, nil
}

// claimConflict explains why a claim was refused.
func (s *service) claimConflict(ctx context.Context, sessionID string) error {
	current, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return appErrors.Internal(err)
	}
	if current.IsCompleted() {
		return appErrors.SessionAlreadyCompleted()
	}
	return appErrors.SessionCompletionInProgress()
}

// storeCard saves the provider result as a card, or picks up the card the
// user already has for the same instrument, and runs finish in the same
// transaction. A unique index race is retried once so it resolves to the
// winning row.
func (s *service) storeCard(
	ctx context.Context,
	req cardRequest,
	res *providers.CardResult,
	finish func(tx repositories.TokenizationRepository, card *models.PaymentCard) error,
) (*models.PaymentCard, bool, error) {
	var (
		card    *models.PaymentCard
		existed bool
	)
	for attempt := 0; attempt < 2; attempt++ {
		err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.TokenizationRepository) error {
			existing, err := tx.FindCardByIdentity(ctx, req.userID, req.provider, res.PaymentToken, res.LastFour, res.Brand)
			switch {
			case err == nil:
				card, existed = existing, true
				return finish(tx, card)
			case !errors.Is(err, repositories.ErrCardNotFound):
				return err
			}

			card, existed = newCard(req, res), false
			if err := tx.CreateCard(ctx, card); err != nil {
				return err
			}
			if card.IsDefault {
				if err := tx.ClearOtherDefaults(ctx, req.userID, card.CardID); err != nil {
					return err
				}
			}
			return finish(tx, card)
		})
		if errors.Is(err, repositories.ErrDuplicateCard) {
			s.logger.Info("card created concurrently, resolving to existing card",
				zap.String("user_id", req.userID), zap.String("provider", req.provider))
			continue
		}
		return card, existed, err
	}
	return nil, false, repositories.ErrDuplicateCard
}

func newCard(req cardRequest, res *providers.CardResult) *models.PaymentCard {
	card := &models.PaymentCard{
		CardID:                 uuid.NewString(),
		UserID:                 req.userID,
		Provider:               req.provider,
		PaymentToken:           res.PaymentToken,
		CardLastFour:           res.LastFour,
		CardBrand:              res.Brand,
		CardType:               res.CardType,
		Alias:                  req.alias,
		CardHolderName:         res.HolderName,
		ProviderUsername:       res.Username,
		ExpirationMonth:        res.ExpMonth,
		ExpirationYear:         res.ExpYear,
		IsDefault:              req.setAsDefault,
		TokenExpiresAt:         res.TokenExpiresAt,
		RequiresCVVForPayments: res.RequiresCVV,
	}
	if card.CardType == "" {
		card.CardType = models.CardTypeOther
	}
	if res.AuthorizationCode != "" {
		code := res.AuthorizationCode
		card.AuthorizationCode = &code
	}
	return card
}

// failSession records a failed attempt. It is best effort: a write failure
// is logged and never replaces cause.
func (s *service) failSession(ctx context.Context, sessionID, attemptID string, cause error) {
	gw := appErrors.From(cause)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := s.repo.FailSession(writeCtx, sessionID, attemptID, sessionFailure(gw), s.now()); err != nil {
		s.logger.Error("failed to record session failure",
			zap.String("session_id", sessionID), zap.String("error_code", gw.Code), zap.Error(err))
	}
}

// expireSession records the expiry unless an earlier attempt still holds a
// live claim; that attempt owns the outcome.
func (s *service) expireSession(ctx context.Context, sessionID string, cause *appErrors.GatewayError, leaseCutoff time.Time) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	written, err := s.repo.ExpireSession(writeCtx, sessionID, sessionFailure(cause), s.now(), leaseCutoff)
	if err != nil {
		s.logger.Error("failed to record session expiry", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !written {
		s.logger.Info("expired session still claimed, leaving it to the running attempt",
			zap.String("session_id", sessionID))
	}
}

func sessionFailure(gw *appErrors.GatewayError) repositories.SessionFailure {
	failure := repositories.SessionFailure{Code: gw.Code, Message: gw.Message}
	if details, ok := gw.Details.(map[string]interface{}); ok {
		failure.Details = logger.Sanitize(details)
	}
	return failure
}

func (s *service) recordStored(provider, shape string, existed bool) {
	result := resultSuccess
	if existed {
		result = resultExisting
	}
	s.metrics.RecordTokenization(provider, shape, result)
}

func (s *service) CallbackSessionID(provider string, params map[string]string) (string, error) {
	capability, err := s.providers.Resolve(provider)
	if err != nil {
		return "", err
	}
	return capability.CallbackSessionID(params)
}

func (s *service) GetSession(ctx context.Context, identity models.Identity, sessionID string) (*models.TokenizationSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, appErrors.NotFound("Tokenization session not found")
		}
		return nil, appErrors.Internal(err)
	}
	if session.UserID != identity.UserID {
		return nil, appErrors.Forbidden("Session belongs to another user")
	}
	return session, nil
}

func (s *service) ListCards(ctx context.Context, identity models.Identity) ([]*models.CardView, error) {
	cards, err := s.repo.ListCards(ctx, identity.UserID)
	if err != nil {
		return nil, appErrors.Internal(err)
	}
	views := make([]*models.CardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, c.View())
	}
	return views, nil
}

func (s *service) SetDefaultCard(ctx context.Context, identity models.Identity, cardID string) (*models.CardView, error) {
	card, err := s.repo.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, repositories.ErrCardNotFound) {
			return nil, appErrors.NotFound("Card not found")
		}
		return nil, appErrors.Internal(err)
	}
	if card.UserID != identity.UserID {
		return nil, appErrors.Forbidden("Card belongs to another user")
	}

	if err := s.repo.SetDefaultCard(ctx, identity.UserID, cardID); err != nil {
		if errors.Is(err, repositories.ErrCardNotFound) {
			return nil, appErrors.NotFound("Card not found")
		}
		return nil, appErrors.Internal(err)
	}
	card.IsDefault = true
	return card.View(), nil
}

func sessionMetadata(request, trust map[string]interface{}) map[string]interface{} {
	if len(request) == 0 && len(trust) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(request)+1)
	for k, v := range request {
		out[k] = v
	}
	if len(trust) > 0 {
		out["trust_metadata"] = trust
	}
	return out
}
