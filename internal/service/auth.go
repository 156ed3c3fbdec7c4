package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"realtime_chat/internal/config"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/jwt"
	"realtime_chat/pkg/logger"
)

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

const phoneCodeDigits = 6

type AuthService interface {
	Identity

	RegisterEmail(ctx context.Context, email, password, displayName string) (*RegisterResponse, error)
	VerifyEmail(ctx context.Context, token string) error
	LoginEmail(ctx context.Context, email, password string) (*LoginResponse, error)
	RequestPhoneCode(ctx context.Context, phone string) error
	VerifyPhoneCode(ctx context.Context, phone, code, displayName string) (*LoginResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
	// ValidateToken returns the user id of a live access token.
	ValidateToken(ctx context.Context, tokenString string) (string, error)
	SignOut(ctx context.Context, userID string) error
	// OnAuthStateChange registers fn for every sign-in and sign-out and
	// returns a func that unregisters it.
	OnAuthStateChange(fn func(domain.AuthState)) func()
}

type RegisterResponse struct {
	User        *domain.Profile `json:"user"`
	VerifyToken string          `json:"verify_token"`
}

type LoginResponse struct {
	User         *domain.Profile `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// CodeSender delivers a phone verification code out of band.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

type logCodeSender struct {
	log logger.Logger
}

// NewLogCodeSender writes codes to the log. Development only.
func NewLogCodeSender(log logger.Logger) CodeSender {
	return &logCodeSender{log: log}
}

func (s *logCodeSender) SendCode(_ context.Context, phone, code string) error {
	s.log.Info("Phone verification code", "phone", phone, "code", code)
	return nil
}

type authService struct {
	contextIdentity

	userRepo         repository.UserRepository
	verificationRepo repository.VerificationRepository
	sessionRepo      repository.SessionRepository
	audit            AuditService
	sender           CodeSender
	jwtCfg           config.JWTConfig
	authCfg          config.AuthConfig
	log              logger.Logger

	mu        sync.RWMutex
	listeners map[int]func(domain.AuthState)
	nextID    int
}

func NewAuthService(
	userRepo repository.UserRepository,
	verificationRepo repository.VerificationRepository,
	sessionRepo repository.SessionRepository,
	audit AuditService,
	sender CodeSender,
	jwtCfg config.JWTConfig,
	authCfg config.AuthConfig,
	log logger.Logger,
) AuthService {
	if sender == nil {
		sender = NewLogCodeSender(log)
	}
	return &authService{
		userRepo:         userRepo,
		verificationRepo: verificationRepo,
		sessionRepo:      sessionRepo,
		audit:            audit,
		sender:           sender,
		jwtCfg:           jwtCfg,
		authCfg:          authCfg,
		log:              log,
		listeners:        make(map[int]func(domain.AuthState)),
	}
}

func (s *authService) RegisterEmail(ctx context.Context, email, password, displayName string) (*RegisterResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)

	if email == "" {
		return nil, fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}
	if len(email) > 255 || !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return nil, fmt.Errorf("%w: invalid email format", apperrors.ErrValidation)
	}
	if len(password) < s.authCfg.MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrValidation, s.authCfg.MinPasswordLength)
	}
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", apperrors.ErrValidation)
	}
	if len(displayName) > 100 {
		return nil, fmt.Errorf("%w: display name is too long (max 100 characters)", apperrors.ErrValidation)
	}

	if existing, err := s.userRepo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUserAlreadyExists, email)
	} else if err != nil && apperrors.KindOf(err) != apperrors.KindNotFound {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("Failed to hash password", "error", err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	profile := &domain.Profile{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Email:       email,
	}
	creds := &domain.Credentials{
		Email:        email,
		PasswordHash: string(passwordHash),
	}
	if err := s.userRepo.Create(ctx, profile, creds); err != nil {
		return nil, err
	}

	verifyToken, err := jwt.GenerateToken(profile.ID, jwt.PurposeVerifyEmail, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer, s.jwtCfg.VerifyTTL)
	if err != nil {
		s.log.Error("Failed to generate verify token", "error", err)
		return nil, err
	}

	logAudit(ctx, s.audit, s.log, profile.ID, domain.EventTypeUserRegistered, profile.ID, map[string]interface{}{
		"method": domain.AuthMethodEmail,
	})
	s.log.Info("User registered", "user_id", profile.ID)

	return &RegisterResponse{User: profile, VerifyToken: verifyToken}, nil
}

func (s *authService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := jwt.ValidatePurpose(token, s.jwtCfg.AccessSecret, jwt.PurposeVerifyEmail)
	if err != nil {
		return err
	}
	return s.userRepo.MarkEmailVerified(ctx, claims.UserID)
}

func (s *authService) LoginEmail(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperrors.ErrValidation)
	}

	creds, err := s.userRepo.GetCredentialsByEmail(ctx, email)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	if !creds.EmailVerified {
		return nil, fmt.Errorf("%w: email is not verified", apperrors.ErrForbidden)
	}

	return s.signIn(ctx, creds.UserID, domain.AuthMethodEmail)
}

func (s *authService) RequestPhoneCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: phone must be in E.164 format", apperrors.ErrValidation)
	}

	code, err := generateCode(phoneCodeDigits)
	if err != nil {
		s.log.Error("Failed to generate phone code", "error", err)
		return err
	}
	if err := s.verificationRepo.SaveCode(ctx, phone, code, s.authCfg.PhoneCodeTTL); err != nil {
		return err
	}
	if err := s.sender.SendCode(ctx, phone, code); err != nil {
		s.log.Error("Failed to send phone code", "error", err, "phone", phone)
		return err
	}
	return nil
}

func (s *authService) VerifyPhoneCode(ctx context.Context, phone, code, displayName string) (*LoginResponse, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if !phonePattern.MatchString(phone) {
		return nil, fmt.Errorf("%w: phone must be in E.164 format", apperrors.ErrValidation)
	}
	if len(code) != phoneCodeDigits {
		return nil, fmt.Errorf("%w: code must have %d digits", apperrors.ErrValidation, phoneCodeDigits)
	}

	stored, attempts, err := s.verificationRepo.GetCode(ctx, phone)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, fmt.Errorf("%w: no pending code for this phone", apperrors.ErrInvalidCredentials)
		}
		return nil, err
	}
	if attempts >= s.authCfg.PhoneCodeMaxAttempts {
		_ = s.verificationRepo.DeleteCode(ctx, phone)
		return nil, fmt.Errorf("%w: too many attempts, request a new code", apperrors.ErrRateLimited)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		if _, err := s.verificationRepo.IncrementAttempts(ctx, phone); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrInvalidCredentials
	}
	if err := s.verificationRepo.DeleteCode(ctx, phone); err != nil {
		s.log.Warn("Failed to delete used phone code", "error", err)
	}

	profile, err := s.userRepo.GetByPhone(ctx, phone)
	switch apperrors.KindOf(err) {
	case apperrors.KindNone:
	case apperrors.KindNotFound:
		profile, err = s.createPhoneUser(ctx, phone, displayName)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return s.signIn(ctx, profile.ID, domain.AuthMethodPhone)
}

func (s *authService) createPhoneUser(ctx context.Context, phone, displayName string) (*domain.Profile, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = phone
	}
	profile := &domain.Profile{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Phone:       phone,
	}
	if err := s.userRepo.Create(ctx, profile, &domain.Credentials{Phone: phone}); err != nil {
		return nil, err
	}
	logAudit(ctx, s.audit, s.log, profile.ID, domain.EventTypeUserRegistered, profile.ID, map[string]interface{}{
		"method": domain.AuthMethodPhone,
	})
	s.log.Info("User registered", "user_id", profile.ID, "method", domain.AuthMethodPhone)
	return profile, nil
}

func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	claims, err := jwt.ValidatePurpose(refreshToken, s.jwtCfg.RefreshSecret, jwt.PurposeRefresh)
	if err != nil {
		return nil, err
	}
	generation, err := s.checkSession(ctx, claims)
	if err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, claims.UserID); err != nil {
		return nil, err
	}
	return s.issueTokens(claims.UserID, generation)
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (string, error) {
	claims, err := jwt.ValidatePurpose(tokenString, s.jwtCfg.AccessSecret, jwt.PurposeAccess)
	if err != nil {
		return "", err
	}
	if _, err := s.checkSession(ctx, claims); err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *authService) SignOut(ctx context.Context, userID string) error {
	if err := requireSelf(ctx, s, userID); err != nil {
		return err
	}
	if _, err := s.sessionRepo.Bump(ctx, userID); err != nil {
		return err
	}
	s.log.Info("User signed out", "user_id", userID)
	s.notify(domain.AuthState{UserID: userID, Event: domain.AuthEventSignedOut, At: time.Now().UTC()})
	return nil
}

func (s *authService) OnAuthStateChange(fn func(domain.AuthState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *authService) notify(state domain.AuthState) {
	s.mu.RLock()
	fns := make([]func(domain.AuthState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (s *authService) signIn(ctx context.Context, userID, method string) (*LoginResponse, error) {
	profile, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	generation, err := s.sessionRepo.Generation(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.issueTokens(userID, generation)
	if err != nil {
		return nil, err
	}

	s.log.Info("User signed in", "user_id", userID, "method", method)
	s.notify(domain.AuthState{UserID: userID, Event: domain.AuthEventSignedIn, Method: method, At: time.Now().UTC()})

	return &LoginResponse{
		User:         profile,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}

func (s *authService) issueTokens(userID string, generation int64) (*TokenResponse, error) {
	accessToken, err := jwt.GenerateSessionToken(userID, jwt.PurposeAccess, generation, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer, s.jwtCfg.AccessTTL)
	if err != nil {
		s.log.Error("Failed to generate access token", "error", err)
		return nil, err
	}
	refreshToken, err := jwt.GenerateSessionToken(userID, jwt.PurposeRefresh, generation, s.jwtCfg.RefreshSecret, s.jwtCfg.Issuer, s.jwtCfg.RefreshTTL)
	if err != nil {
		s.log.Error("Failed to generate refresh token", "error", err)
		return nil, err
	}
	return &TokenResponse{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// checkSession rejects tokens minted before the user's last sign-out.
func (s *authService) checkSession(ctx context.Context, claims *jwt.Claims) (int64, error) {
	generation, err := s.sessionRepo.Generation(ctx, claims.UserID)
	if err != nil {
		return 0, err
	}
	if claims.Session != generation {
		return 0, fmt.Errorf("%w: session has been signed out", apperrors.ErrInvalidToken)
	}
	return generation, nil
}

func generateCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
