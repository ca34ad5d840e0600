// Package auth はアカウント登録、ログイン、ベアラートークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/realtime"
	"github.com/hitoshi/chatroom/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	MaxUsernameLength    int
	MaxDisplayNameLength int
}

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	AvatarURL   string
}

// AuthResult は登録・ログイン成功時に返すトークンとユーザー。
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   *TokenManager
	hasher   *PasswordHasher
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	tokens *TokenManager,
	hasher *PasswordHasher,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		hasher:   hasher,
		config:   config,
		now:      time.Now,
	}
}

// Register はアカウントを作成しトークンを発行する。
// ユーザー名またはメールアドレスが既に使用されている場合はDUPLICATE_ACCOUNTを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	if username == "" || email == "" || in.Password == "" {
		return nil, model.NewValidationError("ユーザー名、メールアドレス、パスワードは必須です")
	}
	if utf8.RuneCountInString(username) > s.config.MaxUsernameLength {
		return nil, model.NewValidationError(fmt.Sprintf("ユーザー名は%d文字以内で指定してください", s.config.MaxUsernameLength))
	}
	if utf8.RuneCountInString(displayName) > s.config.MaxDisplayNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("表示名は%d文字以内で指定してください", s.config.MaxDisplayNameLength))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewValidationError("メールアドレスの形式が不正です")
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以内で指定してください", maxPasswordBytes))
	}

	exists, err := s.userRepo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if exists {
		return nil, model.NewDuplicateAccountError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		AvatarURL:    strings.TrimSpace(in.AvatarURL),
		LastSeen:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 存在確認と作成の間に同名ユーザーが作られた場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateAccountError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Login はユーザー名とパスワードを照合しトークンを発行する。
// オンラインフラグの更新はベストエフォートで行う。
func (s *Service) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, model.NewValidationError("ユーザー名とパスワードは必須です")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !s.hasher.Verify(password, user.PasswordHash) {
		return nil, model.NewInvalidCredentialError("ユーザー名またはパスワードが違います")
	}

	now := s.now()
	if err := s.userRepo.SetOnline(ctx, user.ID, true, now); err != nil {
		slog.Warn("failed to mark user online on login",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		user.IsOnline = true
		user.LastSeen = now
	}

	token, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Logout はユーザーのオンラインフラグを落とす。
// トークンはステートレスなため失効させない。
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.userRepo.SetOnline(ctx, userID, false, s.now()); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// CurrentUser は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Authenticate はベアラートークンを検証してユーザーIDを返す。
// HTTP認証ミドルウェアから使用する。
func (s *Service) Authenticate(_ context.Context, token string) (string, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return "", model.NewInvalidCredentialError("トークンの有効期限が切れています")
		}
		return "", model.NewInvalidCredentialError("トークンが不正です")
	}
	return userID, nil
}

// Verify はソケットのauthenticateイベントで受け取ったトークンをIdentityに解決する。
// トークンが不正、またはユーザーが存在しない場合はrealtime.ErrInvalidCredentialを返す。
func (s *Service) Verify(ctx context.Context, credential string) (*realtime.Identity, error) {
	userID, err := s.tokens.Validate(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", realtime.ErrInvalidCredential, err)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: malformed subject", realtime.ErrInvalidCredential)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", realtime.ErrInvalidCredential)
	}

	return &realtime.Identity{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	}, nil
}

// compile-time interface check
var _ realtime.Verifier = (*Service)(nil)
