package service

import (
	"context"
	"errors"
	"time"

	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/database"
	"aibot-go/pkg/hash"
	"aibot-go/pkg/token"

	"gorm.io/gorm"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// RegisterInput is the member self-registration payload.
type RegisterInput struct {
	Username string
	Password string
	FullName string
	Email    string
	Phone    string
	PlanTier string
	Company  string
}

// MemberService handles member accounts and authentication.
type MemberService interface {
	Register(schema tenant.Schema, in RegisterInput) (*model.Member, error)
	// Login authenticates the member and opens a chat session bound to their
	// tenant schema.
	Login(ctx context.Context, schema tenant.Schema, username, password string) (accessToken, refreshToken string, session *model.Session, err error)
	GetProfile(username string) (*model.Member, error)
	Logout(ctx context.Context, tokenString string) error
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

type memberService struct {
	memberRepo repository.MemberRepository
	convRepo   repository.ConversationRepository
	jwtManager *token.JWTManager
}

// NewMemberService creates a MemberService.
func NewMemberService(memberRepo repository.MemberRepository, convRepo repository.ConversationRepository, jwtManager *token.JWTManager) MemberService {
	return &memberService{
		memberRepo: memberRepo,
		convRepo:   convRepo,
		jwtManager: jwtManager,
	}
}

func (s *memberService) Register(schema tenant.Schema, in RegisterInput) (*model.Member, error) {
	_, err := s.memberRepo.FindByUsername(in.Username)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	member := &model.Member{
		TenantSchema: string(schema),
		Username:     in.Username,
		Password:     hashedPassword,
		FullName:     in.FullName,
		Email:        in.Email,
		Phone:        in.Phone,
		PlanTier:     in.PlanTier,
		Company:      in.Company,
		Role:         "MEMBER",
	}
	if err := s.memberRepo.Create(member); err != nil {
		return nil, err
	}
	return member, nil
}

func (s *memberService) Login(ctx context.Context, schema tenant.Schema, username, password string) (string, string, *model.Session, error) {
	member, err := s.memberRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", nil, ErrInvalidCredentials
		}
		return "", "", nil, err
	}
	if !hash.CheckPassword(password, member.Password) {
		return "", "", nil, ErrInvalidCredentials
	}
	// Accounts are bound to their tenant; a login against another schema is
	// rejected the same way as a bad password.
	if member.TenantSchema != string(schema) {
		return "", "", nil, ErrInvalidCredentials
	}

	accessToken, err := s.jwtManager.GenerateToken(member.ID, member.Username, member.TenantSchema, member.Role)
	if err != nil {
		return "", "", nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(member.ID, member.Username, member.TenantSchema, member.Role)
	if err != nil {
		return "", "", nil, err
	}

	session, err := s.convRepo.CreateSession(ctx, schema, member.ID)
	if err != nil {
		return "", "", nil, err
	}
	return accessToken, refreshToken, session, nil
}

func (s *memberService) GetProfile(username string) (*model.Member, error) {
	return s.memberRepo.FindByUsername(username)
}

// Logout blacklists the token in Redis for its remaining lifetime.
func (s *memberService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	expiration := time.Until(claims.ExpiresAt.Time)
	if expiration <= 0 {
		return nil
	}
	return database.RDB.Set(ctx, "blacklist:"+tokenString, "true", expiration).Err()
}

func (s *memberService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}
	member, err := s.memberRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", errors.New("member not found")
	}

	newAccessToken, err := s.jwtManager.GenerateToken(member.ID, member.Username, member.TenantSchema, member.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(member.ID, member.Username, member.TenantSchema, member.Role)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}
