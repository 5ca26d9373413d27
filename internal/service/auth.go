package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/magnetlab/backend/internal/domain"
)

// AuthService handles tenant registration, login, and JWT verification.
// Every new tenant starts on the free plan: registration creates the tenant
// row and its free subscription record together, so a tenant never exists
// without a subscription.
type AuthService struct {
	jwtSecret string
	tenants   TenantDirectory
	store     SubscriptionStore
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret string, tenants TenantDirectory, store SubscriptionStore, log zerolog.Logger) *AuthService {
	return &AuthService{
		jwtSecret: jwtSecret,
		tenants:   tenants,
		store:     store,
		validate:  validator.New(),
		log:       log,
	}
}

// Register creates a tenant account with a bcrypt password and its initial
// free subscription.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.TenantResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	exists, err := s.tenants.Exists(ctx, req.Email)
	if err != nil {
		return nil, domain.ErrInternal("failed to check tenant", err)
	}
	if exists {
		return nil, domain.ErrBadRequest("email already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInternal("failed to hash password", err)
	}

	now := time.Now()
	tenant := &domain.Tenant{
		ID:        domain.NewTenantID(),
		Email:     req.Email,
		Name:      req.Name,
		Password:  string(hashedPassword),
		Role:      "tenant",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, domain.ErrInternal("failed to create tenant", err)
	}

	free, err := s.store.CreateFree(ctx, tenant.ID)
	if err != nil {
		return nil, domain.ErrInternal("failed to create free subscription", err)
	}
	if err := s.tenants.SetCurrentSubscription(ctx, tenant.ID, free.ID); err != nil {
		return nil, domain.ErrInternal("failed to link subscription", err)
	}

	s.log.Info().Str("tenant_id", tenant.ID).Msg("tenant registered on free plan")

	return &domain.TenantResponse{
		ID:        tenant.ID,
		Email:     tenant.Email,
		Name:      tenant.Name,
		Role:      tenant.Role,
		CreatedAt: tenant.CreatedAt,
	}, nil
}

// Login validates credentials against the database and returns a JWT token.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	tenant, err := s.tenants.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, domain.ErrInternal("failed to find tenant", err)
	}
	if tenant == nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(tenant.Password), []byte(req.Password)); err != nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub":   tenant.ID,
		"email": tenant.Email,
		"role":  tenant.Role,
		"exp":   time.Now().Add(7 * 24 * time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, domain.ErrInternal("failed to sign token", err)
	}

	return &domain.LoginResponse{
		Token: signed,
		Tenant: domain.LoginTenant{
			ID:    tenant.ID,
			Email: tenant.Email,
			Name:  tenant.Name,
		},
	}, nil
}

// VerifyToken validates a JWT token and returns the claims.
func (s *AuthService) VerifyToken(tokenStr string) (*domain.JWTClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}

	return &domain.JWTClaims{
		Sub:   getClaimString(claims, "sub"),
		Email: getClaimString(claims, "email"),
		Role:  getClaimString(claims, "role"),
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// GetTenantByID returns a tenant profile by ID (for /api/auth/me).
func (s *AuthService) GetTenantByID(ctx context.Context, id string) (*domain.TenantResponse, error) {
	tenant, err := s.tenants.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find tenant", err)
	}
	if tenant == nil {
		return nil, domain.ErrNotFound("tenant not found")
	}
	return &domain.TenantResponse{
		ID:        tenant.ID,
		Email:     tenant.Email,
		Name:      tenant.Name,
		Role:      tenant.Role,
		CreatedAt: tenant.CreatedAt,
	}, nil
}

func formatValidationErrors(err error) string {
	return err.Error()
}
