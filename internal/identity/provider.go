package identity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/repository/cockroach"
	"relaychat-backend/pkg/cache"
	apperrors "relaychat-backend/pkg/errors"
	"relaychat-backend/pkg/jwt"
)

const (
	userCacheTTL  = 5 * time.Minute
	userCacheSize = 10000
)

// Identity holds the resolved subject of a validated credential
type Identity struct {
	UserID   uuid.UUID
	Username string
	IsActive bool
}

// Provider resolves credentials and user records issued by the
// identity platform. The chat service only reads identities, it never
// creates or mutates them.
type Provider interface {
	ValidateCredential(ctx context.Context, token string) (*Identity, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetUsersByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error)
}

// UserReader is the directory lookup the provider needs
type UserReader interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error)
}

// JWTProvider validates platform-issued JWTs and resolves users from
// the replicated user directory. Directory reads are cached with a
// short TTL, so deactivations take effect within userCacheTTL.
type JWTProvider struct {
	jwtManager *jwt.Manager
	users      UserReader
	userCache  *cache.MemoryCache
}

// NewJWTProvider creates a provider backed by a JWT manager and the user directory
func NewJWTProvider(jwtManager *jwt.Manager, users UserReader) *JWTProvider {
	return &JWTProvider{
		jwtManager: jwtManager,
		users:      users,
		userCache:  cache.NewMemoryCache(userCacheTTL, userCacheSize),
	}
}

// ValidateCredential verifies the token signature and checks the
// subject is still an active user
func (p *JWTProvider) ValidateCredential(ctx context.Context, token string) (*Identity, error) {
	claims, err := p.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, apperrors.InvalidTokenError("Invalid or expired token")
	}

	if claims.UserID == uuid.Nil {
		return nil, apperrors.InvalidTokenError("Invalid token subject")
	}

	user, err := p.lookupUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.UnauthenticatedError("Unknown user")
		}
		return nil, apperrors.DatabaseError(err)
	}

	if !user.IsActive {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeInactiveUser, "User account is deactivated", http.StatusUnauthorized)
	}

	return &Identity{
		UserID:   user.UserID,
		Username: claims.Username,
		IsActive: user.IsActive,
	}, nil
}

// GetUserByID resolves a single user from the directory
func (p *JWTProvider) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := p.lookupUser(ctx, userID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return user, nil
}

// GetUsersByIDs resolves users in batch, skipping unknown IDs
func (p *JWTProvider) GetUsersByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error) {
	users := make([]*domain.User, 0, len(userIDs))
	missing := make([]uuid.UUID, 0)

	for _, id := range userIDs {
		if cached, ok := p.userCache.Get(id.String()); ok {
			users = append(users, cached.(*domain.User))
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		fetched, err := p.users.GetByIDs(ctx, missing)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		for _, user := range fetched {
			p.userCache.Set(user.UserID.String(), user, 0)
			users = append(users, user)
		}
	}

	return users, nil
}

func (p *JWTProvider) lookupUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if cached, ok := p.userCache.Get(userID.String()); ok {
		return cached.(*domain.User), nil
	}

	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	p.userCache.Set(userID.String(), user, 0)
	return user, nil
}
