package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
)

// ErrAuthFailed is returned when both token refresh and re-login fail.
// Jobs must surface this rather than retry blindly.
var ErrAuthFailed = errors.New("ezderm authentication failed")

// expirySkew is subtracted from a JWT exp claim so a token is never
// presented within seconds of expiring.
const expirySkew = 30 * time.Second

// Authenticator is the subset of the gateway the token lifecycle needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*ezderm.LoginResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*ezderm.LoginResponse, error)
}

// Service owns the token lifecycle for the single active identity. It
// implements ezderm.TokenSource: Session returns a currently-valid session,
// refreshing or re-authenticating as needed; Refresh forces a new token.
type Service struct {
	repo   Repository
	auth   Authenticator
	logger zerolog.Logger
	now    func() time.Time

	// Serializes refresh/re-login so concurrent jobs hitting an expired
	// token do not stampede the login endpoint.
	mu sync.Mutex

	// Seed identity used when no record exists yet.
	seedUsername string
	seedPassword string
}

func NewService(repo Repository, auth Authenticator, username, password string, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		auth:         auth,
		logger:       logger.With().Str("component", "token-lifecycle").Logger(),
		now:          time.Now,
		seedUsername: username,
		seedPassword: password,
	}
}

// SetClock replaces the time source, for tests with deterministic expiry.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Session returns a valid session without touching the network when the
// stored token is still fresh.
func (s *Service) Session(ctx context.Context) (ezderm.Session, error) {
	creds, err := s.active(ctx)
	if err != nil {
		return ezderm.Session{}, err
	}

	if creds.HasToken() && s.tokenValid(creds) {
		return ezderm.Session{AccessToken: creds.AccessToken, ServerURL: creds.ServerURL}, nil
	}
	return s.renew(ctx, creds, creds.AccessToken)
}

// Refresh discards the current token and obtains a new one. The gateway
// calls this once per operation when the upstream rejects a token.
func (s *Service) Refresh(ctx context.Context) (ezderm.Session, error) {
	creds, err := s.active(ctx)
	if err != nil {
		return ezderm.Session{}, err
	}
	return s.renew(ctx, creds, creds.AccessToken)
}

// active loads the stored identity, seeding it from configuration on first
// run.
func (s *Service) active(ctx context.Context) (*Credentials, error) {
	creds, err := s.repo.GetActive(ctx)
	if errors.Is(err, ErrNotFound) {
		creds = &Credentials{Username: s.seedUsername, Password: s.seedPassword}
		if err := s.repo.Upsert(ctx, creds); err != nil {
			return nil, fmt.Errorf("seed credentials: %w", err)
		}
		return creds, nil
	}
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// renew runs the refresh-then-relogin state machine as a bounded sequence:
// one refresh attempt, one login attempt, then ErrAuthFailed. No recursion.
// staleToken is the token the caller found invalid; a stored token that
// merely looks fresh by the clock is not trusted if it is the same one,
// since the upstream may have rejected it.
func (s *Service) renew(ctx context.Context, creds *Credentials, staleToken string) (ezderm.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have renewed while we waited on the lock.
	if fresh, err := s.repo.GetActive(ctx); err == nil && fresh.HasToken() {
		if fresh.AccessToken != staleToken && s.tokenValid(fresh) {
			return ezderm.Session{AccessToken: fresh.AccessToken, ServerURL: fresh.ServerURL}, nil
		}
		creds = fresh
	}

	if creds.RefreshToken != "" {
		resp, err := s.auth.RefreshToken(ctx, creds.RefreshToken)
		if err == nil {
			return s.persist(ctx, creds, resp)
		}
		s.logger.Warn().Err(err).Msg("token refresh failed, falling back to login")
	}

	resp, err := s.auth.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		s.logger.Error().Err(err).Str("username", creds.Username).Msg("re-login failed")
		return ezderm.Session{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return s.persist(ctx, creds, resp)
}

// persist stores the new token pair with a fresh issuance timestamp.
func (s *Service) persist(ctx context.Context, creds *Credentials, resp *ezderm.LoginResponse) (ezderm.Session, error) {
	creds.AccessToken = resp.AccessToken
	creds.RefreshToken = resp.RefreshToken
	if url := resp.AppServerURL(); url != "" {
		creds.ServerURL = url
	}
	creds.TokenIssuedAt = s.now().UTC()

	if err := s.repo.Upsert(ctx, creds); err != nil {
		return ezderm.Session{}, fmt.Errorf("persist tokens: %w", err)
	}
	s.logger.Info().Time("issued_at", creds.TokenIssuedAt).Msg("token renewed")
	return ezderm.Session{AccessToken: creds.AccessToken, ServerURL: creds.ServerURL}, nil
}

// tokenValid reports whether the stored access token can still be presented.
// When the token is a JWT its exp claim wins (minus a safety skew); opaque
// tokens fall back to issuedAt + TokenTTL.
func (s *Service) tokenValid(creds *Credentials) bool {
	now := s.now()

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(creds.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return now.Before(exp.Time.Add(-expirySkew))
		}
	}

	return now.Sub(creds.TokenIssuedAt) < TokenTTL
}
