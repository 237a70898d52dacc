package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// TokenRepository keeps one OAuth token per user. A login first stores a nonce, the callback
// completes the row with the token.
type TokenRepository interface {
	StartAuth(ctx context.Context, userId int, nonce string) error
	CompleteAuth(ctx context.Context, nonce string, token *oauth2.Token) error
	GetToken(ctx context.Context, userId int) (*oauth2.Token, error)
	StoreToken(ctx context.Context, userId int, token *oauth2.Token) error
	Delete(ctx context.Context, userId int) error
}

var ErrUnknownNonce = errors.New("unknown google auth nonce")

type TokenRepositoryImpl struct {
	db *pgxpool.Pool
}

func NewTokenRepository(db *pgxpool.Pool) *TokenRepositoryImpl {
	return &TokenRepositoryImpl{db: db}
}

func (r *TokenRepositoryImpl) StartAuth(ctx context.Context, userId int, nonce string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO google_calendar_auth (user_id, nonce) VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE SET nonce = EXCLUDED.nonce, access_token = NULL, refresh_token = NULL, expiry = NULL`,
		userId, nonce)
	if err != nil {
		log.Errorf("failed to store Google auth nonce for user %d: %v", userId, err)
		return err
	}
	return nil
}

func (r *TokenRepositoryImpl) CompleteAuth(ctx context.Context, nonce string, token *oauth2.Token) error {
	tag, err := r.db.Exec(ctx, `UPDATE google_calendar_auth SET access_token = $1, refresh_token = $2, expiry = $3 WHERE nonce = $4`,
		token.AccessToken, token.RefreshToken, expiryOf(token), nonce)
	if err != nil {
		log.Errorf("failed to store Google auth token: %v", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownNonce
	}
	return nil
}

// GetToken returns nil when the user never completed the authorization.
func (r *TokenRepositoryImpl) GetToken(ctx context.Context, userId int) (*oauth2.Token, error) {
	var accessToken, refreshToken pgtype.Text
	var expiry pgtype.Timestamptz
	err := r.db.QueryRow(ctx, `SELECT access_token, refresh_token, expiry FROM google_calendar_auth WHERE user_id = $1`, userId).
		Scan(&accessToken, &refreshToken, &expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google auth token: %w", err)
	}
	if !accessToken.Valid {
		return nil, nil
	}
	token := &oauth2.Token{AccessToken: accessToken.String, RefreshToken: refreshToken.String}
	if expiry.Valid {
		token.Expiry = expiry.Time
	}
	return token, nil
}

func (r *TokenRepositoryImpl) StoreToken(ctx context.Context, userId int, token *oauth2.Token) error {
	_, err := r.db.Exec(ctx, `UPDATE google_calendar_auth SET access_token = $1, refresh_token = $2, expiry = $3 WHERE user_id = $4`,
		token.AccessToken, token.RefreshToken, expiryOf(token), userId)
	if err != nil {
		log.Errorf("failed to store refreshed Google token for user %d: %v", userId, err)
	}
	return err
}

func (r *TokenRepositoryImpl) Delete(ctx context.Context, userId int) error {
	_, err := r.db.Exec(ctx, `DELETE FROM google_calendar_auth WHERE user_id = $1`, userId)
	if err != nil {
		log.Errorf("failed to delete Google auth row for user %d: %v", userId, err)
	}
	return err
}

// expiryOf stores tokens without expiry as NULL.
func expiryOf(token *oauth2.Token) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: token.Expiry, Valid: !token.Expiry.IsZero()}
}

type TokenRepositoryStub struct {
	nonces map[string]int
	tokens map[int]*oauth2.Token
}

func NewTokenRepositoryStub() *TokenRepositoryStub {
	return &TokenRepositoryStub{nonces: map[string]int{}, tokens: map[int]*oauth2.Token{}}
}

func (s *TokenRepositoryStub) StartAuth(ctx context.Context, userId int, nonce string) error {
	s.nonces[nonce] = userId
	delete(s.tokens, userId)
	return nil
}

func (s *TokenRepositoryStub) CompleteAuth(ctx context.Context, nonce string, token *oauth2.Token) error {
	userId, ok := s.nonces[nonce]
	if !ok {
		return ErrUnknownNonce
	}
	s.tokens[userId] = token
	return nil
}

func (s *TokenRepositoryStub) GetToken(ctx context.Context, userId int) (*oauth2.Token, error) {
	return s.tokens[userId], nil
}

func (s *TokenRepositoryStub) StoreToken(ctx context.Context, userId int, token *oauth2.Token) error {
	s.tokens[userId] = token
	return nil
}

func (s *TokenRepositoryStub) Delete(ctx context.Context, userId int) error {
	delete(s.tokens, userId)
	return nil
}

// persistingTokenSource saves a token again whenever the underlying source refreshed it.
type persistingTokenSource struct {
	source  oauth2.TokenSource
	repo    TokenRepository
	userId  int
	current string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.source.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.current {
		p.current = token.AccessToken
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.repo.StoreToken(ctx, p.userId, token); err != nil {
			log.Warnf("refreshed Google token of user %d not persisted: %v", p.userId, err)
		}
	}
	return token, nil
}
