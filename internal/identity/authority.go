// Package identity implements the Session Authority (component A): it
// mints anonymous sessions, signs and verifies bearer tokens for them,
// and tracks the liveness state (last_seen_at, report_count, the
// connection/room a session currently holds) that every other component
// reads off the session hash rather than re-deriving.
package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/minglr/match-relay/internal/cryptoutil"
	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/store"
)

// Authority wraps the Shared State Store with the session lifecycle and
// the HMAC token scheme. Tokens are self-contained (sessionID,
// expiry, signature) so verification never needs a store round trip;
// the store is only consulted to resolve the session's live fields.
type Authority struct {
	store      *store.Store
	signingKey string
	sessionTTL time.Duration
	tokenTTL   time.Duration
}

func New(s *store.Store, signingKey string, sessionTTL, tokenTTL time.Duration) *Authority {
	return &Authority{
		store:      s,
		signingKey: signingKey,
		sessionTTL: sessionTTL,
		tokenTTL:   tokenTTL,
	}
}

// Token is the issued, self-contained bearer credential returned to the
// client: "<sessionID>.<expiresAtUnix>.<hmac>".
type Token string

func (a *Authority) sign(sessionID string, expiresAt int64) string {
	payload := sessionID + "." + strconv.FormatInt(expiresAt, 10)
	return cryptoutil.HMACSHA256Hex(a.signingKey, payload)
}

func (a *Authority) issueToken(sessionID string) Token {
	expiresAt := time.Now().Add(a.tokenTTL).Unix()
	sig := a.sign(sessionID, expiresAt)
	return Token(fmt.Sprintf("%s.%d.%s", sessionID, expiresAt, sig))
}

// Verify checks a token's signature and expiry and returns the session
// ID it names. It never touches the store: an offline-verifiable token
// lets any gateway instance authenticate a connection without a Redis
// round trip on every handshake.
func (a *Authority) Verify(token string) (string, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return "", apperrors.InvalidToken()
	}
	sessionID, expiresAtStr, sig := parts[0], parts[1], parts[2]

	expiresAt, err := strconv.ParseInt(expiresAtStr, 10, 64)
	if err != nil {
		return "", apperrors.InvalidToken()
	}

	expected := a.sign(sessionID, expiresAt)
	if !cryptoutil.ConstantTimeEqual(sig, expected) {
		return "", apperrors.InvalidToken()
	}

	if time.Now().Unix() > expiresAt {
		return "", apperrors.ExpiredToken()
	}

	return sessionID, nil
}

// Issue mints a brand new anonymous session with the given declared
// intent and medium, persists it, and returns its session record and
// signed token.
func (a *Authority) Issue(ctx context.Context, intent model.Intent, medium model.Medium) (model.Session, Token, error) {
	sessionID, err := cryptoutil.RandomID(16)
	if err != nil {
		return model.Session{}, "", apperrors.Fatal("generate session id", err)
	}

	now := time.Now()
	session := model.Session{
		ID:         sessionID,
		CreatedAt:  now,
		LastSeenAt: now,
		Intent:     intent,
		Medium:     medium,
	}

	key := store.SessionKey(sessionID)
	if err := a.store.HSet(ctx, key, session.ToFields()).Err(); err != nil {
		return model.Session{}, "", apperrors.StoreUnavailable(err)
	}
	if err := a.store.Expire(ctx, key, a.sessionTTL).Err(); err != nil {
		return model.Session{}, "", apperrors.StoreUnavailable(err)
	}

	return session, a.issueToken(sessionID), nil
}

// Resolve loads the current live record for a session ID, returning
// UnknownSession if the record has expired or never existed.
func (a *Authority) Resolve(ctx context.Context, sessionID string) (model.Session, error) {
	fields, err := a.store.HGetAll(ctx, store.SessionKey(sessionID)).Result()
	if err != nil {
		return model.Session{}, apperrors.StoreUnavailable(err)
	}

	session, ok := model.SessionFromFields(sessionID, fields)
	if !ok {
		return model.Session{}, apperrors.UnknownSession()
	}
	return session, nil
}

// Touch refreshes last_seen_at and renews the session TTL, sliding the
// expiry window forward the way an active liveness heartbeat should.
func (a *Authority) Touch(ctx context.Context, sessionID string) error {
	key := store.SessionKey(sessionID)

	pipe := a.store.TxPipeline()
	pipe.HSet(ctx, key, model.SessionFieldLastSeenAt, strconv.FormatInt(time.Now().UnixMilli(), 10))
	pipe.Expire(ctx, key, a.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// SetConnection records which connection currently holds this session's
// socket, or clears it when connectionID is empty.
func (a *Authority) SetConnection(ctx context.Context, sessionID, connectionID string) error {
	key := store.SessionKey(sessionID)
	if err := a.store.HSet(ctx, key, model.SessionFieldConnectionID, connectionID).Err(); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// SetDeclaredIntent records the intent/medium a session most recently
// asked to be queued under, so a later rematch attempt (which has no
// join-queue payload to read from) knows what to re-enqueue it as.
func (a *Authority) SetDeclaredIntent(ctx context.Context, sessionID string, intent model.Intent, medium model.Medium) error {
	key := store.SessionKey(sessionID)
	if err := a.store.HSet(ctx, key, map[string]string{
		model.SessionFieldIntent: string(intent),
		model.SessionFieldMedium: string(medium),
	}).Err(); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// BumpReportCount atomically increments a session's lifetime report
// count and returns the new total, used by the Safety Layer to decide
// whether the auto-disconnect threshold has been crossed.
func (a *Authority) BumpReportCount(ctx context.Context, sessionID string) (int64, error) {
	count, err := a.store.HIncrBy(ctx, store.SessionKey(sessionID), model.SessionFieldReportCount, 1).Result()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return count, nil
}
