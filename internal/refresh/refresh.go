// Package refresh implements the token refresh loop.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"autowatch/internal/corerr"
	"autowatch/internal/db"
	"autowatch/internal/models"
	"autowatch/internal/platform"
	"autowatch/internal/vault"
)

// refreshBuffer is the window before absolute expiry at which a token is
// considered to need refreshing.
const refreshBuffer = 30 * time.Minute

// Loop runs the periodic refresh tick: selects users with a refresh token
// and enabled automation, refreshes tokens nearing expiry, and disables
// automation for any user whose refresh call fails.
type Loop struct {
	Users    *db.UserRepository
	Vault    *vault.Vault
	Platform platform.Client
	Log      *slog.Logger
}

// Tick runs one pass. Per-user work is sequential within the tick;
// cancellation is honored between users.
func (l *Loop) Tick(ctx context.Context) error {
	users, err := l.Users.SelectForRefresh(ctx)
	if err != nil {
		return corerr.AsFatal(err)
	}

	now := time.Now()
	l.Log.Info("token refresh tick", "candidates", len(users))

	for _, u := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !needsRefresh(u, now) {
			continue
		}
		l.refreshOne(ctx, u)
	}
	return nil
}

// needsRefresh reports true iff expiry ≤ now+30min, OR expiry is unknown but
// a refresh token exists.
func needsRefresh(u *models.User, now time.Time) bool {
	if u.AccessTokenExpiresAt == nil {
		return u.HasRefreshToken()
	}
	return !u.AccessTokenExpiresAt.After(now.Add(refreshBuffer))
}

func (l *Loop) refreshOne(ctx context.Context, u *models.User) {
	refreshToken, err := l.Vault.Decrypt(u.EncryptedRefreshToken)
	if err != nil {
		// CryptoError: non-retryable, disable automation for this user.
		l.Log.Error("decrypting refresh token failed, disabling automation", "user", u.ID, "err", err)
		l.disable(ctx, u.ID)
		return
	}

	result, err := l.Platform.RefreshAccessToken(ctx, string(refreshToken))
	if err != nil {
		l.Log.Warn("refreshing access token failed, disabling automation", "user", u.ID, "err", err)
		l.disable(ctx, u.ID)
		return
	}

	encAccess, err := l.Vault.Encrypt([]byte(result.AccessToken))
	if err != nil {
		l.Log.Error("encrypting new access token failed", "user", u.ID, "err", err)
		l.disable(ctx, u.ID)
		return
	}

	var encRefresh []byte
	if result.RefreshToken != "" {
		encRefresh, err = l.Vault.Encrypt([]byte(result.RefreshToken))
		if err != nil {
			l.Log.Error("encrypting rotated refresh token failed", "user", u.ID, "err", err)
			l.disable(ctx, u.ID)
			return
		}
	}

	expiresAt := time.Now().Add(result.ExpiresIn)
	if err := l.Users.UpdateTokens(ctx, u.ID, encAccess, encRefresh, expiresAt); err != nil {
		l.Log.Error("persisting refreshed tokens failed", "user", u.ID, "err", err)
	}
}

func (l *Loop) disable(ctx context.Context, userID int64) {
	// Never delete the refresh token on failure: only the flag changes.
	if err := l.Users.DisableAutomation(ctx, userID); err != nil {
		l.Log.Error("disabling automation failed", "user", userID, "err", err)
	}
}
