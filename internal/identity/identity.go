// Package identity resolves the end user from host-platform launch data
// (Telegram Web App initData).
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// ErrIdentityUnavailable is returned when launch data carries no usable user
// record. The client must not connect in that case.
var ErrIdentityUnavailable = errors.New("identity unavailable")

// ErrInvalidSignature is returned by Verify when the launch-data hash does
// not match the bot token.
var ErrInvalidSignature = errors.New("invalid launch data signature")

// Identity is the resolved end user.
type Identity struct {
	UserID   string
	UserName string
	// DisplayName is the server-side label: username, else first and last name.
	DisplayName string
}

// Resolve extracts the user from raw launch data without checking its
// signature. The client only reads the data; the backend verifies it.
func Resolve(launchData string) (Identity, error) {
	values, err := url.ParseQuery(launchData)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: parse launch data: %w", ErrIdentityUnavailable)
	}
	raw := values.Get("user")
	if raw == "" {
		return Identity{}, fmt.Errorf("identity: no user record: %w", ErrIdentityUnavailable)
	}
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return Identity{}, fmt.Errorf("identity: decode user record: %w", ErrIdentityUnavailable)
	}
	return fromUser(&u)
}

// Verify checks the launch-data signature against botToken and returns the
// signed user.
func Verify(launchData, botToken string) (Identity, error) {
	if botToken == "" {
		return Identity{}, fmt.Errorf("identity: verify: bot token is required")
	}
	values, err := url.ParseQuery(launchData)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: parse launch data: %w", err)
	}
	if values.Get("hash") == "" || values.Get("user") == "" {
		return Identity{}, fmt.Errorf("identity: verify: missing hash or user: %w", ErrInvalidSignature)
	}
	u, ok := bot.ValidateWebappRequest(values, botToken)
	if !ok {
		return Identity{}, fmt.Errorf("identity: verify: %w", ErrInvalidSignature)
	}
	return fromUser(u)
}

func fromUser(u *models.User) (Identity, error) {
	if u == nil || u.ID == 0 {
		return Identity{}, fmt.Errorf("identity: user record has no id: %w", ErrIdentityUnavailable)
	}
	display := u.Username
	if display == "" {
		display = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return Identity{
		UserID:      strconv.FormatInt(u.ID, 10),
		UserName:    u.FirstName,
		DisplayName: display,
	}, nil
}

// Sign computes the launch-data hash for values and returns the encoded
// launch data. It uses the key derivation the host platform applies:
// HMAC-SHA256("WebAppData", token) as the key over the sorted
// "key=value" lines.
func Sign(values url.Values, botToken string) string {
	signed := url.Values{}
	for k, v := range values {
		if k == "hash" || len(v) == 0 {
			continue
		}
		signed.Set(k, v[0])
	}
	signed.Set("hash", checkHash(signed, botToken))
	return signed.Encode()
}

// NewLaunchData builds signed launch data for a user.
func NewLaunchData(user models.User, authDate int64, botToken string) (string, error) {
	raw, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("identity: encode user: %w", err)
	}
	values := url.Values{}
	values.Set("user", string(raw))
	values.Set("auth_date", strconv.FormatInt(authDate, 10))
	return Sign(values, botToken), nil
}

func checkHash(values url.Values, botToken string) string {
	lines := make([]string, 0, len(values))
	for k, v := range values {
		if k == "hash" {
			continue
		}
		lines = append(lines, k+"="+v[0])
	}
	sort.Strings(lines)

	key := hmac.New(sha256.New, []byte("WebAppData"))
	key.Write([]byte(botToken))
	mac := hmac.New(sha256.New, key.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
