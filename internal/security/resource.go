package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nodevideo/internal/models"
)

var (
	ErrSignatureExpired = errors.New("signature expired")
	ErrSignatureInvalid = errors.New("signature invalid")
)

func SignResource(secret string, parts ...string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	payload := strings.Join(parts, ":")
	mac.Write([]byte(payload))
	sum := mac.Sum(nil)
	return []byte(base64.RawURLEncoding.EncodeToString(sum))
}

// StreamQuery returns the query values that let a player fetch a video's
// stream without a bearer header. The signature covers the video, the
// viewer, the viewer's role and the expiry.
func StreamQuery(secret, videoID string, viewer models.Identity, expires time.Time) url.Values {
	exp := strconv.FormatInt(expires.Unix(), 10)
	role := string(viewer.Role)
	q := url.Values{}
	q.Set("uid", viewer.UserID)
	q.Set("role", role)
	q.Set("exp", exp)
	q.Set("sig", string(SignResource(secret, "stream", videoID, viewer.UserID, role, exp)))
	return q
}

// VerifyStreamQuery checks a signed stream query and returns the viewer it
// was issued to.
func VerifyStreamQuery(secret, videoID string, q url.Values, now time.Time) (models.Identity, error) {
	userID, role, exp, sig := q.Get("uid"), q.Get("role"), q.Get("exp"), q.Get("sig")
	if userID == "" || role == "" || exp == "" || sig == "" {
		return models.Identity{}, ErrSignatureInvalid
	}
	want := SignResource(secret, "stream", videoID, userID, role, exp)
	if !hmac.Equal(want, []byte(sig)) {
		return models.Identity{}, ErrSignatureInvalid
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return models.Identity{}, ErrSignatureInvalid
	}
	if now.After(time.Unix(unix, 0)) {
		return models.Identity{}, ErrSignatureExpired
	}
	return models.Identity{UserID: userID, Role: models.UserRole(role)}, nil
}
