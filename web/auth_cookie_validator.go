package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const authCookieName = "auth"

// authTokenTTL bounds how long a login cookie stays valid.
const authTokenTTL = 12 * time.Hour

func generateAuthToken(username, secretKey string, now time.Time) string {
	expires := strconv.FormatInt(now.Add(authTokenTTL).Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(username + "|" + expires))
	signature := mac.Sum(nil)
	return base64.StdEncoding.EncodeToString([]byte(username)) + "|" +
		expires + "|" +
		base64.StdEncoding.EncodeToString(signature)
}

func isValidAuthToken(token, secretKey string, now time.Time) bool {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return false
	}
	usernameBytes, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expiresUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || now.Unix() > expiresUnix {
		return false
	}
	expectedMac, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	fmt.Fprintf(mac, "%s|%s", usernameBytes, parts[1])
	calculatedMac := mac.Sum(nil)

	return hmac.Equal(expectedMac, calculatedMac)
}

func isAuthenticated(r *http.Request, secretKey string) bool {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return false
	}
	return isValidAuthToken(cookie.Value, secretKey, time.Now())
}
