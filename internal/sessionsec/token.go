package sessionsec

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
)

// buildToken constructs the opaque token: session_id:agent_id:issued_at:hmac(...)
// per §4.2's literal token shape.
func buildToken(secret []byte, sessionID, agentID string, issuedAt int64) string {
	tag := tokenTag(secret, sessionID, agentID, issuedAt)
	return fmt.Sprintf("%s:%s:%d:%s", sessionID, agentID, issuedAt, tag)
}

func tokenTag(secret []byte, sessionID, agentID string, issuedAt int64) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(agentID))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(issuedAt, 10)))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// parsedToken is the decomposed, not-yet-verified form of an opaque token.
type parsedToken struct {
	sessionID string
	agentID   string
	issuedAt  int64
	tag       string
}

// parseToken splits a token into its four colon-delimited fields without
// checking the HMAC. Returns an error if the shape is wrong.
func parseToken(token string) (parsedToken, error) {
	parts := strings.SplitN(token, ":", 4)
	if len(parts) != 4 {
		return parsedToken{}, fmt.Errorf("malformed token: expected 4 fields, got %d", len(parts))
	}
	issuedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return parsedToken{}, fmt.Errorf("malformed token: issued_at: %w", err)
	}
	return parsedToken{
		sessionID: parts[0],
		agentID:   parts[1],
		issuedAt:  issuedAt,
		tag:       parts[3],
	}, nil
}

// verifyToken re-derives the expected tag and compares it to pt.tag in
// constant time, as required by §4.2.
func verifyToken(secret []byte, pt parsedToken) bool {
	expected := tokenTag(secret, pt.sessionID, pt.agentID, pt.issuedAt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(pt.tag)) == 1
}
