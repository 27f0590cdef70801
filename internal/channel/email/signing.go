package email

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignAction produces the truncated signature carried by one-click action
// links: the first 16 hex chars of HMAC-SHA256 over "<approvalID>:<action>".
func SignAction(approvalID, action, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(approvalID + ":" + action))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// VerifyAction checks a link signature in constant time. A configured key
// with a missing or wrong signature must be rejected by the caller.
func VerifyAction(approvalID, action, signature, key string) bool {
	expected := SignAction(approvalID, action, key)
	return hmac.Equal([]byte(signature), []byte(expected))
}
