package circles

import (
	"crypto/rand"
	"fmt"
)

const (
	inviteCodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	inviteCodeLength   = 6
)

// newInviteCode draws a 6-character lowercase base36 code.
func newInviteCode() (string, error) {
	buffer := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("circles: invite code generation failed: %w", err)
	}
	for index, value := range buffer {
		buffer[index] = inviteCodeAlphabet[int(value)%len(inviteCodeAlphabet)]
	}
	return string(buffer), nil
}
