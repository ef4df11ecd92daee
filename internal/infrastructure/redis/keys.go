package redisstore

import "fmt"

// Key builders for the shared store schema. Every process reads and writes
// through these; the literal patterns are part of the deployment contract.
const (
	usersKey = "USERS"
)

func userDataKey(userID string) string {
	return "USER_DATA_" + userID
}

func deviceKey(userID string) string {
	return "DEVICE:" + userID
}

func securityKey(userID string) string {
	return "USER:SECURITY:" + userID
}

func verificationKey(userID, deviceID string) string {
	return fmt.Sprintf("DEVICE_VERIFICATION:%s:%s", userID, deviceID)
}

func twoFactorKey(email string) string {
	return "temp:2fa:" + email
}

func tokenKey(userID string) string {
	return "TOKEN:" + userID
}

func refreshTokenKey(userID string) string {
	return "REFRESH_TOKEN:" + userID
}

func loginKey(userID string) string {
	return "USER:LOGIN:" + userID
}

func attemptsKey(email, ip string) string {
	return fmt.Sprintf("LOGIN_ATTEMPTS:%s:%s", email, ip)
}

func lockKey(name string) string {
	return "LOCK:" + name
}
