// Package guard prepares the environment of a test binary: command entry
// points see test mode and config loading finds a token secret. Import it for
// side effects only.
package guard

import "os"

// TokenSecret is the signing secret tests use when none is configured.
const TokenSecret = "test-secret-test-secret-test-secret"

func init() {
	setDefault("ODYSSEY_TEST_MODE", "1")
	setDefault("AUTH_TOKEN_SECRET", TokenSecret)
}

func setDefault(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}
