package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrings(t *testing.T) {
	Release, GitCommit, GOOS, GOARCH = "v1.2.3", "abc123", "linux", "amd64"

	assert.Equal(t, "v1.2.3 (commit: abc123)", Full())
	assert.Equal(t, "v1.2.3 (commit: abc123, linux/amd64)", FullWithPlatform())
	assert.Equal(t, "relayoor/v1.2.3", UserAgent())
}
