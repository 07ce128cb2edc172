package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/registry"
)

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"token", "--env-file", "",
		"--secret", "s3cret",
		"--user-id", "t-1", "--user-name", "Ms. Frizzle", "--role", "teacher",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.Execute())

	claims, err := auth.New("s3cret").Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "t-1", claims.UserID())
	assert.Equal(t, registry.RoleTeacher, claims.Role)
	assert.Equal(t, "Ms. Frizzle", claims.Name)
}
