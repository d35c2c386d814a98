package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
chatbots:
  - id: 7
    name: Helper
    characteristics:
      - content: Open 9-5 Mon-Fri
      - content: Returns accepted within 30 days
  - id: 8
    name: Billing
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatbots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	bots, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "Helper", bots[0].Name)
	require.Len(t, bots[0].Characteristics, 2)
	assert.Equal(t, "Returns accepted within 30 days", bots[0].Characteristics[1].Content)
	assert.Empty(t, bots[1].Characteristics)
}

func TestLoadSeed_Invalid(t *testing.T) {
	_, err := LoadSeed(writeSeed(t, "chatbots:\n  - name: NoID\n"))
	assert.ErrorContains(t, err, "id must be positive")

	_, err = LoadSeed(writeSeed(t, "chatbots: [\n"))
	assert.ErrorContains(t, err, "parse seed file")

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeed(t *testing.T) {
	s := newTestStore(t)
	bots, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)

	require.NoError(t, Seed(context.Background(), s, bots))

	bot, err := s.GetChatbotByID(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, "Billing", bot.Name)
}
