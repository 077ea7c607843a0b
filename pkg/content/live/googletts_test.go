package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGoogleTTSConfigErrors(t *testing.T) {
	t.Run("missing spool dir", func(t *testing.T) {
		_, err := NewGoogleTTS(context.Background(), GoogleTTSConfig{})
		require.ErrorIs(t, err, ErrNoSpoolDir)
	})

	t.Run("bad credentials json", func(t *testing.T) {
		_, err := NewGoogleTTS(context.Background(),
			GoogleTTSConfig{CredentialsJSON: []byte("not json")},
			WithSpoolDir(t.TempDir()),
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "credentials")
	})
}

func TestLanguageCode(t *testing.T) {
	cases := []struct {
		voice string
		want  string
	}{
		{"en-US-Neural2-D", "en-US"},
		{"de-DE-Wavenet-B", "de-DE"},
		{"narrator", "en-US"},
		{"", "en-US"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, languageCode(tc.voice), tc.voice)
	}
}
