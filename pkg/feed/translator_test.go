package feed

import (
	"testing"

	"github.com/mmcdole/gofeed/rss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslatorKeepsTTL(t *testing.T) {
	tr := newTTLTranslator()

	out, err := tr.Translate(&rss.Feed{Title: "t", TTL: "15"})
	require.NoError(t, err)
	assert.Equal(t, "15", out.Custom[ttlCustomKey])
}

func TestTranslatorNoTTL(t *testing.T) {
	tr := newTTLTranslator()

	out, err := tr.Translate(&rss.Feed{Title: "t"})
	require.NoError(t, err)
	assert.Empty(t, out.Custom[ttlCustomKey])
}

func TestTranslatorRejectsWrongType(t *testing.T) {
	tr := newTTLTranslator()

	_, err := tr.Translate("not a feed")
	require.Error(t, err)
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"empty", "", 0},
		{"numeric", "60", 60},
		{"garbage", "soon", 0},
		{"negative", "-5", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTTL(tt.raw))
		})
	}
}
