package i18n_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"

	"github.com/stockleague/engine/internal/i18n"
)

func TestNewMatchesLanguage(t *testing.T) {
	assert.Equal(t, language.English, i18n.New("").Language())
	assert.Equal(t, language.English, i18n.New("fr-FR").Language())
	assert.Equal(t, language.German, i18n.New("de-DE,de;q=0.9,en;q=0.5").Language())
}

func TestPhrase(t *testing.T) {
	en := i18n.New("en")
	assert.Equal(t, "Senior Trader", en.Rank("senior_trader"))
	assert.Equal(t, "First Steps", en.Phrase("achievement.first_steps.title"))

	de := i18n.New("de")
	assert.Equal(t, "Meister", de.Rank("master"))
	// Missing German text falls back to English.
	assert.Equal(t, "Volume King", de.Phrase("achievement.volume_king.title"))
}

func TestPhraseUnknownKey(t *testing.T) {
	assert.Equal(t, "achievement.nope.title", i18n.New("en").Phrase("achievement.nope.title"))
}
