// Package i18n provides the phrase lookup used for human-readable labels.
// Engine logic never depends on the text it returns.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

var phrases = map[language.Tag]map[string]string{
	language.English: {
		"rank.novice":        "Novice",
		"rank.apprentice":    "Apprentice",
		"rank.trader":        "Trader",
		"rank.senior_trader": "Senior Trader",
		"rank.expert":        "Expert",
		"rank.master":        "Master",
		"rank.legend":        "Legend",

		"market_status.closed":      "Closed",
		"market_status.pre_market":  "Pre-market",
		"market_status.open":        "Open",
		"market_status.after_hours": "After hours",

		"achievement.first_steps.title":            "First Steps",
		"achievement.first_purchase.title":         "First Purchase",
		"achievement.first_sale.title":             "First Sale",
		"achievement.getting_started.title":        "Getting Started",
		"achievement.active_beginner.title":        "Active Beginner",
		"achievement.active_trader.title":          "Active Trader",
		"achievement.day_trader.title":             "Day Trader",
		"achievement.consistent_trader.title":      "Consistent Trader",
		"achievement.volume_king.title":            "Volume King",
		"achievement.building_wealth.title":        "Building Wealth",
		"achievement.strategic_investor.title":     "Strategic Investor",
		"achievement.portfolio_millionaire.title":  "Portfolio Millionaire",
		"achievement.consistent_profit.title":      "Consistent Profit",
		"achievement.profit_champion.title":        "Profit Champion",
		"achievement.diverse_portfolio_5.title":    "Diverse Portfolio",
		"achievement.market_explorer.title":        "Market Explorer",
		"achievement.market_diversification.title": "Market Diversification",

		"error.market_closed":       "This market is currently closed.",
		"error.insufficient_funds":  "You do not have enough cash for this trade.",
		"error.insufficient_shares": "You do not hold enough shares for this sale.",
		"error.invalid_trade":       "This trade is not valid.",
	},
	language.German: {
		"rank.novice":        "Neuling",
		"rank.apprentice":    "Lehrling",
		"rank.trader":        "Händler",
		"rank.senior_trader": "Erfahrener Händler",
		"rank.expert":        "Experte",
		"rank.master":        "Meister",
		"rank.legend":        "Legende",

		"market_status.closed":      "Geschlossen",
		"market_status.pre_market":  "Vorbörse",
		"market_status.open":        "Geöffnet",
		"market_status.after_hours": "Nachbörse",

		"error.market_closed":      "Dieser Markt ist derzeit geschlossen.",
		"error.insufficient_funds": "Nicht genügend Guthaben für diesen Handel.",
	},
}

var (
	cat     = build()
	english = message.NewPrinter(language.English, message.Catalog(cat))
)

func build() *catalog.Builder {
	b := catalog.NewBuilder()
	for tag, m := range phrases {
		for key, text := range m {
			// Phrases are literal; escape verbs so the printer never formats them.
			b.SetString(tag, key, strings.ReplaceAll(text, "%", "%%"))
		}
	}
	return b
}

// Localizer looks up phrases for one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a localizer for the best supported match of lang, an
// Accept-Language value or BCP 47 tag. Unknown languages get English.
func New(lang string) *Localizer {
	tags, _, _ := language.ParseAcceptLanguage(lang)
	_, idx, _ := matcher.Match(tags...)
	tag := supported[idx]
	return &Localizer{tag: tag, printer: message.NewPrinter(tag, message.Catalog(cat))}
}

// Language returns the matched language.
func (l *Localizer) Language() language.Tag { return l.tag }

// Phrase returns the text for key, falling back to English and then to
// the key itself.
func (l *Localizer) Phrase(key string) string {
	if _, ok := phrases[l.tag][key]; ok {
		return l.printer.Sprintf(key)
	}
	if _, ok := phrases[language.English][key]; ok {
		return english.Sprintf(key)
	}
	return key
}

// Rank returns the display label of a rank key.
func (l *Localizer) Rank(key string) string { return l.Phrase("rank." + key) }
