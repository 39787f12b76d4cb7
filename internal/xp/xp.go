// Package xp maps experience totals onto rank tiers.
//
// XP is stored in hundredths: 100 means "1.00" displayed XP. The
// calculator is immutable after construction and safe for concurrent use.
package xp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidTiers is returned for a tier table that is empty, unsorted,
// or lacks a zero baseline.
var ErrInvalidTiers = errors.New("tiers must start at 0 and strictly increase")

// Tier is one rank bracket. Key doubles as the localization key suffix.
type Tier struct {
	Threshold int64  `json:"threshold"`
	Key       string `json:"key"`
}

// DefaultTiers is the standard seven-tier table.
var DefaultTiers = []Tier{
	{0, "novice"},
	{100, "apprentice"},
	{500, "trader"},
	{1000, "senior_trader"},
	{2500, "expert"},
	{5000, "master"},
	{10000, "legend"},
}

var difficultyXP = map[string]int64{
	"easy":      10,
	"medium":    25,
	"hard":      50,
	"very_hard": 100,
	"epic":      250,
	"legendary": 500,
}

// XPForDifficulty returns the suggested XP for a difficulty tier, or 0 for
// an unknown one.
func XPForDifficulty(difficulty string) int64 {
	return difficultyXP[difficulty]
}

// Calculator resolves ranks against a fixed tier table.
type Calculator struct {
	tiers []Tier
}

// New validates tiers and returns a calculator over a copy of them.
func New(tiers []Tier) (*Calculator, error) {
	if len(tiers) == 0 || tiers[0].Threshold != 0 {
		return nil, ErrInvalidTiers
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Threshold <= tiers[i-1].Threshold {
			return nil, ErrInvalidTiers
		}
	}
	return &Calculator{tiers: append([]Tier(nil), tiers...)}, nil
}

// Default returns a calculator over DefaultTiers.
func Default() *Calculator {
	c, _ := New(DefaultTiers)
	return c
}

// AllRanks returns the tier table in ascending order.
func (c *Calculator) AllRanks() []Tier {
	return append([]Tier(nil), c.tiers...)
}

// Rank returns the highest tier whose threshold does not exceed xp.
func (c *Calculator) Rank(xp int64) Tier {
	return c.tiers[c.index(xp)]
}

func (c *Calculator) index(xp int64) int {
	idx := 0
	for i, t := range c.tiers {
		if xp >= t.Threshold {
			idx = i
		}
	}
	return idx
}

// Next describes the tier after the current one.
type Next struct {
	Tier     Tier  `json:"tier"`
	XPNeeded int64 `json:"xp_needed"`
}

// NextRank returns the next tier and the XP still needed. ok is false at
// the top tier.
func (c *Calculator) NextRank(xp int64) (Next, bool) {
	i := c.index(xp)
	if i == len(c.tiers)-1 {
		return Next{}, false
	}
	t := c.tiers[i+1]
	return Next{Tier: t, XPNeeded: t.Threshold - xp}, true
}

// ProgressPercent interpolates linearly between the current and next
// thresholds, rounded to two decimals. It is 100 at the top tier.
func (c *Calculator) ProgressPercent(xp int64) float64 {
	i := c.index(xp)
	if i == len(c.tiers)-1 {
		return 100
	}
	lo, hi := c.tiers[i].Threshold, c.tiers[i+1].Threshold
	if xp < lo {
		return 0
	}
	pct := float64(xp-lo) / float64(hi-lo) * 100
	return math.Round(pct*100) / 100
}

// DidRankUp returns the new tier when moving from oldXP to newXP changes
// the mapped tier upward.
func (c *Calculator) DidRankUp(oldXP, newXP int64) (Tier, bool) {
	before, after := c.index(oldXP), c.index(newXP)
	if after <= before {
		return Tier{}, false
	}
	return c.tiers[after], true
}

// Info is the full rank view for one XP total.
type Info struct {
	XP        int64   `json:"xp"`
	Display   string  `json:"display"`
	Rank      Tier    `json:"rank"`
	Next      *Next   `json:"next,omitempty"`
	Progress  float64 `json:"progress_percent"`
	IsTopRank bool    `json:"is_top_rank"`
}

// RankInfo bundles Rank, NextRank and ProgressPercent for xp.
func (c *Calculator) RankInfo(xp int64) Info {
	info := Info{
		XP:       xp,
		Display:  FormatXP(xp),
		Rank:     c.Rank(xp),
		Progress: c.ProgressPercent(xp),
	}
	if next, ok := c.NextRank(xp); ok {
		info.Next = &next
	} else {
		info.IsTopRank = true
	}
	return info
}

// FormatXP renders hundredths as a two-decimal string: 1486 → "14.86".
func FormatXP(xp int64) string {
	sign := ""
	if xp < 0 {
		sign = "-"
		xp = -xp
	}
	return fmt.Sprintf("%s%d.%02d", sign, xp/100, xp%100)
}
