package models

import (
	"fmt"
	"strings"
)

// Subscription tier, strictly ordered free < medium < plus < admin
type Tier string

const (
	TierFree   Tier = "free"
	TierMedium Tier = "medium"
	TierPlus   Tier = "plus"
	TierAdmin  Tier = "admin"
)

var tierRank = map[Tier]int{
	TierFree:   1,
	TierMedium: 2,
	TierPlus:   3,
	TierAdmin:  4,
}

// Tiers lists every tier from lowest to highest
func Tiers() []Tier {
	return []Tier{TierFree, TierMedium, TierPlus, TierAdmin}
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Reports whether t is at or above min. Unknown tiers are below everything.
func (t Tier) AtLeast(min Tier) bool {
	rank, ok := tierRank[t]
	if !ok {
		return false
	}
	return rank >= tierRank[min]
}

func (t Tier) String() string {
	return string(t)
}
