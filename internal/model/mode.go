package model

import "time"

// Mode is the closed set of research modes the scheduler can run.
type Mode string

const (
	ModeNewsPulse     Mode = "news_pulse"
	ModeMarketScan    Mode = "market_scan"
	ModeThemeExplorer Mode = "theme_explorer"
	ModeDeepDive      Mode = "deep_dive"
)

// LLMRole selects which configured provider a mode runs against.
type LLMRole string

const (
	LLMRoleScan LLMRole = "scan"
	LLMRoleDeep LLMRole = "deep"
)

// ModeSpec is the static per-mode schedule entry: how often a mode runs,
// which minute slot inside its period it owns (so co-due modes never fire in
// the same tick), and how its jobs are prioritized and billed.
type ModeSpec struct {
	Interval   time.Duration
	SlotOffset int // minutes within the interval
	Priority   int // higher runs first
	CostClass  CostClass
	Role       LLMRole
}

var modeSpecs = map[Mode]ModeSpec{
	ModeNewsPulse:     {Interval: 30 * time.Minute, SlotOffset: 3, Priority: 90, CostClass: CostClassLow, Role: LLMRoleScan},
	ModeMarketScan:    {Interval: time.Hour, SlotOffset: 11, Priority: 70, CostClass: CostClassMedium, Role: LLMRoleScan},
	ModeThemeExplorer: {Interval: 4 * time.Hour, SlotOffset: 27, Priority: 50, CostClass: CostClassMedium, Role: LLMRoleDeep},
	ModeDeepDive:      {Interval: 24 * time.Hour, SlotOffset: 41, Priority: 30, CostClass: CostClassHigh, Role: LLMRoleDeep},
}

// Modes returns all research modes ordered by priority, highest first.
// The order is the tie-break when several modes are due in the same tick.
func Modes() []Mode {
	return []Mode{ModeNewsPulse, ModeMarketScan, ModeThemeExplorer, ModeDeepDive}
}

// Spec returns the static schedule entry for a mode.
func (m Mode) Spec() (ModeSpec, bool) {
	spec, ok := modeSpecs[m]
	return spec, ok
}

func (m Mode) Valid() bool {
	_, ok := modeSpecs[m]
	return ok
}

// SlotMatches reports whether t falls in the mode's assigned minute slot.
// Slots repeat every Interval, anchored to the UTC day.
func (sp ModeSpec) SlotMatches(t time.Time) bool {
	period := int(sp.Interval / time.Minute)
	if period <= 0 {
		return true
	}
	return minuteOfDay(t)%period == sp.SlotOffset%period
}

// NextSlot returns the earliest minute at or after t that matches the slot.
func (sp ModeSpec) NextSlot(t time.Time) time.Time {
	anchor := t.UTC().Truncate(time.Minute)
	period := int(sp.Interval / time.Minute)
	if period <= 0 {
		return anchor
	}
	rem := (sp.SlotOffset%period - minuteOfDay(anchor)%period + period) % period
	return anchor.Add(time.Duration(rem) * time.Minute)
}

func minuteOfDay(t time.Time) int {
	u := t.UTC()
	return u.Hour()*60 + u.Minute()
}
