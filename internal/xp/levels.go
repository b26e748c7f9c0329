// Package xp keeps a user's experience-point total, the per-activity daily
// payout record and the level table derived from the total.
package xp

// Level is one tier of the fixed threshold table.
type Level struct {
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	MinXP       int    `json:"min_xp"`
}

// levels is ascending by MinXP.
var levels = []Level{
	{Name: "Seedling", Icon: "🌱", Description: "Beginning your faith journey", MinXP: 0},
	{Name: "Disciple", Icon: "📚", Description: "Learning and growing", MinXP: 50},
	{Name: "Messenger", Icon: "📢", Description: "Sharing God's love", MinXP: 150},
	{Name: "Guardian", Icon: "🛡️", Description: "Protecting and guiding", MinXP: 300},
	{Name: "Kingdom Builder", Icon: "👑", Description: "Building God's kingdom", MinXP: 500},
}

// Levels returns a copy of the level table.
func Levels() []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

// LevelFor returns the level reached with xp points.
func LevelFor(xp int) Level {
	return levels[levelIndex(xp)]
}

func levelIndex(xp int) int {
	idx := 0
	for i, l := range levels {
		if xp >= l.MinXP {
			idx = i
		}
	}
	return idx
}

// Progress describes how far a total is through its current level.
type Progress struct {
	Current Level  `json:"current"`
	Next    *Level `json:"next,omitempty"`
	// XPToNext is zero at the top level.
	XPToNext int `json:"xp_to_next"`
	// Percent is in [0,100]; the top level always reports 100.
	Percent float64 `json:"percent"`
}

// ProgressToNextLevel computes progress through the level band containing xp.
func ProgressToNextLevel(xp int) Progress {
	if xp < 0 {
		xp = 0
	}
	idx := levelIndex(xp)
	p := Progress{Current: levels[idx]}
	if idx == len(levels)-1 {
		p.Percent = 100
		return p
	}

	next := levels[idx+1]
	p.Next = &next
	p.XPToNext = next.MinXP - xp
	band := next.MinXP - levels[idx].MinXP
	p.Percent = float64(xp-levels[idx].MinXP) * 100 / float64(band)
	return p
}
