package escalation

import (
	"fmt"
	"time"
)

// Level is one tier of an escalation policy.
type Level struct {
	// Level is the 1-based tier number.
	Level int `yaml:"level"`

	// Delay is how long after the previous tier fired (or after trigger,
	// for the first tier) this tier's notification goes out.
	Delay time.Duration `yaml:"delay"`

	// Targets are the channel IDs notified at this tier.
	Targets []string `yaml:"targets"`

	// RepeatCount re-notifies this tier's targets before advancing.
	RepeatCount int `yaml:"repeat_count"`

	// RepeatInterval is the pause between repeats.
	RepeatInterval time.Duration `yaml:"repeat_interval"`

	// RequireAck keeps the chain alive: without it the incident stays at
	// this tier with no further checks.
	RequireAck bool `yaml:"require_ack"`
}

// Policy is an ordered notification-intensification plan.
type Policy struct {
	ID     string  `yaml:"id"`
	Levels []Level `yaml:"levels"`
}

// Validate checks the policy shape: at least one level, contiguous 1-based
// tiers, non-empty targets, non-negative timings.
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("escalation policy has no id")
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("escalation policy %q has no levels", p.ID)
	}
	for i, l := range p.Levels {
		if l.Level != i+1 {
			return fmt.Errorf("escalation policy %q: level %d out of order (want %d)", p.ID, l.Level, i+1)
		}
		if len(l.Targets) == 0 {
			return fmt.Errorf("escalation policy %q level %d has no targets", p.ID, l.Level)
		}
		if l.Delay < 0 || l.RepeatInterval < 0 {
			return fmt.Errorf("escalation policy %q level %d has a negative duration", p.ID, l.Level)
		}
		if l.RepeatCount > 0 && l.RepeatInterval == 0 {
			return fmt.Errorf("escalation policy %q level %d repeats without an interval", p.ID, l.Level)
		}
	}
	return nil
}
