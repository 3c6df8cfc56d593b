package model

import "time"

// ResultStep is one recorded unit of work inside a handler execution.
type ResultStep struct {
	Step      string    `json:"step"`
	Result    any       `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultRecord captures the outcome of one handler execution for one user.
// An empty Steps slice means there was nothing worth recording and the
// recorder drops the record without touching any tier.
type ResultRecord struct {
	Steps []ResultStep `json:"steps"`
	Event Event        `json:"event"`
	Name  string       `json:"name"`
	User  User         `json:"user"`
}

// Empty reports whether the record carries no steps.
func (r ResultRecord) Empty() bool { return len(r.Steps) == 0 }
