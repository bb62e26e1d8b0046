package template

import "time"

// Template describes a reusable deal blueprint. RequiredTerms lists the
// term labels a deal built from this template must fill in before it can
// be created.
type Template struct {
	Ref           string
	Name          string
	Description   string
	RequiredTerms []string
	CreatedAt     time.Time
}
