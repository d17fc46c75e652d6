package reconciler

import "github.com/byte4ever/prbot/gitops/pullrequest"

// Kind tags an Outcome.
type Kind int

// Outcome kinds. Every repository lands in exactly
// one of NeedsPR, NoChanges or ExistingPR, or
// produces one MissingBranch per absent branch.
const (
	KindNeedsPR Kind = iota + 1
	KindNoChanges
	KindMissingBranch
	KindExistingPR
)

// String returns a snake_case label for k.
func (k Kind) String() string {
	switch k {
	case KindNeedsPR:
		return "needs_pr"
	case KindNoChanges:
		return "no_changes"
	case KindMissingBranch:
		return "missing_branch"
	case KindExistingPR:
		return "existing_pr"
	default:
		return "unknown"
	}
}

// MarshalText encodes k as its label.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the classification of one repository.
// Source and Target are set for NeedsPR and
// ExistingPR; Branch is set for MissingBranch.
type Outcome struct {
	Kind       Kind   `json:"kind"             yaml:"kind"`
	Repository string `json:"repository"       yaml:"repository"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
	Target     string `json:"target,omitempty" yaml:"target,omitempty"`
	Branch     string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Creation is the result of one pull request creation
// attempt.
type Creation struct {
	Repository string             `json:"repository" yaml:"repository"`
	Source     string             `json:"source"     yaml:"source"`
	Target     string             `json:"target"     yaml:"target"`
	Status     pullrequest.Status `json:"status"     yaml:"status"`
}

// Result groups outcomes by kind. Each bucket keeps
// the configured repository order.
type Result struct {
	NeedsPR       []Outcome  `json:"needsPr"       yaml:"needsPr"`
	ExistingPR    []Outcome  `json:"existingPr"    yaml:"existingPr"`
	NoChanges     []Outcome  `json:"noChanges"     yaml:"noChanges"`
	MissingBranch []Outcome  `json:"missingBranch" yaml:"missingBranch"`
	Creations     []Creation `json:"creations,omitempty" yaml:"creations,omitempty"`
}

// Add files o into its bucket.
func (r *Result) Add(o Outcome) {
	switch o.Kind {
	case KindNeedsPR:
		r.NeedsPR = append(r.NeedsPR, o)
	case KindExistingPR:
		r.ExistingPR = append(r.ExistingPR, o)
	case KindNoChanges:
		r.NoChanges = append(r.NoChanges, o)
	case KindMissingBranch:
		r.MissingBranch = append(r.MissingBranch, o)
	default:
	}
}

// Outcomes returns every outcome, bucket by bucket.
func (r *Result) Outcomes() []Outcome {
	out := make(
		[]Outcome, 0,
		len(r.NeedsPR)+len(r.ExistingPR)+
			len(r.NoChanges)+len(r.MissingBranch),
	)

	out = append(out, r.NeedsPR...)
	out = append(out, r.ExistingPR...)
	out = append(out, r.NoChanges...)

	return append(out, r.MissingBranch...)
}

// Failed reports whether any creation in r did not
// end as created or already existing.
func (r *Result) Failed() bool {
	for _, c := range r.Creations {
		if !c.Status.Succeeded() {
			return true
		}
	}

	return false
}
