// Package matcher resolves a detected video to a canonical media item and
// decides whether the match is safe to scrobble without asking the user.
package matcher

import (
	"fmt"
	"sort"

	"reelsync/models"
)

const (
	DefaultThreshold = 80
	DefaultTieMargin = 5
)

// Policy is the auto-confirm rule applied to a ranked candidate list.
type Policy struct {
	Threshold float64 // top confidence needed to auto-confirm (0-100)
	TieMargin float64 // runner-up closer than this makes the choice ambiguous
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, TieMargin: DefaultTieMargin}
}

// Decision is the outcome of a lookup. Match is the top candidate, or nil when
// nothing was found; AutoConfirm is false whenever the user has to choose.
type Decision struct {
	Match       *models.MatchCandidate  `json:"match,omitempty"`
	Candidates  []models.MatchCandidate `json:"candidates"`
	AutoConfirm bool                    `json:"autoConfirm"`
	Reason      string                  `json:"reason"`
}

// Decide ranks candidates by confidence and applies the policy. It is pure and
// deterministic: equal confidences keep their input order.
//
// Auto-confirm iff the top confidence reaches the threshold and the runner-up
// is not within TieMargin of it. Two candidates with the same confidence are
// always ambiguous, whatever the margin.
func Decide(candidates []models.MatchCandidate, p Policy) Decision {
	ranked := make([]models.MatchCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	d := Decision{Candidates: ranked}
	if len(ranked) == 0 {
		d.Reason = "no candidates"
		return d
	}
	top := ranked[0]
	d.Match = &top

	if top.Confidence < p.Threshold {
		d.Reason = fmt.Sprintf("top confidence %.0f below threshold %.0f", top.Confidence, p.Threshold)
		return d
	}
	if len(ranked) > 1 {
		gap := top.Confidence - ranked[1].Confidence
		if gap == 0 || gap < p.TieMargin {
			d.Reason = fmt.Sprintf("ambiguous: runner-up %q within %.0f of top", ranked[1].CanonicalID, gap)
			return d
		}
	}
	d.AutoConfirm = true
	d.Reason = "confident match"
	return d
}
