package model

import "time"

// CandidateFingerprint is a deduplication record. The hash is a pure
// function of a candidate's normalized defining content; cost, timestamps,
// and other free-form fields never feed it. Entries past ExpiresAt are
// ignored, so the same content resubmitted after expiry counts as novel.
type CandidateFingerprint struct {
	Hash        string    `json:"hash"`
	CandidateID int64     `json:"candidate_id"`
	Hits        int       `json:"hits"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (f CandidateFingerprint) Live(now time.Time) bool {
	return now.Before(f.ExpiresAt)
}
