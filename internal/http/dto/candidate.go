package dto

import (
	"time"

	"alphaforge.app/scout/internal/model"
)

type CandidateResponse struct {
	ID          int64     `json:"id,string"`
	JobID       int64     `json:"job_id,string"`
	Mode        string    `json:"mode"`
	Category    string    `json:"category"`
	Symbols     []string  `json:"symbols,omitempty"`
	Thesis      string    `json:"thesis"`
	EntryRules  []string  `json:"entry_rules,omitempty"`
	ExitRules   []string  `json:"exit_rules,omitempty"`
	Confidence  float64   `json:"confidence"`
	Disposition string    `json:"disposition"`
	CreatedAt   time.Time `json:"created_at"`
}

func ToCandidateResponse(c *model.Candidate) *CandidateResponse {
	return &CandidateResponse{
		ID:          c.ID,
		JobID:       c.JobID,
		Mode:        string(c.Mode),
		Category:    c.Category,
		Symbols:     c.Symbols,
		Thesis:      c.Thesis,
		EntryRules:  c.EntryRules,
		ExitRules:   c.ExitRules,
		Confidence:  c.Confidence,
		Disposition: string(c.Disposition),
		CreatedAt:   c.CreatedAt,
	}
}

type ListCandidatesResponse struct {
	Candidates []CandidateResponse `json:"candidates"`
}

func ToListCandidatesResponse(candidates []model.Candidate) *ListCandidatesResponse {
	out := make([]CandidateResponse, 0, len(candidates))
	for i := range candidates {
		out = append(out, *ToCandidateResponse(&candidates[i]))
	}
	return &ListCandidatesResponse{Candidates: out}
}
