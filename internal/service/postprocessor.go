package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alphaforge.app/scout/common/id"
	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/common/textnorm"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/store"
)

// Confidence sub-score weights. They must sum to 1 so the composite stays
// in [0, 1].
const (
	weightStructure  = 0.35
	weightValidation = 0.30
	weightRobustness = 0.20
	weightFreshness  = 0.15
)

// Disposition thresholds on the composite confidence score.
const (
	fastTrackThreshold = 0.75
	reviewThreshold    = 0.45
)

// Fingerprints hash excerpts rather than full texts so trailing elaboration
// does not defeat deduplication.
const (
	thesisExcerptLen = 160
	ruleExcerptLen   = 80
)

// PostProcessor routes a completed job's artifacts: duplicates bump their
// fingerprint's hit counter and are discarded, novel artifacts become
// scored, dispositioned candidates.
type PostProcessor interface {
	Process(ctx context.Context, job *model.ResearchJob, artifacts []provider.Artifact) PostOutcome
}

// PostOutcome counts where each artifact ended up. Failed counts artifacts
// lost to storage errors; they appear in neither Stored nor Duplicates.
type PostOutcome struct {
	Stored     int
	Duplicates int
	Failed     int
}

type postProcessor struct {
	tx  TxRunner
	ttl time.Duration
}

func NewPostProcessor(tx TxRunner, ttl time.Duration) PostProcessor {
	return &postProcessor{tx: tx, ttl: ttl}
}

// Process handles artifacts one at a time, each in its own transaction, so
// a failure on one artifact never rolls back its siblings. Storage errors
// are logged and counted, not returned: the provider call already cost
// money, and the caller must still complete the job and record the spend.
func (p *postProcessor) Process(ctx context.Context, job *model.ResearchJob, artifacts []provider.Artifact) PostOutcome {
	var outcome PostOutcome
	for i := range artifacts {
		dup, err := p.processOne(ctx, job, &artifacts[i])
		if err != nil {
			outcome.Failed++
			slog.ErrorContext(ctx, "storing candidate failed, artifact skipped",
				"job_id", job.ID, "mode", job.Mode, "error", err)
			continue
		}
		if dup {
			outcome.Duplicates++
		} else {
			outcome.Stored++
		}
	}
	return outcome
}

func (p *postProcessor) processOne(ctx context.Context, job *model.ResearchJob, artifact *provider.Artifact) (duplicate bool, err error) {
	hash := Fingerprint(artifact)
	now := time.Now().UTC()

	err = p.tx.WithTx(ctx, func(s *store.Stores) error {
		fp, err := s.Fingerprints.GetLive(ctx, hash, now)
		if err == nil {
			if err := s.Fingerprints.RecordHit(ctx, hash, now); err != nil {
				return fmt.Errorf("recording fingerprint hit: %w", err)
			}
			duplicate = true
			slog.DebugContext(ctx, "duplicate candidate discarded",
				"job_id", job.ID, "fingerprint", hash, "hits", fp.Hits+1)
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("looking up fingerprint: %w", err)
		}

		confidence := Confidence(artifact.Scores)
		candidate := &model.Candidate{
			ID:          id.New(),
			JobID:       job.ID,
			Mode:        job.Mode,
			Category:    artifact.Category,
			Symbols:     artifact.Symbols,
			Thesis:      artifact.Thesis,
			EntryRules:  artifact.EntryRules,
			ExitRules:   artifact.ExitRules,
			Confidence:  confidence,
			Disposition: DispositionFor(confidence),
			CreatedAt:   now,
		}
		if err := s.Candidates.Create(ctx, candidate); err != nil {
			return fmt.Errorf("creating candidate: %w", err)
		}

		fingerprint := &model.CandidateFingerprint{
			Hash:        hash,
			CandidateID: candidate.ID,
			Hits:        1,
			FirstSeenAt: now,
			LastSeenAt:  now,
			ExpiresAt:   now.Add(p.ttl),
		}
		if err := s.Fingerprints.Register(ctx, fingerprint); err != nil {
			return fmt.Errorf("registering fingerprint: %w", err)
		}

		slog.InfoContext(ctx, "candidate stored",
			"candidate_id", candidate.ID,
			"job_id", job.ID,
			"mode", job.Mode,
			"category", candidate.Category,
			"confidence", candidate.Confidence,
			"disposition", candidate.Disposition,
		)
		return nil
	})
	return duplicate, err
}

// fingerprintContent is the projection of an artifact that defines its
// identity. Cost, timestamps, and scores deliberately stay out: the same
// idea produced twice must hash the same no matter what it cost.
type fingerprintContent struct {
	Category string   `json:"category"`
	Thesis   string   `json:"thesis"`
	Rules    []string `json:"rules"`
}

// Fingerprint computes the deduplication hash for an artifact. It is a pure
// function of normalized content: identical normalized content always yields
// the same hash regardless of which job produced it.
func Fingerprint(a *provider.Artifact) string {
	content := fingerprintContent{
		Category: textnorm.Normalize(a.Category),
		Thesis:   textnorm.Excerpt(a.Thesis, thesisExcerptLen),
		Rules:    ruleExcerpts(a.EntryRules, a.ExitRules),
	}
	raw, _ := json.Marshal(content)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func ruleExcerpts(entry, exit []string) []string {
	rules := make([]string, 0, len(entry)+len(exit))
	for _, r := range entry {
		if norm := textnorm.Excerpt(r, ruleExcerptLen); norm != "" {
			rules = append(rules, norm)
		}
	}
	for _, r := range exit {
		if norm := textnorm.Excerpt(r, ruleExcerptLen); norm != "" {
			rules = append(rules, norm)
		}
	}
	return rules
}

// Confidence folds the provider's sub-scores into one weighted composite.
func Confidence(s provider.SubScores) float64 {
	composite := weightStructure*s.Structure +
		weightValidation*s.Validation +
		weightRobustness*s.Robustness +
		weightFreshness*s.Freshness
	if composite < 0 {
		return 0
	}
	if composite > 1 {
		return 1
	}
	return composite
}

// DispositionFor assigns the routing decision for a confidence score. Pure
// function, no side effects.
func DispositionFor(confidence float64) model.Disposition {
	switch {
	case confidence >= fastTrackThreshold:
		return model.DispositionFastTrack
	case confidence >= reviewThreshold:
		return model.DispositionReview
	default:
		return model.DispositionBacklog
	}
}
