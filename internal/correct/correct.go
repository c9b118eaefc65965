// Package correct replaces low-fidelity recognized medicine names with
// validated ones, preferring reviewer consensus from the correction log over
// fuzzy matches against the medicine reference index.
package correct

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MeKo-Tech/rxscan/internal/medindex"
	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// History reads the correction log.
type History interface {
	CorrectionHistory(ctx context.Context, originalText string) ([]rx.CorrectionEntry, error)
}

// Index is the lookup side of the medicine reference index.
type Index interface {
	Lookup(name, region string, topN int, minScore float64) []medindex.Match
}

// Config tunes the corrector.
type Config struct {
	// Threshold is the minimum token-set score (0-100) for an index match.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	// MinReviewers is how many distinct reviewers must agree on a correction
	// before it overrides the index.
	MinReviewers int `mapstructure:"min_reviewers" yaml:"min_reviewers" json:"min_reviewers"`
	// HistoricalConfidence is the match confidence of consensus corrections.
	HistoricalConfidence float64 `mapstructure:"historical_confidence" yaml:"historical_confidence" json:"historical_confidence"`
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		Threshold:            70,
		MinReviewers:         2,
		HistoricalConfidence: 0.98,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold must be in [0,100], got %v", c.Threshold)
	}
	if c.MinReviewers < 1 {
		return fmt.Errorf("min_reviewers must be at least 1, got %d", c.MinReviewers)
	}
	if c.HistoricalConfidence <= 0 || c.HistoricalConfidence > 1 {
		return fmt.Errorf("historical_confidence must be in (0,1], got %v", c.HistoricalConfidence)
	}
	return nil
}

// MinNameRunes is the shortest medicine name the corrector touches. Shorter
// fragments pass through unchanged.
const MinNameRunes = 3

// Corrector applies historical overrides and index matches to candidates.
type Corrector struct {
	index   Index
	history History
	cfg     Config
	logger  *slog.Logger
}

// New builds a corrector. history may be nil to disable the override step.
func New(index Index, history History, cfg Config, logger *slog.Logger) *Corrector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrector{index: index, history: history, cfg: cfg, logger: logger}
}

// Correct augments c in place. It never invents a name: without consensus
// or a qualifying index match the extracted text is kept. Only context
// cancellation is returned as an error; log failures degrade to index matching.
func (k *Corrector) Correct(ctx context.Context, c *rx.Candidate, region string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !correctable(c) {
		clearMatch(c)
		return nil
	}
	if k.applyHistory(ctx, c) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	k.applyIndex(c, region)
	return nil
}

// CorrectAll corrects every candidate of a list.
func (k *Corrector) CorrectAll(ctx context.Context, cands []rx.Candidate, region string) error {
	for i := range cands {
		if err := k.Correct(ctx, &cands[i], region); err != nil {
			return err
		}
	}
	return nil
}

func (k *Corrector) applyHistory(ctx context.Context, c *rx.Candidate) bool {
	if k.history == nil {
		return false
	}
	key := c.HistoryKey()
	if key == "" {
		return false
	}
	entries, err := k.history.CorrectionHistory(ctx, key)
	if err != nil {
		k.logger.Warn("correction history unavailable", "text", key, "error", err)
		return false
	}
	agreed, ok := Consensus(entries, k.cfg.MinReviewers)
	if !ok {
		return false
	}
	k.logger.Debug("historical correction applied", "text", key, "corrected", agreed)
	c.Corrected = c.MedicineName != agreed
	c.MedicineName = agreed
	c.Matched = true
	c.MatchSource = rx.MatchSourceHistorical
	c.MatchConfidence = rx.Float(k.cfg.HistoricalConfidence)
	return true
}

// correctable reports whether c carries a name worth matching. A short
// fragment scores 100 against any record containing it as a token.
func correctable(c *rx.Candidate) bool {
	return utf8.RuneCountInString(rx.NormalizeKey(c.MedicineName)) >= MinNameRunes
}

func clearMatch(c *rx.Candidate) {
	c.Matched = false
	c.MatchSource = ""
	c.MatchConfidence = nil
}

func (k *Corrector) applyIndex(c *rx.Candidate, region string) {
	clearMatch(c)
	if k.index == nil || c.MedicineName == rx.UnknownName {
		return
	}
	matches := k.index.Lookup(c.MedicineName, region, 1, 0)
	if len(matches) == 0 {
		c.BestMatchScore = 0
		return
	}
	best := matches[0]
	c.BestMatchScore = best.Score
	if best.Score < k.cfg.Threshold {
		k.logger.Debug("no qualifying match", "name", c.MedicineName, "best_score", best.Score)
		return
	}
	name := Preferred(c.MedicineName, best.Record)
	c.Corrected = name != c.MedicineName
	c.MedicineName = name
	if c.Strength == "" {
		c.Strength = best.Record.Strength
	}
	c.Matched = true
	c.MatchSource = rx.MatchSourceIndex
	c.MatchConfidence = rx.Float(best.Score / 100)
}

// Preferred picks the record name closest to what was written: the brand
// name unless the generic name scores strictly higher against the query.
func Preferred(query string, r medindex.Record) string {
	if r.BrandName == "" {
		return r.GenericName
	}
	if r.GenericName == "" {
		return r.BrandName
	}
	if medindex.TokenSetRatio(query, r.GenericName) > medindex.TokenSetRatio(query, r.BrandName) {
		return r.GenericName
	}
	return r.BrandName
}

// Consensus returns the corrected text at least minReviewers distinct
// reviewers agree on. Corrections are compared ignoring case and spacing.
// When several qualify, the one with more reviewers wins, then the most
// recently logged.
func Consensus(entries []rx.CorrectionEntry, minReviewers int) (string, bool) {
	type group struct {
		text      string
		reviewers map[string]bool
		latest    int
	}
	groups := map[string]*group{}
	var order []string
	for i, e := range entries {
		text := rx.NormalizeKey(e.CorrectedText)
		if text == "" || strings.EqualFold(text, rx.NormalizeKey(e.OriginalText)) {
			continue
		}
		key := strings.ToLower(text)
		g, ok := groups[key]
		if !ok {
			g = &group{reviewers: map[string]bool{}}
			groups[key] = g
			order = append(order, key)
		}
		g.reviewers[e.ReviewerID] = true
		if !ok || !e.Timestamp.Before(entries[g.latest].Timestamp) {
			g.text = text
			g.latest = i
		}
	}

	var best *group
	for _, key := range order {
		g := groups[key]
		if len(g.reviewers) < minReviewers {
			continue
		}
		if best == nil ||
			len(g.reviewers) > len(best.reviewers) ||
			(len(g.reviewers) == len(best.reviewers) && entries[g.latest].Timestamp.After(entries[best.latest].Timestamp)) {
			best = g
		}
	}
	if best == nil {
		return "", false
	}
	return best.text, true
}
