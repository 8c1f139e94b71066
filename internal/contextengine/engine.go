// Package contextengine composes the human-readable "context document"
// injected back into an editor session at startup: a project's recent
// observations and summaries, optionally scoped to one plan, rendered as
// Markdown or ANSI-coloured text.
package contextengine

import (
	"context"
	"sort"

	"github.com/lukaszraczylo/memoryd/internal/store"
)

// baselineTokensPerObservation is the fixed per-observation cost used to
// compute the "tokens saved" figure in the rendered header. It represents
// a rough estimate of what re-discovering the same information inline
// would cost, not a measured value.
const baselineTokensPerObservation int64 = 2000

// Config holds the engine's tunables, loaded once at daemon startup.
type Config struct {
	ObservationCap       int
	SessionCap           int
	ConceptsWhitelist    []string
	TypesWhitelist       []string
	FullObservationField string // "facts", "narrative", or "text"
	FullCount            int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		ObservationCap:       40,
		SessionCap:           5,
		FullObservationField: "narrative",
		FullCount:            10,
	}
}

// Request is one context-inject call.
type Request struct {
	Projects         []string
	CurrentSessionID string
	CurrentCWD       string
	PlanPath         string
	RenderMode       string // "markdown" or "ansi"
}

// Engine composes context documents from the store.
type Engine struct {
	db  *store.Store
	cfg Config
}

// New constructs an Engine over db with cfg's caps and toggles.
func New(db *store.Store, cfg Config) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// timelineEntry is one row in the merged, display-ordered timeline.
type timelineEntry struct {
	displayEpoch int64
	id           int64
	observation  *store.Observation
	summary      *store.SessionSummary
	full         bool
}

// BuildContext renders the context document for req. An empty result is
// valid and means both query families returned nothing.
func (e *Engine) BuildContext(ctx context.Context, req Request) (string, error) {
	var allObservations []store.Observation
	var allSummaries []store.SessionSummary

	for _, project := range req.Projects {
		obs, sums, err := e.queryProject(ctx, project, req.PlanPath)
		if err != nil {
			return "", err
		}
		allObservations = append(allObservations, obs...)
		allSummaries = append(allSummaries, sums...)
	}

	if len(allObservations) == 0 && len(allSummaries) == 0 {
		return renderEmptyState(req.RenderMode), nil
	}

	var tokensUsed int64
	for _, o := range allObservations {
		tokensUsed += o.DiscoveryTokens
	}
	tokensSaved := baselineTokensPerObservation*int64(len(allObservations)) - tokensUsed

	timeline := e.buildTimeline(allObservations, allSummaries)

	var prior *store.SessionSummary
	if len(allSummaries) > 0 {
		mostRecent := allSummaries[0]
		for _, s := range allSummaries[1:] {
			if s.CreatedAtEpoch > mostRecent.CreatedAtEpoch {
				mostRecent = s
			}
		}
		prior = &mostRecent
	}

	previously := ""
	if prior != nil && req.CurrentCWD != "" {
		previously = lastAssistantMessage(req.CurrentCWD, prior.MemorySessionID)
	}

	doc := document{
		observationCount: len(allObservations),
		tokensUsed:       tokensUsed,
		tokensSaved:      tokensSaved,
		timeline:         timeline,
		fullField:        e.cfg.FullObservationField,
		priorSummary:     prior,
		previously:       previously,
	}

	if req.RenderMode == "ansi" {
		return renderANSI(doc), nil
	}
	return renderMarkdown(doc), nil
}

// queryProject runs the unscoped or plan-scoped query family for one
// project and returns observations newest-first, summaries newest-first.
func (e *Engine) queryProject(ctx context.Context, project, planPath string) ([]store.Observation, []store.SessionSummary, error) {
	if planPath != "" {
		obs, err := e.db.ObservationsForProjectPlanScoped(ctx, project, planPath, e.cfg.TypesWhitelist, e.cfg.ConceptsWhitelist, e.cfg.ObservationCap)
		if err != nil {
			return nil, nil, err
		}
		sums, err := e.db.SummariesForProjectPlanScoped(ctx, project, planPath, e.cfg.SessionCap)
		if err != nil {
			return nil, nil, err
		}
		return obs, sums, nil
	}

	obs, err := e.db.ObservationsForProject(ctx, project, e.cfg.TypesWhitelist, e.cfg.ConceptsWhitelist, e.cfg.ObservationCap)
	if err != nil {
		return nil, nil, err
	}
	sums, err := e.db.SummariesForProject(ctx, project, e.cfg.SessionCap)
	if err != nil {
		return nil, nil, err
	}
	return obs, sums, nil
}

// buildTimeline merges observations and summaries into one ascending,
// display-ordered sequence. Summaries before the most recent "open" the
// interval they cover by borrowing the epoch of the summary immediately
// older than them; the oldest summary has no older sibling to borrow from
// and, like the most recent one, uses its own epoch.
func (e *Engine) buildTimeline(observations []store.Observation, summaries []store.SessionSummary) []timelineEntry {
	summariesAsc := make([]store.SessionSummary, len(summaries))
	copy(summariesAsc, summaries)
	sort.Slice(summariesAsc, func(i, j int) bool { return summariesAsc[i].CreatedAtEpoch < summariesAsc[j].CreatedAtEpoch })

	entries := make([]timelineEntry, 0, len(observations)+len(summariesAsc))
	for i, s := range summariesAsc {
		s := s
		displayEpoch := s.CreatedAtEpoch
		if i != 0 && i != len(summariesAsc)-1 {
			displayEpoch = summariesAsc[i-1].CreatedAtEpoch
		}
		entries = append(entries, timelineEntry{displayEpoch: displayEpoch, id: s.ID, summary: &s})
	}

	fullCutoff := e.cfg.FullCount
	if fullCutoff <= 0 {
		fullCutoff = len(observations)
	}
	for i, o := range observations {
		o := o
		entries = append(entries, timelineEntry{
			displayEpoch: o.CreatedAtEpoch,
			id:           o.ID,
			observation:  &o,
			full:         i < fullCutoff,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].displayEpoch != entries[j].displayEpoch {
			return entries[i].displayEpoch < entries[j].displayEpoch
		}
		return entries[i].id < entries[j].id
	})
	return entries
}

// document is the data the two renderers (Markdown and ANSI) both consume.
type document struct {
	observationCount int
	tokensUsed       int64
	tokensSaved      int64
	timeline         []timelineEntry
	fullField        string
	priorSummary     *store.SessionSummary
	previously       string
}
