package worker

import (
	"context"
	"database/sql"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lukaszraczylo/memoryd/internal/queue"
	"github.com/lukaszraczylo/memoryd/internal/sessionqueue"
	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/internal/worker/sse"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// observationPayload is what handleIngestObservation enqueues; the
// materializer decodes it back off the durable queue.
type observationPayload struct {
	MemorySessionID string      `json:"memory_session_id"`
	Project         string      `json:"project"`
	ToolName        string      `json:"tool_name"`
	ToolInput       interface{} `json:"tool_input"`
	ToolResponse    interface{} `json:"tool_response"`
	FilesRead       []string    `json:"files_read,omitempty"`
	FilesModified   []string    `json:"files_modified,omitempty"`
}

// summaryPayload is what handleIngestSummary enqueues.
type summaryPayload struct {
	MemorySessionID string `json:"memory_session_id"`
	Project         string `json:"project"`
	Request         string `json:"request,omitempty"`
	Investigated    string `json:"investigated,omitempty"`
	Learned         string `json:"learned,omitempty"`
	Completed       string `json:"completed,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
}

// runProcessor drives one session's SessionQueueProcessor iterator until
// ctx is cancelled or the iterator gives up on idleness, materializing each
// claimed message into the Store and broadcasting the corresponding SSE
// event. One goroutine per active session; started lazily on first ingest.
func (s *Service) runProcessor(ctx context.Context, sessionDBID int64) {
	it := sessionqueue.NewIterator(sessionqueue.Config{
		SessionDBID: sessionDBID,
		Context:     ctx,
		OnIdleTimeout: func() {
			s.sessionManager.DeleteSession(sessionDBID)
		},
	}, s.queue, s.bus)

	for {
		rows, ok := it.Next()
		if !ok {
			return
		}
		for _, row := range rows {
			s.materialize(ctx, sessionDBID, row)
		}
	}
}

func (s *Service) materialize(ctx context.Context, sessionDBID int64, row models.PendingMessage) {
	var envelope struct {
		Kind string `json:"kind"`
	}
	if err := queue.DecodePayload(row, &envelope); err != nil {
		log.Error().Err(err).Int64("messageId", row.ID).Msg("worker: corrupt queue payload, skipping")
		return
	}

	switch envelope.Kind {
	case "observation":
		s.materializeObservation(ctx, sessionDBID, row)
	case "summary":
		s.materializeSummary(ctx, sessionDBID, row)
	default:
		log.Warn().Str("kind", envelope.Kind).Msg("worker: unknown queue payload kind, skipping")
	}
}

func (s *Service) materializeObservation(ctx context.Context, sessionDBID int64, row models.PendingMessage) {
	var p struct {
		observationPayload
		Kind string `json:"kind"`
	}
	if err := queue.DecodePayload(row, &p); err != nil {
		log.Error().Err(err).Msg("worker: decode observation payload")
		return
	}

	narrative := stringifyToolData(p.ToolResponse)
	tokens := s.tokenCounter.Count(narrative)

	obsRow := &store.Observation{
		MemorySessionID: p.MemorySessionID,
		Project:         p.Project,
		Type:            models.ObsTypeDiscovery,
		Title:           nullableString(p.ToolName),
		Narrative:       nullableString(narrative),
		FilesRead:       models.JSONStringArray(store.SanitizeProjectPaths(p.Project, p.FilesRead)),
		FilesModified:   models.JSONStringArray(store.SanitizeProjectPaths(p.Project, p.FilesModified)),
		DiscoveryTokens: tokens,
	}

	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&store.SDKSession{}).
			Where("id = ?", sessionDBID).
			Update("memory_session_id", p.MemorySessionID).Error; err != nil {
			return err
		}
		return tx.Create(obsRow).Error
	})
	if err != nil {
		log.Error().Err(err).Int64("sessionDbId", sessionDBID).Msg("worker: materialize observation")
		return
	}

	s.sseBroadcaster.BroadcastEvent(sse.EventNewObservation, obsRow)
}

func (s *Service) materializeSummary(ctx context.Context, sessionDBID int64, row models.PendingMessage) {
	var p struct {
		summaryPayload
		Kind string `json:"kind"`
	}
	if err := queue.DecodePayload(row, &p); err != nil {
		log.Error().Err(err).Msg("worker: decode summary payload")
		return
	}

	sumRow := &store.SessionSummary{
		MemorySessionID: p.MemorySessionID,
		Project:         p.Project,
		Request:         nullableString(p.Request),
		Investigated:    nullableString(p.Investigated),
		Learned:         nullableString(p.Learned),
		Completed:       nullableString(p.Completed),
		NextSteps:       nullableString(p.NextSteps),
		DiscoveryTokens: s.tokenCounter.Count(p.Learned + p.Investigated + p.Completed),
	}

	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&store.SDKSession{}).
			Where("id = ?", sessionDBID).
			Update("memory_session_id", p.MemorySessionID).Error; err != nil {
			return err
		}
		return tx.Create(sumRow).Error
	})
	if err != nil {
		log.Error().Err(err).Int64("sessionDbId", sessionDBID).Msg("worker: materialize summary")
		return
	}

	s.sseBroadcaster.BroadcastEvent(sse.EventNewSummary, sumRow)
}

// ensureProcessor registers sessionDBID with the session manager (if not
// already active) and starts its processor goroutine exactly once.
func (s *Service) ensureProcessor(sessionDBID int64, contentSessionID, project, userPrompt string) {
	if _, ok := s.sessionManager.GetSession(sessionDBID); !ok {
		s.sessionManager.CreateSession(sessionDBID, contentSessionID, project, userPrompt)
	}
	s.sessionManager.StartProcessorOnce(sessionDBID, func(ctx context.Context) {
		s.runProcessor(ctx, sessionDBID)
	})
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// stringifyToolData renders a tool-use payload (already-decoded JSON: a
// string, a map, a slice, or a scalar) as narrative text. Non-string
// values are marshaled back to a compact JSON string; callers never see
// the intermediate interface{} shape the ingest handler received.
func stringifyToolData(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
