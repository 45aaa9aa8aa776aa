package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/rules"
	"github.com/coralbay/tripwire/internal/tracker"
)

// handleEvaluate handles POST /v1/evaluate: screen one transaction against
// the active rule set, then fold it into the frequency and pattern history
// so later transactions see it.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var tx rules.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if tx.ID == "" || tx.FromAccount == "" {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "id and from_account are required"})
		return
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	active, err := s.repo.ActiveRules(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	result := s.engine.Evaluate(r.Context(), &tx, active, correlationID, s.config.Engine.MaxCompositeDepth)

	if s.collector != nil {
		s.collector.RecordEvaluation(string(result.Status), time.Duration(result.ElapsedMs*float64(time.Millisecond)))
		for _, outcome := range result.MatchedRules {
			s.collector.RecordRuleMatch(string(outcome.RuleType), string(outcome.Risk))
		}
	}

	// Track after evaluation: a transaction never counts against itself.
	event := &tracker.TransactionEvent{
		ID:          tx.ID,
		FromAccount: tx.FromAccount,
		ToAccount:   tx.ToAccount,
		Amount:      tx.Amount,
		DeviceID:    tx.DeviceID,
		IPAddress:   tx.IPAddress,
		Type:        tx.Type,
		Location:    tx.Location,
		Timestamp:   tx.Timestamp,
	}
	s.freq.TrackTransaction(r.Context(), event, s.trackingWindows...)
	s.patterns.Track(r.Context(), event, s.trackingWindows...)

	s.logger.Info("transaction evaluated",
		zap.String("transaction_id", tx.ID),
		zap.String("correlation_id", correlationID),
		zap.String("status", string(result.Status)),
		zap.String("risk_level", string(result.Risk)),
		zap.Int("matched", len(result.MatchedRules)))

	s.respond(w, http.StatusOK, result)
}
