package replay

import (
	"context"
	"errors"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/contract"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/rs/zerolog/log"
)

const DEFAULT_GRADUATION_BATCH = 20

// submitGraduations sends the graduation transaction of every market whose
// graduation is due. Each market is claimed before its send, so a failure to
// record the result can never lead to a second broadcast.
func (e *Engine) submitGraduations(ctx context.Context) int {
	if e.graduator == nil {
		return 0
	}
	due, err := e.state.GetTokensAwaitingGraduation(ctx, DEFAULT_GRADUATION_BATCH)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load markets awaiting graduation")
		return 0
	}
	submitted := 0
	for _, token := range due {
		if ctx.Err() != nil {
			break
		}
		if e.submitGraduation(ctx, token) {
			submitted++
		}
	}
	return submitted
}

func (e *Engine) submitGraduation(ctx context.Context, token *common.TokenMarket) bool {
	claimed, err := e.state.ClaimGraduation(ctx, token.ID)
	if err != nil {
		log.Error().Err(err).Str("token", token.Address).Msg("Failed to claim graduation")
		return false
	}
	if !claimed {
		log.Debug().Str("token", token.Address).Msg("Graduation claimed elsewhere, skipping")
		return false
	}

	txHash, err := e.graduator.Graduate(ctx, token.Address)
	switch {
	case errors.Is(err, contract.ErrGraduationReverted):
		metrics.GraduationSubmissions.WithLabelValues("reverted").Inc()
		metrics.ReplayAnomalies.WithLabelValues("graduation_reverted").Inc()
		log.Warn().Err(err).Bool("anomaly", true).Str("token", token.Address).Msg("Graduation reverted, not retrying")
		e.recordGraduation(ctx, token, common.GraduationReverted, "")
		return false
	case err != nil:
		metrics.GraduationSubmissions.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("token", token.Address).Msg("Failed to submit graduation, retrying on the next run")
		e.recordGraduation(ctx, token, common.GraduationDue, "")
		return false
	}
	metrics.GraduationSubmissions.WithLabelValues("submitted").Inc()
	e.recordGraduation(ctx, token, common.GraduationSubmitted, txHash)
	return true
}

func (e *Engine) recordGraduation(ctx context.Context, token *common.TokenMarket, state common.GraduationState, txHash string) {
	// the send already happened, a shutdown must not lose its outcome
	ctx = context.WithoutCancel(ctx)
	if err := e.state.SetGraduationResult(ctx, token.ID, state, txHash); err != nil {
		log.Error().Err(err).Str("token", token.Address).Str("state", state.String()).Str("tx", txHash).
			Msg("Failed to record graduation result, market stays claimed until resolved by hand")
	}
}
