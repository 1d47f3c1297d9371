package inventory

import (
	"context"
	"fmt"

	"hotelpms/internal/domain"
	"hotelpms/internal/metrics"
	"hotelpms/internal/models"

	"github.com/rs/zerolog"
)

// DiffEngine decides whether the OTA's published stock disagrees with local inventory.
type DiffEngine struct {
	aggregator domain.InventoryAggregator
	stock      domain.StockReader
	logger     *zerolog.Logger
}

func NewDiffEngine(aggregator domain.InventoryAggregator, stock domain.StockReader, logger *zerolog.Logger) *DiffEngine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DiffEngine{aggregator: aggregator, stock: stock, logger: logger}
}

// NeedsSync reports true as soon as one comparable (group, date) pair differs.
// Pairs the OTA does not report are skipped, so a range with nothing comparable needs no sync.
func (e *DiffEngine) NeedsSync(ctx context.Context, hotelID int64, r models.DateRange) (bool, error) {
	deltas, err := e.aggregator.InventoryByRange(ctx, hotelID, r)
	if err != nil {
		return false, fmt.Errorf("aggregate inventory for hotel %d: %w", hotelID, err)
	}

	observations, err := e.stock.QueryStock(ctx, hotelID, r)
	if err != nil {
		return false, fmt.Errorf("query remote stock for hotel %d: %w", hotelID, err)
	}

	remote := make(map[models.StockKey]int, len(observations))
	for _, o := range observations {
		remote[models.KeyOf(o.RoomTypeGroupCode, o.SaleDate)] = o.RemainingCount
	}

	for _, d := range deltas {
		key := models.KeyOf(d.RoomTypeGroupCode, d.Date)
		published, ok := remote[key]
		if !ok {
			e.logger.Warn().
				Int64("hotel_id", hotelID).
				Str("group", key.Group).
				Str("date", key.Date).
				Msg("no remote stock observation, skipping")
			continue
		}
		if expected := d.Remaining(); expected != published {
			e.logger.Debug().
				Int64("hotel_id", hotelID).
				Str("group", key.Group).
				Str("date", key.Date).
				Int("expected", expected).
				Int("published", published).
				Msg("stock mismatch")
			metrics.IncDiffDecision(true)
			return true, nil
		}
	}

	metrics.IncDiffDecision(false)
	return false, nil
}
