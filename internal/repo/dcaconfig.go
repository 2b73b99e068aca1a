package repo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"context"

	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
)

// DCAConfigRepo exposes domain-typed access to grid configurations.
type DCAConfigRepo struct {
	configs model.DCAConfigurationsModel
}

// NewDCAConfigRepo constructs a DCAConfigRepo over the given model.
func NewDCAConfigRepo(configs model.DCAConfigurationsModel) *DCAConfigRepo {
	return &DCAConfigRepo{configs: configs}
}

func (r *DCAConfigRepo) FindActive(ctx context.Context, userID, symbol, timeframe, exchange, side string) (*domain.DCAConfiguration, error) {
	row, err := r.configs.FindActive(ctx, userID, symbol, timeframe, exchange, side)
	if err != nil {
		return nil, err
	}
	return configFromRow(row)
}

func (r *DCAConfigRepo) Insert(ctx context.Context, c *domain.DCAConfiguration) error {
	row, err := rowFromConfig(c)
	if err != nil {
		return err
	}
	return r.configs.Insert(ctx, row)
}

func (r *DCAConfigRepo) Update(ctx context.Context, c *domain.DCAConfiguration) error {
	row, err := rowFromConfig(c)
	if err != nil {
		return err
	}
	return r.configs.Update(ctx, row)
}

func configFromRow(row *model.DCAConfigurationRow) (*domain.DCAConfiguration, error) {
	levelsJSON, err := model.DecodeLevels(row.LevelsJSON)
	if err != nil {
		return nil, err
	}
	overridesJSON, err := model.DecodePyramidOverrides(row.PyramidOverridesJSON)
	if err != nil {
		return nil, err
	}
	capOverridesJSON, err := model.DecodeCapitalOverrides(row.CapitalOverridesJSON)
	if err != nil {
		return nil, err
	}

	pyramidOverrides := make(map[int][]domain.DCALevel, len(overridesJSON))
	for idx, levels := range overridesJSON {
		pyramidOverrides[idx] = levelsFromJSON(levels)
	}
	capitalOverrides := make(map[int]decimal.Decimal, len(capOverridesJSON))
	for idx, v := range capOverridesJSON {
		capitalOverrides[idx] = parseDecimal(v)
	}

	return &domain.DCAConfiguration{
		ID:                 row.ID,
		UserID:             row.UserID,
		Pair:               row.Symbol,
		Timeframe:          row.Timeframe,
		Exchange:           row.Exchange,
		Levels:             levelsFromJSON(levelsJSON),
		PyramidOverrides:   pyramidOverrides,
		DefaultCapitalUSD:  parseDecimal(row.CapitalPerPyramidUSD),
		CapitalOverrides:   capitalOverrides,
		MaxPyramids:        row.MaxPyramids,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

func rowFromConfig(c *domain.DCAConfiguration) (*model.DCAConfigurationRow, error) {
	levelsJSON, err := model.EncodeLevels(levelsToJSON(c.Levels))
	if err != nil {
		return nil, fmt.Errorf("repo: encode dca levels: %w", err)
	}
	overridesJSON := make(map[int][]model.DCALevelJSON, len(c.PyramidOverrides))
	for idx, levels := range c.PyramidOverrides {
		overridesJSON[idx] = levelsToJSON(levels)
	}
	pyramidOverridesJSON, err := model.EncodePyramidOverrides(overridesJSON)
	if err != nil {
		return nil, fmt.Errorf("repo: encode pyramid overrides: %w", err)
	}
	capOverridesJSON := make(map[int]string, len(c.CapitalOverrides))
	for idx, v := range c.CapitalOverrides {
		capOverridesJSON[idx] = decStr(v)
	}
	capitalOverridesJSON, err := model.EncodeCapitalOverrides(capOverridesJSON)
	if err != nil {
		return nil, fmt.Errorf("repo: encode capital overrides: %w", err)
	}

	now := c.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &model.DCAConfigurationRow{
		ID:                   c.ID,
		UserID:               c.UserID,
		Symbol:               c.Pair,
		Timeframe:            c.Timeframe,
		Exchange:             c.Exchange,
		Side:                 string(domain.SideBuy),
		MaxPyramids:          c.MaxPyramids,
		CapitalPerPyramidUSD: decStr(c.DefaultCapitalUSD),
		LevelsJSON:           levelsJSON,
		PyramidOverridesJSON: pyramidOverridesJSON,
		CapitalOverridesJSON: capitalOverridesJSON,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            now,
	}, nil
}

func levelsFromJSON(levels []model.DCALevelJSON) []domain.DCALevel {
	out := make([]domain.DCALevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.DCALevel{
			GapPercent:    parseDecimal(l.GapPercent),
			WeightPercent: parseDecimal(l.WeightPercent),
			TPPercent:     parseDecimal(l.TPPercent),
		})
	}
	return out
}

func levelsToJSON(levels []domain.DCALevel) []model.DCALevelJSON {
	out := make([]model.DCALevelJSON, 0, len(levels))
	for _, l := range levels {
		out = append(out, model.DCALevelJSON{
			GapPercent:    decStr(l.GapPercent),
			WeightPercent: decStr(l.WeightPercent),
			TPPercent:     decStr(l.TPPercent),
		})
	}
	return out
}
