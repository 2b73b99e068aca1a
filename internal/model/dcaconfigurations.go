package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const dcaConfigurationsTable = "dca_configurations"

var dcaConfigurationFields = []string{
	"id", "user_id", "symbol", "timeframe", "exchange", "side",
	"max_pyramids", "capital_per_pyramid_usd", "levels_json",
	"pyramid_overrides_json", "capital_overrides_json",
	"created_at", "updated_at",
}

// DCAConfigurationRow is the raw row shape for dca_configurations. The
// per-level grid and the per-pyramid overrides are nested structures, so
// they're stored as JSONB rather than flattened into columns.
type DCAConfigurationRow struct {
	ID                   string
	UserID               string
	Symbol               string
	Timeframe            string
	Exchange             string
	Side                 string
	MaxPyramids          int
	CapitalPerPyramidUSD string
	LevelsJSON           []byte
	PyramidOverridesJSON []byte
	CapitalOverridesJSON []byte
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DCALevelJSON mirrors domain.DCALevel for (de)serialization.
type DCALevelJSON struct {
	GapPercent    string `json:"gap_percent"`
	WeightPercent string `json:"weight_percent"`
	TPPercent     string `json:"tp_percent"`
}

// EncodeLevels marshals a slice of levels into the levels_json column.
func EncodeLevels(levels []DCALevelJSON) ([]byte, error) {
	return json.Marshal(levels)
}

// DecodeLevels unmarshals the levels_json column.
func DecodeLevels(raw []byte) ([]DCALevelJSON, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var levels []DCALevelJSON
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("model: decode levels_json: %w", err)
	}
	return levels, nil
}

// EncodePyramidOverrides marshals the per-pyramid-index level overrides.
func EncodePyramidOverrides(overrides map[int][]DCALevelJSON) ([]byte, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	return json.Marshal(overrides)
}

// DecodePyramidOverrides unmarshals the pyramid_overrides_json column.
func DecodePyramidOverrides(raw []byte) (map[int][]DCALevelJSON, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var overrides map[int][]DCALevelJSON
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("model: decode pyramid_overrides_json: %w", err)
	}
	return overrides, nil
}

// EncodeCapitalOverrides marshals the per-pyramid-index capital overrides.
func EncodeCapitalOverrides(overrides map[int]string) ([]byte, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	return json.Marshal(overrides)
}

// DecodeCapitalOverrides unmarshals the capital_overrides_json column.
func DecodeCapitalOverrides(raw []byte) (map[int]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var overrides map[int]string
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("model: decode capital_overrides_json: %w", err)
	}
	return overrides, nil
}

// DCAConfigurationsModel is the data access interface for dca_configurations.
type DCAConfigurationsModel interface {
	Insert(ctx context.Context, row *DCAConfigurationRow) error
	Update(ctx context.Context, row *DCAConfigurationRow) error
	FindOne(ctx context.Context, id string) (*DCAConfigurationRow, error)
	FindActive(ctx context.Context, userID, symbol, timeframe, exchange, side string) (*DCAConfigurationRow, error)
}

type defaultDCAConfigurationsModel struct {
	conn sqlx.SqlConn
}

// NewDCAConfigurationsModel constructs a DCAConfigurationsModel over conn.
func NewDCAConfigurationsModel(conn sqlx.SqlConn) DCAConfigurationsModel {
	return &defaultDCAConfigurationsModel{conn: conn}
}

func (m *defaultDCAConfigurationsModel) Insert(ctx context.Context, row *DCAConfigurationRow) error {
	query := fmt.Sprintf("insert into %s (%s) values (%s)", dcaConfigurationsTable, joinFields(dcaConfigurationFields), placeholders(len(dcaConfigurationFields)))
	_, err := m.conn.ExecCtx(ctx, query,
		row.ID, row.UserID, row.Symbol, row.Timeframe, row.Exchange, row.Side,
		row.MaxPyramids, row.CapitalPerPyramidUSD, row.LevelsJSON,
		row.PyramidOverridesJSON, row.CapitalOverridesJSON,
		row.CreatedAt, row.UpdatedAt)
	return err
}

func (m *defaultDCAConfigurationsModel) Update(ctx context.Context, row *DCAConfigurationRow) error {
	query := fmt.Sprintf(`update %s set max_pyramids=$2, capital_per_pyramid_usd=$3, levels_json=$4,
		pyramid_overrides_json=$5, capital_overrides_json=$6, updated_at=$7 where id=$1`, dcaConfigurationsTable)
	_, err := m.conn.ExecCtx(ctx, query,
		row.ID, row.MaxPyramids, row.CapitalPerPyramidUSD, row.LevelsJSON,
		row.PyramidOverridesJSON, row.CapitalOverridesJSON, row.UpdatedAt)
	return err
}

func (m *defaultDCAConfigurationsModel) FindOne(ctx context.Context, id string) (*DCAConfigurationRow, error) {
	query := fmt.Sprintf("select %s from %s where id=$1", joinFields(dcaConfigurationFields), dcaConfigurationsTable)
	var row DCAConfigurationRow
	if err := m.conn.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (m *defaultDCAConfigurationsModel) FindActive(ctx context.Context, userID, symbol, timeframe, exchange, side string) (*DCAConfigurationRow, error) {
	query := fmt.Sprintf(`select %s from %s where user_id=$1 and symbol=$2 and timeframe=$3
		and exchange=$4 and side=$5`, joinFields(dcaConfigurationFields), dcaConfigurationsTable)
	var row DCAConfigurationRow
	if err := m.conn.QueryRowCtx(ctx, &row, query, userID, symbol, timeframe, exchange, side); err != nil {
		return nil, err
	}
	return &row, nil
}
