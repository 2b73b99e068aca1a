package precision

import (
	"context"
	"fmt"

	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/gridcalc"
)

// ProviderSource adapts a set of exchange.Provider connectors into a
// precision Source, one provider per venue name.
type ProviderSource struct {
	providers map[string]exchange.Provider
}

// NewProviderSource builds a Source over the given venue -> provider map.
func NewProviderSource(providers map[string]exchange.Provider) *ProviderSource {
	return &ProviderSource{providers: providers}
}

func (s *ProviderSource) FetchRules(ctx context.Context, venue string) (map[string]gridcalc.PrecisionRules, error) {
	p, ok := s.providers[venue]
	if !ok {
		return nil, fmt.Errorf("precision: no provider configured for exchange %q", venue)
	}
	return p.GetPrecisionRules(ctx)
}
