package tier

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	extErrors "github.com/pkg/errors"
)

// PriceTable maps billing provider price identifiers to the Tier they purchase.
// The mapping is deployment configuration, not code: prices are created on the
// provider's dashboard and their ids differ between test and live mode.
type PriceTable map[string]Tier

type priceMapping struct {
	PriceID string `json:"priceId"` // Corresponds to Stripe's Price ID
	Tier    Tier   `json:"tier"`    // Either TierPremium or TierUniversity
}

// LoadPriceTableFromFile will read from the price table JSON file to define
// which provider prices grant which tier.
func LoadPriceTableFromFile(filename string) (PriceTable, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open price table JSON file")
	}
	mappings := make([]priceMapping, 0, 4)
	if err := json.Unmarshal(jsonBytes, &mappings); err != nil {
		return nil, extErrors.Wrap(err, "Invalid price table JSON file")
	}
	table := make(PriceTable, len(mappings))
	for _, m := range mappings {
		if len(m.PriceID) == 0 {
			return nil, fmt.Errorf("Price table entry with empty priceId")
		}
		switch m.Tier {
		case TierPremium, TierUniversity:
		default:
			return nil, fmt.Errorf("Price %s maps to invalid tier %q", m.PriceID, m.Tier)
		}
		table[m.PriceID] = m.Tier
	}
	return table, nil
}

// Resolve returns the Tier purchased by the given price id.
// Unmapped or empty price ids resolve to TierFree.
func (t PriceTable) Resolve(priceID string) Tier {
	if resolved, ok := t[priceID]; ok {
		return resolved
	}
	return TierFree
}
