package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromoCodes maps promo codes to free worker limits. The table is read-only
// once built; lookups are case-insensitive.
type PromoCodes struct {
	limits map[string]int
}

type promoFile struct {
	PromoCodes []struct {
		Code            string `yaml:"code"`
		FreeWorkerLimit int    `yaml:"free_worker_limit"`
	} `yaml:"promo_codes"`
}

// NewPromoCodes builds a promo table from a code to limit map
func NewPromoCodes(limits map[string]int) PromoCodes {
	p := PromoCodes{limits: make(map[string]int, len(limits))}
	for code, limit := range limits {
		p.limits[normalizeCode(code)] = limit
	}
	return p
}

// LoadPromoCodes reads a promo table from a YAML file. An empty path yields an empty table.
func LoadPromoCodes(path string) (PromoCodes, error) {
	if path == "" {
		return NewPromoCodes(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PromoCodes{}, fmt.Errorf("failed to read promo codes: %w", err)
	}
	return ParsePromoCodes(data)
}

// ParsePromoCodes parses a YAML promo table
func ParsePromoCodes(data []byte) (PromoCodes, error) {
	var file promoFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return PromoCodes{}, fmt.Errorf("failed to parse promo codes: %w", err)
	}

	limits := make(map[string]int, len(file.PromoCodes))
	for _, entry := range file.PromoCodes {
		code := normalizeCode(entry.Code)
		if code == "" {
			return PromoCodes{}, fmt.Errorf("promo code entry is missing a code")
		}
		if entry.FreeWorkerLimit <= 0 {
			return PromoCodes{}, fmt.Errorf("promo code %s: free_worker_limit must be positive", code)
		}
		if _, dup := limits[code]; dup {
			return PromoCodes{}, fmt.Errorf("promo code %s is defined twice", code)
		}
		limits[code] = entry.FreeWorkerLimit
	}

	return PromoCodes{limits: limits}, nil
}

// Lookup returns the free worker limit granted by a code
func (p PromoCodes) Lookup(code string) (int, bool) {
	limit, ok := p.limits[normalizeCode(code)]
	return limit, ok
}

// Len returns the number of codes in the table
func (p PromoCodes) Len() int {
	return len(p.limits)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
