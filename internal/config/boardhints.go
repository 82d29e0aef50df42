package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BoardHint maps a USB vendor:product id pair to a human name, used by the
// detection FSM's OpenAndClassify step (spec §4.6 step 1) to seed a guess
// before any protocol bytes are exchanged.
type BoardHint struct {
	VendorID  string `yaml:"vendor_id"`
	ProductID string `yaml:"product_id"`
	Name      string `yaml:"name"`
	Flasher   string `yaml:"flasher"` // "dfu", "avrdude", "serial", "ardupilot"
}

// BoardHintTable holds all configured hints.
type BoardHintTable struct {
	Hints []BoardHint `yaml:"hints"`
}

// LoadBoardHints loads the vid:pid hint table from a YAML file. A missing
// file is not an error: detection simply proceeds without a hint.
func LoadBoardHints(path string) (*BoardHintTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &BoardHintTable{}, nil
		}
		return nil, fmt.Errorf("failed to read board hints: %w", err)
	}

	var table BoardHintTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse board hints: %w", err)
	}

	return &table, nil
}

// Lookup finds a hint by vendor:product id, case-insensitively matched on
// the caller's formatting.
func (t *BoardHintTable) Lookup(vendorID, productID string) (*BoardHint, bool) {
	for _, h := range t.Hints {
		if strings.EqualFold(h.VendorID, vendorID) && strings.EqualFold(h.ProductID, productID) {
			return &h, true
		}
	}
	return nil, false
}
