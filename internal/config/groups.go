package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// GroupConfig overrides the consensus defaults for one group. Zero values
// keep the default.
//
// Example GROUPS_FILE:
//
//	groups:
//	  - id: team-a
//	    instance_id: inst-42
//	    buffer_threshold: 3
//	    approval_margin: 2
//	    voting_ttl: 30m
//	    reward_total_per_draft: "0.10"
type GroupConfig struct {
	ID              string        `yaml:"id"`
	InstanceID      string        `yaml:"instance_id"`
	BufferThreshold int           `yaml:"buffer_threshold"`
	ApprovalMargin  int           `yaml:"approval_margin"`
	VotingTTL       time.Duration `yaml:"voting_ttl"`
	// RewardTotalRaw is kept as text so amounts are never routed through a
	// float. Use RewardTotal for the parsed value.
	RewardTotalRaw string `yaml:"reward_total_per_draft"`

	// RewardTotal is set by LoadGroups when RewardTotalRaw is present.
	RewardTotal *decimal.Decimal `yaml:"-"`
}

type groupsFile struct {
	Groups []GroupConfig `yaml:"groups"`
}

// LoadGroups reads per-group overrides from a YAML file. An empty path
// yields no overrides. Reward totals must fit in places decimal places.
func LoadGroups(path string, places int32) (map[string]GroupConfig, error) {
	out := map[string]GroupConfig{}
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}
	return ParseGroups(raw, places)
}

// ParseGroups decodes and validates a groups document.
func ParseGroups(raw []byte, places int32) (map[string]GroupConfig, error) {
	var doc groupsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse groups file: %w", err)
	}

	out := make(map[string]GroupConfig, len(doc.Groups))
	for i, g := range doc.Groups {
		g.ID = strings.TrimSpace(g.ID)
		if g.ID == "" {
			return nil, fmt.Errorf("groups[%d]: id is required", i)
		}
		if _, dup := out[g.ID]; dup {
			return nil, fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}
		if g.BufferThreshold < 0 || g.ApprovalMargin < 0 || g.VotingTTL < 0 {
			return nil, fmt.Errorf("group %q: thresholds, margins and ttl must be >= 0", g.ID)
		}
		if s := strings.TrimSpace(g.RewardTotalRaw); s != "" {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("group %q: reward_total_per_draft: %w", g.ID, err)
			}
			if d.IsNegative() {
				return nil, fmt.Errorf("group %q: reward_total_per_draft must be >= 0", g.ID)
			}
			if !d.Equal(d.Truncate(places)) {
				return nil, fmt.Errorf("group %q: reward_total_per_draft %s has more than %d decimal places", g.ID, d, places)
			}
			g.RewardTotal = &d
		}
		g.InstanceID = strings.TrimSpace(g.InstanceID)
		out[g.ID] = g
	}
	return out, nil
}
