package andyweb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CallMeChewy/AndyWeb/permission"
)

// Tier is a subscription tier.
type Tier string

const (
	TierGuest       Tier = "guest"
	TierFree        Tier = "free"
	TierScholar     Tier = "scholar"
	TierResearcher  Tier = "researcher"
	TierInstitution Tier = "institution"
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierGuest, TierFree, TierScholar, TierResearcher, TierInstitution}

// ParseTier normalizes s and reports whether it names a tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tiers {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Feature is a capability granted by a tier.
type Feature string

const (
	FeatureBrowse          Feature = "browse"
	FeatureSearchLimited   Feature = "search_limited"
	FeatureSearch          Feature = "search"
	FeatureDownloadLimited Feature = "download_limited"
	FeatureDownload        Feature = "download"
	FeatureNotes           Feature = "notes"
	FeatureBookmarks       Feature = "bookmarks"
	FeatureAdvancedSearch  Feature = "advanced_search"
	FeatureExport          Feature = "export"
	FeatureCitations       Feature = "citations"
	FeatureBulkOperations  Feature = "bulk_operations"
	FeatureAdmin           Feature = "admin"
	FeatureAnalytics       Feature = "analytics"
)

// Features lists every feature in registry order.
var Features = []Feature{
	FeatureBrowse, FeatureSearchLimited, FeatureSearch, FeatureDownloadLimited,
	FeatureDownload, FeatureNotes, FeatureBookmarks, FeatureAdvancedSearch,
	FeatureExport, FeatureCitations, FeatureBulkOperations, FeatureAdmin,
	FeatureAnalytics,
}

// Unlimited marks a numeric tier limit with no cap.
const Unlimited = -1

// TierPolicy holds the limits and features of one tier.
type TierPolicy struct {
	Name            Tier      `json:"name"`
	DownloadsPerDay int       `json:"downloads_per_day"`
	SearchResultCap int       `json:"search_results_limit"`
	MaxSessions     int       `json:"concurrent_sessions"`
	MonthlyCost     float64   `json:"monthly_cost"`
	Features        []Feature `json:"features"`
}

// DefaultTiers returns the stock tier catalogue.
func DefaultTiers() map[Tier]TierPolicy {
	base := []Feature{FeatureBrowse, FeatureSearch}
	scholar := append(append([]Feature{}, base...), FeatureDownload, FeatureNotes, FeatureBookmarks)
	researcher := append(append([]Feature{}, scholar...), FeatureAdvancedSearch, FeatureExport, FeatureCitations)
	institution := append(append([]Feature{}, researcher...), FeatureBulkOperations, FeatureAdmin, FeatureAnalytics)

	return map[Tier]TierPolicy{
		TierGuest: {
			Name: TierGuest, DownloadsPerDay: 0, SearchResultCap: 10, MaxSessions: 1,
			Features: []Feature{FeatureBrowse, FeatureSearchLimited},
		},
		TierFree: {
			Name: TierFree, DownloadsPerDay: 3, SearchResultCap: 25, MaxSessions: 2,
			Features: append(append([]Feature{}, base...), FeatureDownloadLimited),
		},
		TierScholar: {
			Name: TierScholar, DownloadsPerDay: 10, SearchResultCap: 100, MaxSessions: 3,
			MonthlyCost: 9.99, Features: scholar,
		},
		TierResearcher: {
			Name: TierResearcher, DownloadsPerDay: 50, SearchResultCap: 500, MaxSessions: 5,
			MonthlyCost: 19.99, Features: researcher,
		},
		TierInstitution: {
			Name: TierInstitution, DownloadsPerDay: Unlimited, SearchResultCap: Unlimited, MaxSessions: 25,
			MonthlyCost: 99.00, Features: institution,
		},
	}
}

func cloneTiers(in map[Tier]TierPolicy) map[Tier]TierPolicy {
	if in == nil {
		return nil
	}
	out := make(map[Tier]TierPolicy, len(in))
	for k, v := range in {
		v.Features = append([]Feature(nil), v.Features...)
		out[k] = v
	}
	return out
}

func validateTiers(tiers map[Tier]TierPolicy) error {
	if len(tiers) == 0 {
		return errors.New("Tiers must not be empty")
	}
	for _, t := range Tiers {
		p, ok := tiers[t]
		if !ok {
			return fmt.Errorf("Tiers missing %q", t)
		}
		if p.MaxSessions < 0 {
			return fmt.Errorf("Tiers[%s].MaxSessions must be >= 0", t)
		}
		if p.DownloadsPerDay < Unlimited || p.SearchResultCap < Unlimited {
			return fmt.Errorf("Tiers[%s] limits must be >= -1", t)
		}
	}
	for t := range tiers {
		if _, ok := ParseTier(string(t)); !ok {
			return fmt.Errorf("Tiers has unknown tier %q", t)
		}
	}
	return nil
}

// tierCatalog is the compiled, immutable view of the configured tiers.
type tierCatalog struct {
	registry *permission.Registry
	set      *permission.TierSet
	policies map[Tier]TierPolicy
}

func newTierCatalog(policies map[Tier]TierPolicy) (*tierCatalog, error) {
	names := make([]string, len(Features))
	for i, f := range Features {
		names[i] = string(f)
	}
	reg, err := permission.NewFrozenRegistry(names...)
	if err != nil {
		return nil, err
	}
	set, err := permission.NewTierSet(reg)
	if err != nil {
		return nil, err
	}
	for tier, p := range policies {
		fs := make([]string, len(p.Features))
		for i, f := range p.Features {
			fs[i] = string(f)
		}
		if err := set.RegisterTier(string(tier), fs); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
	}
	set.Freeze()

	return &tierCatalog{registry: reg, set: set, policies: cloneTiers(policies)}, nil
}

func (c *tierCatalog) policy(t Tier) (TierPolicy, bool) {
	p, ok := c.policies[t]
	if !ok {
		return TierPolicy{}, false
	}
	p.Features = append([]Feature(nil), p.Features...)
	return p, true
}

func (c *tierCatalog) mask(t Tier) permission.Mask64 {
	m, _ := c.set.Mask(string(t))
	return m
}
