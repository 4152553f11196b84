// Package pricing holds the VPS offering catalog and the resale markup policy.
package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Currency is the only currency orders are charged in.
const Currency = "USD"

// ErrUnknownPlan is returned for plan identifiers that are not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// Plan is a catalog entry with its provider base cost.
type Plan struct {
	Identifier string
	ProviderID string
	Label      string
	BaseCost   decimal.Decimal
}

// Offering is a plan with its computed customer price.
type Offering struct {
	ID             string  `json:"id"`
	PlanIdentifier string  `json:"planIdentifier"`
	Label          string  `json:"label"`
	Price          float64 `json:"price"`
}

// Catalog maps plan identifiers to plans and prices them with a Policy.
type Catalog struct {
	plans  map[string]Plan
	policy Policy
}

// NewCatalog builds a catalog from plans. Duplicate identifiers are rejected.
func NewCatalog(policy Policy, plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans)), policy: policy}
	for _, p := range plans {
		if _, dup := c.plans[p.Identifier]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.Identifier)
		}
		if !p.BaseCost.IsPositive() {
			return nil, fmt.Errorf("plan %q: base cost must be positive", p.Identifier)
		}
		c.plans[p.Identifier] = p
	}
	return c, nil
}

// DefaultCatalog returns the published Hostinger KVM line-up.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPolicy(),
		Plan{Identifier: "vps1", ProviderID: "hostingercom-vps-kvm1-usd-1m", Label: "KVM 1", BaseCost: decimal.RequireFromString("3.80")},
		Plan{Identifier: "vps2", ProviderID: "hostingercom-vps-kvm2-usd-1m", Label: "KVM 2", BaseCost: decimal.RequireFromString("7.61")},
		Plan{Identifier: "vps3", ProviderID: "hostingercom-vps-kvm4-usd-1m", Label: "KVM 4", BaseCost: decimal.RequireFromString("15.23")},
		Plan{Identifier: "vps4", ProviderID: "hostingercom-vps-kvm8-usd-1m", Label: "KVM 8", BaseCost: decimal.RequireFromString("30.47")},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the plan for identifier.
func (c *Catalog) Lookup(identifier string) (Plan, bool) {
	p, ok := c.plans[identifier]
	return p, ok
}

// Has reports whether identifier is a known plan.
func (c *Catalog) Has(identifier string) bool {
	_, ok := c.plans[identifier]
	return ok
}

// Price returns the amount charged for identifier, rounded to cents.
func (c *Catalog) Price(identifier string) (decimal.Decimal, error) {
	p, ok := c.plans[identifier]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownPlan, identifier)
	}
	return c.policy.Apply(p.BaseCost), nil
}

// Offerings lists every plan with its price, ordered by price then identifier.
func (c *Catalog) Offerings() []Offering {
	out := make([]Offering, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, Offering{
			ID:             p.ProviderID,
			PlanIdentifier: p.Identifier,
			Label:          p.Label,
			Price:          c.policy.Apply(p.BaseCost).InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].PlanIdentifier < out[j].PlanIdentifier
	})
	return out
}
