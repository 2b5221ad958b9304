package report

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/l0p7/dashfeed/internal/expr"
)

// Type identifies a report category served by the upstream aggregation API.
type Type string

const (
	Sales              Type = "sales"
	AppAdoption        Type = "app-adoption"
	PaymentStatus      Type = "payment-status"
	Recurrence         Type = "recurrence"
	RecurrenceBySeller Type = "recurrence-by-seller"
	Reactivation       Type = "reactivation"
	Summary            Type = "summary"
)

func (t Type) String() string { return string(t) }

// Spec is the uncompiled description of a report, as it appears in
// configuration.
type Spec struct {
	ID              Type
	Title           string
	PeriodSensitive bool
	// Require is an optional CEL guard evaluated against the payload.
	Require    string
	Components []Type
	Primary    Type
}

// Definition is a compiled catalogue entry.
type Definition struct {
	ID              Type
	Title           string
	PeriodSensitive bool
	Components      []Type
	Primary         Type
	Guard           expr.Program
}

// IsComposite reports whether the report is assembled from other reports.
func (d Definition) IsComposite() bool { return len(d.Components) > 0 }

// DefaultSpecs lists the built-in catalogue.
func DefaultSpecs() []Spec {
	shape := "has(data.geral) && has(data.consultores)"
	return []Spec{
		{ID: Sales, Title: "Sales", PeriodSensitive: true},
		{ID: AppAdoption, Title: "App adoption", PeriodSensitive: true},
		{ID: PaymentStatus, Title: "Payment status", PeriodSensitive: true},
		{ID: Recurrence, Title: "Recurrence"},
		{ID: RecurrenceBySeller, Title: "Recurrence by seller", Require: shape},
		{ID: Reactivation, Title: "Reactivation", PeriodSensitive: true, Require: shape},
		{
			ID:              Summary,
			Title:           "Summary",
			PeriodSensitive: true,
			Components:      []Type{Sales, AppAdoption, PaymentStatus},
			Primary:         Sales,
		},
	}
}

// Catalogue is an immutable set of report definitions.
type Catalogue struct {
	defs  map[Type]Definition
	order []Type
}

// NewCatalogue compiles the supplied specs. Later specs with the same ID
// replace earlier ones so configuration overrides can be appended to
// DefaultSpecs.
func NewCatalogue(env *expr.Environment, specs ...Spec) (*Catalogue, error) {
	if env == nil {
		return nil, errors.New("report: expression environment required")
	}
	c := &Catalogue{defs: make(map[Type]Definition, len(specs))}
	for _, spec := range specs {
		id := Type(strings.TrimSpace(string(spec.ID)))
		if id == "" {
			return nil, errors.New("report: definition id required")
		}
		if strings.Contains(string(id), keySeparator) {
			return nil, fmt.Errorf("report: id %q must not contain %q", id, keySeparator)
		}
		def := Definition{
			ID:              id,
			Title:           strings.TrimSpace(spec.Title),
			PeriodSensitive: spec.PeriodSensitive,
			Components:      slices.Clone(spec.Components),
			Primary:         spec.Primary,
		}
		if def.Title == "" {
			def.Title = string(id)
		}
		if guard := strings.TrimSpace(spec.Require); guard != "" {
			program, err := env.Compile(guard)
			if err != nil {
				return nil, fmt.Errorf("report: %s guard: %w", id, err)
			}
			def.Guard = program
		}
		if _, exists := c.defs[id]; !exists {
			c.order = append(c.order, id)
		}
		c.defs[id] = def
	}
	for _, id := range c.order {
		if err := c.validateComposite(c.defs[id]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalogue) validateComposite(def Definition) error {
	if !def.IsComposite() {
		if def.Primary != "" {
			return fmt.Errorf("report: %s declares a primary without components", def.ID)
		}
		return nil
	}
	seen := make(map[Type]struct{}, len(def.Components))
	for _, component := range def.Components {
		target, ok := c.defs[component]
		if !ok {
			return fmt.Errorf("report: %s component %q not defined", def.ID, component)
		}
		if target.IsComposite() {
			return fmt.Errorf("report: %s component %q is itself composite", def.ID, component)
		}
		if _, dup := seen[component]; dup {
			return fmt.Errorf("report: %s lists component %q twice", def.ID, component)
		}
		seen[component] = struct{}{}
	}
	if _, ok := seen[def.Primary]; !ok {
		return fmt.Errorf("report: %s primary %q must be one of its components", def.ID, def.Primary)
	}
	return nil
}

// Lookup returns the definition for id.
func (c *Catalogue) Lookup(id Type) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	def, ok := c.defs[id]
	return def, ok
}

// Types returns the catalogue identifiers in declaration order.
func (c *Catalogue) Types() []Type {
	if c == nil {
		return nil
	}
	return slices.Clone(c.order)
}
