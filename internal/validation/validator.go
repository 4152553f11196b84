package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// PlanLookup reports whether a plan identifier exists. *pricing.Catalog implements it.
type PlanLookup interface {
	Has(identifier string) bool
}

// OS image identifiers look like "debian12", "ubuntu-24.04" or "almalinux_9".
var osImagePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// New returns a configured validator with custom struct-level validation registered.
func New(plans PlanLookup) *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their wire names (json, then form)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.RegisterValidation("osimage", func(fl validatorv10.FieldLevel) bool {
		return osImagePattern.MatchString(fl.Field().String())
	})

	// register struct-level validation for SubmitOrderRequest to ensure
	// the requested plan is in the catalog.
	v.RegisterStructValidation(submitOrderStructValidation(plans), SubmitOrderRequest{})

	return v
}

func submitOrderStructValidation(plans PlanLookup) validatorv10.StructLevelFunc {
	return func(sl validatorv10.StructLevel) {
		req := sl.Current().Interface().(SubmitOrderRequest)
		if req.PlanIdentifier == "" {
			return // reported by the required tag
		}
		if !plans.Has(req.PlanIdentifier) {
			sl.ReportError(req.PlanIdentifier, "planIdentifier", "PlanIdentifier", "known_plan", "")
		}
	}
}
