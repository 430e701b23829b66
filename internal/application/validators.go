package application

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-assay/internal/domain"
)

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	if err := registerCustomValidators(v); err != nil {
		panic(fmt.Sprintf("register validators: %v", err))
	}
	return v
}

// registerCustomValidators registers the domain validators used by Config
// tags.
func registerCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("sourcekind", validateSourceKind); err != nil {
		return fmt.Errorf("failed to register sourcekind validator: %w", err)
	}
	if err := v.RegisterValidation("weightsnonzero", validateWeightsNonZero); err != nil {
		return fmt.Errorf("failed to register weightsnonzero validator: %w", err)
	}
	return nil
}

// validateSourceKind accepts the wire name of a known source kind. It is
// used on weight map keys.
func validateSourceKind(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return domain.SourceKind(fl.Field().String()).Valid()
}

// validateWeightsNonZero requires at least one positive weight so a skill
// can be fused whenever its sources report.
func validateWeightsNonZero(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Map {
		return false
	}
	iter := field.MapRange()
	for iter.Next() {
		if v := iter.Value(); v.CanFloat() && v.Float() > 0 {
			return true
		}
	}
	return false
}
