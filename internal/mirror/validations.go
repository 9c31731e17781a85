package mirror

// Custom validations for mutation payloads and push events

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/limbo/cadence/internal/errvalues"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/pkg/entity"
)

var (
	validate *validator.Validate
	once     sync.Once
)

func initValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("habitcolor", func(fl validator.FieldLevel) bool {
			return entity.Color(fl.Field().String()).Valid()
		})
		validate.RegisterValidation("habitcategory", func(fl validator.FieldLevel) bool {
			return entity.Category(fl.Field().String()).Valid()
		})
	})
	return validate
}

// validateEvent guards the push boundary: payloads arrive from the wire
// untyped and are checked before touching mirror state.
func validateEvent(event remote.Event) error {
	if err := initValidator().Struct(event); err != nil {
		return fmt.Errorf("%w: %s", errvalues.ErrMalformedEvent, err)
	}
	return nil
}
