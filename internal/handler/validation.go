package handler

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/quocanhngo/botdesk/internal/model"
)

// RegisterValidators installs the otpcode and otppurpose tags on gin's binding engine.
// Codes must be exactly digits long and contain only 0-9.
func RegisterValidators(digits int) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}

	if err := v.RegisterValidation("otpcode", otpCodeValidator(digits)); err != nil {
		return fmt.Errorf("register otpcode: %w", err)
	}
	if err := v.RegisterValidation("otppurpose", validatePurpose); err != nil {
		return fmt.Errorf("register otppurpose: %w", err)
	}
	return nil
}

func otpCodeValidator(digits int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if len(code) != digits {
			return false
		}
		for i := 0; i < len(code); i++ {
			if code[i] < '0' || code[i] > '9' {
				return false
			}
		}
		return true
	}
}

func validatePurpose(fl validator.FieldLevel) bool {
	return model.OTPPurpose(fl.Field().String()).Valid()
}
