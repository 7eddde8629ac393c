package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
)

// BindForm binds the multipart form of c into out and validates it. Any
// failure is returned as an apperr validation error naming the fields.
func BindForm(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindWith(out, binding.FormMultipart); err != nil {
		return apperr.Validationf("invalid form: %v", err)
	}
	if err := v.Struct(out); err != nil {
		return apperr.Validation(Message(err))
	}
	return nil
}

// Message renders a validator error as a single client-facing sentence.
func Message(err error) string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var missing, invalid []string
	for _, fe := range ve {
		switch fe.Tag() {
		case "required", "notblank":
			missing = append(missing, fe.Field())
		default:
			invalid = append(invalid, describe(fe))
		}
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, strings.Join(invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

func describe(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
