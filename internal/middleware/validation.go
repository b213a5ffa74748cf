package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// Field limits matching the projection schema.
const (
	MaxAddressLen = 64 // accounts.address VARCHAR(64)
	MaxPageSize   = 100
	DefaultPage   = 20
)

// addressRe matches account addresses: alphanumeric, dash, underscore.
var addressRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) <= MaxAddressLen && addressRe.MatchString(s)
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return model.ValidCategory(model.Category(fl.Field().String()))
	})
	return v
}

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateStruct runs the struct's validate tags and returns a message for
// the first failing field, or "" when the struct is valid.
func ValidateStruct(s any) string {
	err := validate.Struct(s)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return field + " must contain valid URLs"
	case "address":
		return field + " must be 1-64 characters of letters, digits, dash or underscore"
	case "category":
		return field + " must be one of: news, science, politics, health, technology"
	default:
		return field + " is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// ValidateAddress checks that an account address is well-formed.
func ValidateAddress(addr string) (string, string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "address is required"
	}
	if len(addr) > MaxAddressLen {
		return "", "address must be at most 64 characters"
	}
	if !addressRe.MatchString(addr) {
		return "", "address contains invalid characters"
	}
	return addr, ""
}

// ValidateID parses a positive numeric id path parameter.
func ValidateID(name, raw string) (uint64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, name + " is required"
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, name + " must be a positive integer"
	}
	return id, ""
}

// ValidateClaimFilter builds a listing filter from query values.
func ValidateClaimFilter(category, status, sort, limit, offset string) (model.ClaimFilter, string) {
	f := model.ClaimFilter{Sort: model.SortNewest, Limit: DefaultPage}

	if category != "" {
		if !model.ValidCategory(model.Category(category)) {
			return f, "category must be one of: news, science, politics, health, technology"
		}
		f.Category = model.Category(category)
	}
	if status != "" {
		st, ok := model.ParseStatus(strings.ToUpper(status))
		if !ok {
			return f, "status must be one of: PENDING, VALIDATING, VERIFIED, DISPUTED, DEBUNKED"
		}
		f.Status = st
	}
	switch sort {
	case "":
	case model.SortNewest, model.SortOldest, model.SortMostStake:
		f.Sort = sort
	default:
		return f, "sort must be one of: newest, oldest, most_stake"
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > MaxPageSize {
			return f, "limit must be between 1 and 100"
		}
		f.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return f, "offset must be a non-negative integer"
		}
		f.Offset = n
	}
	return f, ""
}
