package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Screen and advertiser ids are UUIDs in practice; imported fleets sometimes
// carry their own short ids.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)

func init() {
	validate.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
		return idRegex.MatchString(fl.Field().String())
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// DecodeOptional is Decode for endpoints whose body may be omitted. An empty
// body leaves v at its zero value, which is still validated.
func DecodeOptional(r *http.Request, v any) error {
	if r.Body != nil {
		err := json.NewDecoder(r.Body).Decode(v)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing required ID")
	}
	if !idRegex.MatchString(s) {
		return "", fmt.Errorf("invalid ID %q", s)
	}
	return s, nil
}
