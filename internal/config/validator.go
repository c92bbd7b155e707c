package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/kittclouds/storykeep/internal/store"
)

func newValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, nil, fmt.Errorf("failed to register default translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation("driver", isRegisteredDriver); err != nil {
		return nil, nil, fmt.Errorf("failed to register driver validation: %w", err)
	}
	if err := validate.RegisterTranslation("driver", trans, func(ut ut.Translator) error {
		return ut.Add("driver", "{0} must be one of the compiled-in SQLite drivers ({1})", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("driver", strings.TrimPrefix(fe.Namespace(), "Config."), strings.Join(store.Drivers(), ", "))
		return t
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to register driver translation: %w", err)
	}

	return validate, trans, nil
}

// isRegisteredDriver reports whether the configured driver is built in.
// modernc is absent from js/wasm builds.
func isRegisteredDriver(fl validator.FieldLevel) bool {
	return store.DriverSupported(fl.Field().String())
}
