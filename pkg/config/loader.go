package config

import (
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

// Load parses environment variables into the provided struct using `env`
// tags. Besides the built-in kinds it understands decimal.Decimal fields:
//
//	type Config struct {
//	    Port          int             `env:"HTTP_PORT" envDefault:"8080"`
//	    MaxDiscount   decimal.Decimal `env:"PRICING_MAX_DISCOUNT" envDefault:"90"`
//	}
func Load(cfg any) error {
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): func(v string) (any, error) {
				return decimal.NewFromString(v)
			},
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
