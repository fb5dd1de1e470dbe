package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the cross-field rules that struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	return c.validateTrends()
}

func (c *Config) validateTrends() error {
	t := c.Trends
	if t.RecentWindow >= t.Lookback {
		return fmt.Errorf("trends.recent_window (%s) must be shorter than trends.lookback (%s)", t.RecentWindow, t.Lookback)
	}
	if t.PeakGrowthMin > t.PeakGrowthMax {
		return fmt.Errorf("trends.peak_growth_min (%v) must not exceed trends.peak_growth_max (%v)", t.PeakGrowthMin, t.PeakGrowthMax)
	}
	return nil
}
