package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BonusConfigHolder exposes the current payout rates. The backing file is
// watched so payroll can tune rates without a redeploy; readers always get a
// consistent snapshot.
type BonusConfigHolder struct {
	current atomic.Value // holds calltype.Rates
}

func NewBonusConfigHolder() (*BonusConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("bonus")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/callbonus/config")
	v.AddConfigPath("/etc/callbonus")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CALLBONUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := calltype.DefaultRates()
	v.SetDefault("bonus.base", defaults.Base)
	v.SetDefault("bonus.hourlyRate", defaults.HourlyRate)
	v.SetDefault("bonus.hourlyThresholdSeconds", defaults.HourlyThresholdSeconds)
	v.SetDefault("bonus.minDurationSeconds", defaults.MinDurationSeconds)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var rates calltype.Rates
	if err := v.UnmarshalKey("bonus", &rates); err != nil {
		return nil, err
	}
	if err := validateRates(rates); err != nil {
		return nil, err
	}

	holder := &BonusConfigHolder{}
	holder.current.Store(rates)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated calltype.Rates
		if err := v.UnmarshalKey("bonus", &updated); err != nil {
			log.Printf("[bonus-config] reload failed: %v", err)
			return
		}
		if err := validateRates(updated); err != nil {
			log.Printf("[bonus-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[bonus-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBonusConfigHolder pins the holder to fixed rates. Batch binaries
// and tests use this; nothing watches a file.
func NewStaticBonusConfigHolder(rates calltype.Rates) *BonusConfigHolder {
	holder := &BonusConfigHolder{}
	holder.current.Store(rates)
	return holder
}

func (h *BonusConfigHolder) Get() calltype.Rates {
	return h.current.Load().(calltype.Rates)
}

func validateRates(r calltype.Rates) error {
	if r.MinDurationSeconds <= 0 {
		return errors.New("bonus.minDurationSeconds must be positive")
	}
	if r.HourlyThresholdSeconds <= 0 {
		return errors.New("bonus.hourlyThresholdSeconds must be positive")
	}
	if r.HourlyRate < 0 {
		return errors.New("bonus.hourlyRate cannot be negative")
	}
	for ct, base := range r.Base {
		if !ct.Valid() {
			return errors.New("bonus.base has unknown call type " + string(ct))
		}
		if base < 0 {
			return errors.New("bonus.base cannot be negative for " + string(ct))
		}
	}
	return nil
}
