package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditPolicy controls how the ledger processor allocates usage credits
// against usage charges.
type CreditPolicy struct {
	// MaxApplicationsPerEvent caps how many distinct credits a single usage
	// event may consume. Zero means unlimited.
	MaxApplicationsPerEvent int `mapstructure:"maxApplicationsPerEvent"`
	// MinApplicationAmount skips allocations below this many cents.
	MinApplicationAmount int64 `mapstructure:"minApplicationAmount"`
}

func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		MaxApplicationsPerEvent: 0,
		MinApplicationAmount:    1,
	}
}

// CreditPolicyHolder serves the current policy and hot-reloads it on change.
type CreditPolicyHolder struct {
	current atomic.Value // holds CreditPolicy
}

// NewStaticCreditPolicyHolder pins a fixed policy with no file watching.
func NewStaticCreditPolicyHolder(policy CreditPolicy) *CreditPolicyHolder {
	holder := &CreditPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewCreditPolicyHolder() (*CreditPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("credit_policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/flowline/config")
	v.AddConfigPath("/etc/flowline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLOWLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultCreditPolicy()
		v.SetDefault("credit.maxApplicationsPerEvent", defaults.MaxApplicationsPerEvent)
		v.SetDefault("credit.minApplicationAmount", defaults.MinApplicationAmount)
	}

	var policy CreditPolicy
	if err := v.UnmarshalKey("credit", &policy); err != nil {
		return nil, err
	}
	if err := validateCreditPolicy(policy); err != nil {
		return nil, err
	}

	holder := &CreditPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditPolicy
		if err := v.UnmarshalKey("credit", &updated); err != nil {
			log.Printf("[credit-policy] reload failed: %v", err)
			return
		}
		if err := validateCreditPolicy(updated); err != nil {
			log.Printf("[credit-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[credit-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CreditPolicyHolder) Get() CreditPolicy {
	return h.current.Load().(CreditPolicy)
}

func validateCreditPolicy(policy CreditPolicy) error {
	if policy.MaxApplicationsPerEvent < 0 {
		return errors.New("credit.maxApplicationsPerEvent cannot be negative")
	}
	if policy.MinApplicationAmount < 1 {
		return errors.New("credit.minApplicationAmount must be at least 1")
	}
	return nil
}
