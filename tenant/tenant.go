// Package tenant provides the isolation unit of the exchange core: the
// tenant model, the per-invocation context carrier, a bounded tenant cache,
// and the tenant registry service.
//
// Every repository call in the framework is scoped to the tenant carried by
// the context. The carrier is an explicit context.Context value; spawned
// goroutines inherit the tenant only by passing the derived context on.
package tenant

import (
	"time"
)

// ConfigValue is one entry of the tenant configuration bag. Each value
// carries its own update timestamp.
type ConfigValue struct {
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Tenant is the top-level isolation unit. All other records reference it
// and are removed with it.
type Tenant struct {
	TenantID     string                 `json:"tenant_id"`
	CustomerName string                 `json:"customer_name"`
	IsActive     bool                   `json:"is_active"`
	Config       map[string]ConfigValue `json:"tenant_config,omitempty"`

	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	Country      string `json:"country,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigValueOr returns the configured value for key, or def when the key is
// absent.
func (t *Tenant) ConfigValueOr(key string, def interface{}) interface{} {
	if t.Config == nil {
		return def
	}
	if cv, ok := t.Config[key]; ok {
		return cv.Value
	}
	return def
}

// SetConfigValue stamps the value with the current time and stores it under
// key.
func (t *Tenant) SetConfigValue(key string, value interface{}) {
	if t.Config == nil {
		t.Config = make(map[string]ConfigValue)
	}
	t.Config[key] = ConfigValue{Value: value, UpdatedAt: time.Now().UTC()}
}

// Clone returns a copy with an independent config map.
func (t *Tenant) Clone() *Tenant {
	c := *t
	if t.Config != nil {
		c.Config = make(map[string]ConfigValue, len(t.Config))
		for k, v := range t.Config {
			c.Config[k] = v
		}
	}
	return &c
}
