package models

import (
	"strings"
	"time"

	"github.com/crestfin/ledgercore/internal/common"
)

// SubscriptionTier is the hosted plan a tenant subscribes to.
type SubscriptionTier string

const (
	TierStarter    SubscriptionTier = "starter"
	TierStandard   SubscriptionTier = "standard"
	TierEnterprise SubscriptionTier = "enterprise"
)

// ParseSubscriptionTier rejects unknown tiers.
func ParseSubscriptionTier(s string) (SubscriptionTier, error) {
	switch SubscriptionTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierStarter:
		return TierStarter, nil
	case TierStandard:
		return TierStandard, nil
	case TierEnterprise:
		return TierEnterprise, nil
	}
	return "", common.E(common.KindValidation, "unknown subscription tier: %q", s)
}

// TenantQuotas bounds per-tenant resource usage.
type TenantQuotas struct {
	MaxUsers    int `json:"max_users"`
	MaxAccounts int `json:"max_accounts"`
}

// TenantBranding carries white-label display fields.
type TenantBranding struct {
	DisplayName  string `json:"display_name,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`
	PrimaryColor string `json:"primary_color,omitempty"`
}

// Tenant is one hosted institution. The registry lives in raw storage so
// tenants are resolvable before any tenant scope exists.
type Tenant struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Code        string           `json:"code"`
	DisplayName string           `json:"display_name"`
	IsActive    bool             `json:"is_active"`
	Tier        SubscriptionTier `json:"tier"`
	Quotas      TenantQuotas     `json:"quotas"`
	Branding    TenantBranding   `json:"branding"`
}

// Validate enforces registry invariants at construction.
func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.Code) == "" {
		return common.E(common.KindValidation, "tenant requires a code")
	}
	if strings.TrimSpace(t.DisplayName) == "" {
		return common.E(common.KindValidation, "tenant requires a display name")
	}
	if _, err := ParseSubscriptionTier(string(t.Tier)); err != nil {
		return err
	}
	if t.Quotas.MaxUsers < 0 || t.Quotas.MaxAccounts < 0 {
		return common.E(common.KindValidation, "tenant quotas must not be negative")
	}
	return nil
}
