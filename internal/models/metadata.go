package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeMetadata converts an arbitrary metadata map into the canonical
// value tree used for audit hashing: decimals and monetary amounts become
// canonical strings, timestamps become RFC 3339 UTC, enums become their
// string values. Nested maps and lists are walked recursively.
func NormalizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case bool:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case float32:
		return decimal.NewFromFloat32(val).String()
	case float64:
		return decimal.NewFromFloat(val).String()
	case decimal.Decimal:
		return val.String()
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return val.String()
	case Money:
		return map[string]any{
			"amount":   val.Amount().String(),
			"currency": string(val.Currency()),
		}
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case Currency:
		return string(val)
	case EventType:
		return string(val)
	case EntryState:
		return string(val)
	case AccountType:
		return string(val)
	case SubscriptionTier:
		return string(val)
	case map[string]any:
		return NormalizeMetadata(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
