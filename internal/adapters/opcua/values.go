package opcua

import (
	"math"
	"strconv"
	"strings"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case int:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toStatus accepts either a status name or its ordinal in domain.AllStatuses.
// Numeric codes must be whole numbers.
func toStatus(v any) (domain.EquipmentStatus, bool) {
	if s, ok := v.(string); ok {
		if st, err := domain.ParseEquipmentStatus(s); err == nil {
			return st, true
		}
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "", false
	}
	st, err := domain.StatusFromCode(int64(f))
	return st, err == nil
}

// toAlarmCode returns "" when the node reports no active alarm.
func toAlarmCode(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "ACTIVE"
		}
		return ""
	}
	f, ok := toFloat(v)
	if !ok || f == 0 {
		return ""
	}
	return strconv.FormatInt(int64(f), 10)
}
