package domain

import (
	"fmt"
	"strings"
)

// EquipmentStatus is the operating state of a single machine.
type EquipmentStatus string

const (
	StatusOffline     EquipmentStatus = "Offline"
	StatusIdle        EquipmentStatus = "Idle"
	StatusRunning     EquipmentStatus = "Running"
	StatusWarning     EquipmentStatus = "Warning"
	StatusError       EquipmentStatus = "Error"
	StatusMaintenance EquipmentStatus = "Maintenance"
	StatusSetup       EquipmentStatus = "Setup"
)

// AllStatuses is the fixed iteration order used wherever a deterministic walk
// over statuses is required.
var AllStatuses = []EquipmentStatus{
	StatusOffline,
	StatusIdle,
	StatusRunning,
	StatusWarning,
	StatusError,
	StatusMaintenance,
	StatusSetup,
}

func (s EquipmentStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s EquipmentStatus) String() string { return string(s) }

// ParseEquipmentStatus accepts any casing of a status name.
func ParseEquipmentStatus(raw string) (EquipmentStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, known := range AllStatuses {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown equipment status %q", raw)
}

// StatusFromCode maps the integer encoding commonly exposed by PLC tags
// (index into AllStatuses) back to a status.
func StatusFromCode(code int64) (EquipmentStatus, error) {
	if code < 0 || code >= int64(len(AllStatuses)) {
		return "", fmt.Errorf("equipment status code %d out of range", code)
	}
	return AllStatuses[code], nil
}

// AlarmSeverity grades an alarm for downstream routing.
type AlarmSeverity string

const (
	SeverityInfo     AlarmSeverity = "Info"
	SeverityWarning  AlarmSeverity = "Warning"
	SeverityCritical AlarmSeverity = "Critical"
)

func ParseAlarmSeverity(raw string) (AlarmSeverity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "warning", "warn":
		return SeverityWarning, nil
	case "info":
		return SeverityInfo, nil
	case "critical", "error", "fatal":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("unknown alarm severity %q", raw)
	}
}
