package domain

import "time"

// EventKind names the members of the telemetry event union.
type EventKind string

const (
	KindSensorReading    EventKind = "sensor_reading"
	KindStatusChange     EventKind = "status_change"
	KindAlarmRaised      EventKind = "alarm_raised"
	KindProductionReport EventKind = "production_report"
	KindConnectionStatus EventKind = "connection_status"
)

// Event is implemented only by the value types in this file.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
	sealed()
}

// SensorReading is one sampled sensor value.
type SensorReading struct {
	EquipmentID string    `json:"equipment_id"`
	TagName     string    `json:"tag_name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	Timestamp   time.Time `json:"timestamp"`
	IsAnomaly   bool      `json:"is_anomaly"`
}

// StatusChange is emitted only when the status actually differs.
type StatusChange struct {
	EquipmentID    string          `json:"equipment_id"`
	PreviousStatus EquipmentStatus `json:"previous_status"`
	NewStatus      EquipmentStatus `json:"new_status"`
	Timestamp      time.Time       `json:"timestamp"`
}

type AlarmRaised struct {
	ID          string        `json:"id"`
	EquipmentID string        `json:"equipment_id"`
	Code        string        `json:"code"`
	Severity    AlarmSeverity `json:"severity"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
}

type ProductionReport struct {
	EquipmentID   string    `json:"equipment_id"`
	UnitsProduced int       `json:"units_produced"`
	DefectCount   int       `json:"defect_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConnectionMode tells consumers where the data currently comes from.
type ConnectionMode string

const (
	ModeLive         ConnectionMode = "Live"
	ModeSimulated    ConnectionMode = "Simulated"
	ModeStopped      ConnectionMode = "Stopped"
	ModeDisconnected ConnectionMode = "Disconnected"
)

// ConnectionStatus is replaced wholesale on every transition. Message is
// meant for operators and never carries raw error text.
type ConnectionStatus struct {
	IsConnected bool           `json:"is_connected"`
	Mode        ConnectionMode `json:"mode"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
}

func NewConnectionStatus(connected bool, mode ConnectionMode, msg string, ts time.Time) ConnectionStatus {
	return ConnectionStatus{IsConnected: connected, Mode: mode, Message: msg, Timestamp: ts}
}

func (SensorReading) Kind() EventKind    { return KindSensorReading }
func (StatusChange) Kind() EventKind     { return KindStatusChange }
func (AlarmRaised) Kind() EventKind      { return KindAlarmRaised }
func (ProductionReport) Kind() EventKind { return KindProductionReport }
func (ConnectionStatus) Kind() EventKind { return KindConnectionStatus }

func (e SensorReading) OccurredAt() time.Time    { return e.Timestamp }
func (e StatusChange) OccurredAt() time.Time     { return e.Timestamp }
func (e AlarmRaised) OccurredAt() time.Time      { return e.Timestamp }
func (e ProductionReport) OccurredAt() time.Time { return e.Timestamp }
func (e ConnectionStatus) OccurredAt() time.Time { return e.Timestamp }

func (SensorReading) sealed()    {}
func (StatusChange) sealed()     {}
func (AlarmRaised) sealed()      {}
func (ProductionReport) sealed() {}
func (ConnectionStatus) sealed() {}

// EquipmentOf returns the equipment an event belongs to, or "" for
// connection-level events.
func EquipmentOf(ev Event) string {
	switch e := ev.(type) {
	case SensorReading:
		return e.EquipmentID
	case StatusChange:
		return e.EquipmentID
	case AlarmRaised:
		return e.EquipmentID
	case ProductionReport:
		return e.EquipmentID
	default:
		return ""
	}
}
