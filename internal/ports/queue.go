package ports

import "github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"

type EventQueue interface {
	Enqueue(ev domain.Event) bool
	DequeueBatch(max int) []domain.Event
	Len() int
}
