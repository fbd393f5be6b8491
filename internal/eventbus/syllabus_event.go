package eventbus

import "github.com/weibaohui/pleroma/backend/internal/model"

type SyllabusEventType string

const (
	SyllabusEventCreated       SyllabusEventType = "Created"
	SyllabusEventStatusChanged SyllabusEventType = "StatusChanged"
)

type SyllabusEvent struct {
	Type       SyllabusEventType
	SyllabusID uint
	Slug       string
	Level      string
	From       model.SyllabusStatus
	To         model.SyllabusStatus
}

type SyllabusEventHandler = Handler[SyllabusEvent]
type SyllabusEventBus = Bus[SyllabusEventType, SyllabusEvent]

func NewSyllabusEventBus() *SyllabusEventBus {
	return NewBus[SyllabusEventType, SyllabusEvent]()
}
