// Package lifecycle описывает граф состояний инцидента и то, кто может
// инициировать каждый переход.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shenikar/crowd_report_trust/internal/models"
)

// Trigger - источник перехода
type Trigger string

const (
	TriggerCorroboration Trigger = "corroboration"
	TriggerSweep         Trigger = "sweep"
	TriggerAdmin         Trigger = "admin"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidActor      = errors.New("administrative transition requires an operator id")
)

// TransitionError описывает отклоненный переход
type TransitionError struct {
	From    models.Status
	To      models.Status
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s by %s", e.From, e.To, e.Trigger)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type edge struct {
	from, to models.Status
}

var allowed = map[edge][]Trigger{
	{models.StatusUnverified, models.StatusVerified}: {TriggerCorroboration, TriggerAdmin},
	{models.StatusVerified, models.StatusResolved}:   {TriggerSweep, TriggerAdmin},
	// пропуск Verified допустим только вручную
	{models.StatusUnverified, models.StatusResolved}: {TriggerAdmin},
}

// Transition проверяет, что переход from -> to допустим для trigger
func Transition(from, to models.Status, trigger Trigger) error {
	for _, t := range allowed[edge{from, to}] {
		if t == trigger {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Trigger: trigger}
}

// ValidateActor проверяет исполнителя для trigger.
// Автоматические переходы выполняет SYSTEM, ручные - оператор с непустым id.
func ValidateActor(trigger Trigger, performedBy string) error {
	performedBy = strings.TrimSpace(performedBy)
	if trigger == TriggerAdmin {
		if performedBy == "" || performedBy == models.SystemActor {
			return ErrInvalidActor
		}
		return nil
	}
	if performedBy != models.SystemActor {
		return fmt.Errorf("automatic %s transition must be performed by %s", trigger, models.SystemActor)
	}
	return nil
}

// Terminal сообщает, что из статуса нет переходов
func Terminal(s models.Status) bool {
	return s == models.StatusResolved
}
