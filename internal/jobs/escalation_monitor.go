package jobs

import (
	"log"
	"time"

	"github.com/vigilhq/vigil/internal/services"
)

// EscalationMonitor periodically sweeps due escalation timers. Deadlines are
// database rows, so a restarted process resumes exactly where the previous
// one stopped.
type EscalationMonitor struct {
	escalations *services.EscalationService
}

// NewEscalationMonitor creates a new escalation monitor
func NewEscalationMonitor(escalations *services.EscalationService) *EscalationMonitor {
	return &EscalationMonitor{escalations: escalations}
}

// Start begins the periodic sweep
func (m *EscalationMonitor) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.escalations.CheckEscalations()
		case <-stop:
			log.Println("Escalation monitor stopped")
			return
		}
	}
}
