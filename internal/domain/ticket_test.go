package domain

import "testing"

func TestTicketStatusTerminal(t *testing.T) {
	terminal := []TicketStatus{TicketStatusClosed, TicketStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	open := []TicketStatus{TicketStatusOpen, TicketStatusInProgress, TicketStatusPending, TicketStatusResolved}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestTicketStatusValid(t *testing.T) {
	if TicketStatus("arquivado").Valid() {
		t.Fatalf("unknown status accepted")
	}
	if !TicketStatusPending.Valid() {
		t.Fatalf("pendente rejected")
	}
}

func TestCanMessage(t *testing.T) {
	ticket := Ticket{ServiceType: ServiceTypeChat, Status: TicketStatusOpen}
	if !ticket.CanMessage(ServiceTypeChat) {
		t.Fatalf("open chat ticket must accept chat messages")
	}
	if ticket.CanMessage(ServiceTypeEmail) {
		t.Fatalf("chat ticket accepted email channel")
	}
	ticket.Status = TicketStatusClosed
	if ticket.CanMessage(ServiceTypeChat) {
		t.Fatalf("terminal ticket accepted messages")
	}
}
