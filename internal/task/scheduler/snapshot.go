package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Timezone:      s.loc.String(),
		Running:       s.running,
		Registrations: s.registrationsLocked(),
	}
	eng := s.eng
	s.mu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

// Registrations returns the live registrations with their next fire times.
func (s *Service) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrationsLocked()
}
