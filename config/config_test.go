package config

import "testing"

func TestDefaultSettingsValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("DefaultSettings() should validate, got: %v", err)
	}
}

func TestValidateCatchesInvariantViolations(t *testing.T) {
	base := DefaultSettings()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"address too low", func(s *Settings) { s.TWIAddr = 7 }},
		{"address too high", func(s *Settings) { s.TWIAddr = 36 }},
		{"page size zero", func(s *Settings) { s.PageSize = 0 }},
		{"page size too large", func(s *Settings) { s.PageSize = 128 }},
		{"page size not power of two", func(s *Settings) { s.PageSize = 48 }},
		{"start not page aligned", func(s *Settings) { s.TimonelStart = 0x1A01 }},
		{"master packet too large", func(s *Settings) { s.MasterPacketSize = 9 }},
		{"slave packet too large", func(s *Settings) { s.SlavePacketSize = 9 }},
		{"no page addressing scheme", func(s *Settings) {
			s.AutoPageAddr = false
			s.CmdSetPageAddr = false
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := base
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Errorf("Validate() accepted invalid settings for case %q", tc.name)
			}
		})
	}
}
