package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidSignal = errors.New("invalid signal")

// ParseTargets validates a target-channel payload: a JSON array of descriptors,
// each with a hostname. Repeated hostnames keep their first descriptor.
func ParseTargets(payload string) ([]TargetDescriptor, error) {
	var raw []TargetDescriptor
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &raw); err != nil {
		return nil, fmt.Errorf("targets must be a JSON array of descriptors: %v: %w", err, ErrInvalidSignal)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]TargetDescriptor, 0, len(raw))
	for i, t := range raw {
		t.Hostname = strings.TrimSpace(t.Hostname)
		if t.Hostname == "" {
			return nil, fmt.Errorf("target %d has no hostname: %w", i, ErrInvalidSignal)
		}
		if seen[t.Hostname] {
			continue
		}
		seen[t.Hostname] = true
		out = append(out, t)
	}
	return out, nil
}

// ParseReservation validates a home-reservation payload in GB. Zero disables
// the reservation.
func ParseReservation(payload string) (float64, error) {
	gb, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, fmt.Errorf("reservation %q is not a number: %w", payload, ErrInvalidSignal)
	}
	if gb < 0 || math.IsNaN(gb) || math.IsInf(gb, 0) {
		return 0, fmt.Errorf("reservation %q must be a finite, non-negative GB amount: %w", payload, ErrInvalidSignal)
	}
	return gb, nil
}
