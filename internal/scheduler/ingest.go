package scheduler

import (
	"c2c/internal/logging"
	"c2c/internal/ports"
	"c2c/internal/state"

	"github.com/sirupsen/logrus"
)

// ingest applies whatever the goal, target and reservation ports currently
// hold. Malformed payloads are logged and leave the state untouched.
func (e *Engine) ingest() {
	if payload, ok := e.peek(e.cfg.Ports.Goal, "goal"); ok {
		goal, err := state.ParseGoal(payload)
		switch {
		case err != nil:
			e.discard("goal", payload, err)
		case e.state.SetGoal(goal):
			// Nodes found useless under one goal may fit another.
			e.useless = make(map[string]bool)
			logging.Notify(e.schedulerLogger.WithField("goal", goal.String()), "success").Info("Goal changed")
		}
	}

	if payload, ok := e.peek(e.cfg.Ports.Targets, "targets"); ok {
		targets, err := state.ParseTargets(payload)
		switch {
		case err != nil:
			e.discard("targets", payload, err)
		case e.state.SetTargets(targets):
			logging.Notify(e.schedulerLogger.WithField("targets", e.state.TargetNames()), "success").Info("Targets changed")
		}
	}

	if payload, ok := e.peek(e.cfg.Ports.HomeReserve, "home_reserve"); ok {
		gb, err := state.ParseReservation(payload)
		switch {
		case err != nil:
			e.discard("home_reserve", payload, err)
		case e.state.SetHomeReservation(gb):
			logging.Notify(e.schedulerLogger.WithField("reserved_gb", gb), "info").Info("Home reservation changed")
		}
	}
}

func (e *Engine) peek(port int, channel string) (string, bool) {
	payload, err := e.mailbox.Peek(port)
	if err != nil {
		e.schedulerLogger.WithFields(logrus.Fields{
			"channel": channel,
			"port":    port,
		}).WithError(err).Warn("Failed to read port")
		return "", false
	}
	if ports.IsEmpty(payload) {
		return "", false
	}
	return payload, true
}

func (e *Engine) discard(channel, payload string, err error) {
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	logging.Notify(e.schedulerLogger.WithFields(logrus.Fields{
		"channel": channel,
		"payload": payload,
	}).WithError(err), "error").Warn("Discarding malformed signal")
}
