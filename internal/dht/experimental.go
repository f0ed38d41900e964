package dht

import (
	"log/slog"
	"net/netip"
	"time"
)

// ExperimentalManager is the observer-hook collaborator of spec.md §7:
// a place for measurement/instrumentation plugins to watch query
// traffic without the Controller depending on what they do with it.
// Non-goals explicitly exclude shipping a real measurement plugin — only
// the hook itself is in scope.
//
// Grounded on original_source/plugins/collect_tracker_info.py's
// ExperimentalManager (on_query_received/on_response_received/on_timeout/
// on_stop), with on_error_received added for symmetry with the
// Controller's own message handling.
type ExperimentalManager interface {
	OnQueryReceived(msg *Message) []PendingQuery
	OnResponseReceived(msg *Message, oq *OutstandingQuery) []PendingQuery
	OnErrorReceived(msg *Message, oq *OutstandingQuery) []PendingQuery
	OnTimeout(oq *OutstandingQuery) []PendingQuery
	OnStop()
}

// NopExperimentalManager satisfies ExperimentalManager without observing
// anything; it's what a Controller is constructed with when no
// measurement plugin is configured.
type NopExperimentalManager struct{}

func (NopExperimentalManager) OnQueryReceived(*Message) []PendingQuery { return nil }

func (NopExperimentalManager) OnResponseReceived(*Message, *OutstandingQuery) []PendingQuery {
	return nil
}

func (NopExperimentalManager) OnErrorReceived(*Message, *OutstandingQuery) []PendingQuery {
	return nil
}

func (NopExperimentalManager) OnTimeout(*OutstandingQuery) []PendingQuery { return nil }

func (NopExperimentalManager) OnStop() {}

// pingStatus mirrors the original plugin's STATUS_PINGED/OK/FAIL strings.
type pingStatus string

const (
	statusPinged pingStatus = "PINGED"
	statusOK     pingStatus = "OK"
	statusFail   pingStatus = "FAIL"
)

// StatsExperimentalManager is a minimal, logging-only implementation
// that tracks per-address outcome counts — the Go-idiom equivalent of
// the original plugin's pinged_ips dict plus num_ok/num_fail counters.
// It sends no queries of its own; every hook returns nil.
type StatsExperimentalManager struct {
	logger *slog.Logger

	status  map[netip.Addr]pingStatus
	numOK   int
	numFail int
}

func NewStatsExperimentalManager(logger *slog.Logger) *StatsExperimentalManager {
	return &StatsExperimentalManager{
		logger: logger,
		status: make(map[netip.Addr]pingStatus),
	}
}

func (m *StatsExperimentalManager) OnQueryReceived(msg *Message) []PendingQuery {
	if msg.Q == GetPeersMethod {
		m.logger.Debug("experimental: get_peers observed", "ts", time.Now().Unix())
	}
	return nil
}

func (m *StatsExperimentalManager) OnResponseReceived(msg *Message, oq *OutstandingQuery) []PendingQuery {
	m.status[oq.Dest.Addr.Addr()] = statusOK
	m.numOK++
	return nil
}

func (m *StatsExperimentalManager) OnErrorReceived(msg *Message, oq *OutstandingQuery) []PendingQuery {
	return nil
}

func (m *StatsExperimentalManager) OnTimeout(oq *OutstandingQuery) []PendingQuery {
	elapsed := time.Since(oq.SentTs)
	m.logger.Debug("experimental: query timed out", "dst", oq.Dest.Addr, "rtt", elapsed)
	m.status[oq.Dest.Addr.Addr()] = statusFail
	m.numFail++
	return nil
}

func (m *StatsExperimentalManager) OnStop() {
	m.logger.Info("experimental manager stopped", "ok", m.numOK, "fail", m.numFail)
}
