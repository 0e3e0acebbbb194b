/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics records pipeline outcomes for prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vc_anchor"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomePending = "pending"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	stageOutcomes    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	proofOutcomes    *prometheus.CounterVec
	pendingTx        *prometheus.GaugeVec
	verifierFindings *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		stageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_total",
			Help:      "Pipeline stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		proofOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_proof_total",
			Help:      "Wallet ownership proofs by chain and outcome.",
		}, []string{"chain", "outcome"}),
		pendingTx: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transactions",
			Help:      "Submitted transactions awaiting reconciliation.",
		}, []string{"purpose"}),
		verifierFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifier_findings_total",
			Help:      "Verifier check results by severity.",
		}, []string{"check", "severity", "passed"}),
	}
}

// StageCompleted records one stage execution.
func (m *Metrics) StageCompleted(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}

	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ProofOutcome records the result of collecting one chain's wallet proof.
func (m *Metrics) ProofOutcome(chain, outcome string) {
	if m == nil {
		return
	}

	m.proofOutcomes.WithLabelValues(chain, outcome).Inc()
}

// PendingTxAdded tracks a transaction left unconfirmed.
func (m *Metrics) PendingTxAdded(purpose string) {
	if m == nil {
		return
	}

	m.pendingTx.WithLabelValues(purpose).Inc()
}

// PendingTxResolved tracks a pending transaction settled by reconciliation.
func (m *Metrics) PendingTxResolved(purpose string) {
	if m == nil {
		return
	}

	m.pendingTx.WithLabelValues(purpose).Dec()
}

// VerifierFinding records one verifier check.
func (m *Metrics) VerifierFinding(check, severity string, passed bool) {
	if m == nil {
		return
	}

	p := "false"
	if passed {
		p = "true"
	}

	m.verifierFindings.WithLabelValues(check, severity, p).Inc()
}
