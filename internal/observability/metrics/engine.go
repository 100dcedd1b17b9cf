package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type engineMetrics struct {
	mu         sync.Mutex
	proposals  uint64
	denials    map[string]uint64
	executions uint64
	rejections map[string]uint64
}

var engineCollector = &engineMetrics{
	denials:    make(map[string]uint64),
	rejections: make(map[string]uint64),
}

// ObserveProposal counts a proposal that passed policy evaluation.
func ObserveProposal() {
	engineCollector.mu.Lock()
	engineCollector.proposals++
	engineCollector.mu.Unlock()
}

// ObservePolicyDenial counts a proposal denied by the named rule.
func ObservePolicyDenial(rule string) {
	engineCollector.mu.Lock()
	engineCollector.denials[rule]++
	engineCollector.mu.Unlock()
}

// ObserveExecution counts a successfully executed intent.
func ObserveExecution() {
	engineCollector.mu.Lock()
	engineCollector.executions++
	engineCollector.mu.Unlock()
}

// ObserveRejection counts an intent rejected with the given error code.
func ObserveRejection(code string) {
	engineCollector.mu.Lock()
	engineCollector.rejections[code]++
	engineCollector.mu.Unlock()
}

func (m *engineMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP agentpay_intent_proposals_total Total number of payment intents created.\n")
	builder.WriteString("# TYPE agentpay_intent_proposals_total counter\n")
	builder.WriteString(fmt.Sprintf("agentpay_intent_proposals_total %d\n", m.proposals))

	builder.WriteString("# HELP agentpay_policy_denials_total Total number of proposals denied by policy.\n")
	builder.WriteString("# TYPE agentpay_policy_denials_total counter\n")
	rules := make([]string, 0, len(m.denials))
	for rule := range m.denials {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		builder.WriteString(fmt.Sprintf("agentpay_policy_denials_total{rule=\"%s\"} %d\n", escape(rule), m.denials[rule]))
	}

	builder.WriteString("# HELP agentpay_intent_executions_total Total number of intents executed on chain.\n")
	builder.WriteString("# TYPE agentpay_intent_executions_total counter\n")
	builder.WriteString(fmt.Sprintf("agentpay_intent_executions_total %d\n", m.executions))

	builder.WriteString("# HELP agentpay_intent_rejections_total Total number of intents rejected after approval.\n")
	builder.WriteString("# TYPE agentpay_intent_rejections_total counter\n")
	codes := make([]string, 0, len(m.rejections))
	for code := range m.rejections {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		builder.WriteString(fmt.Sprintf("agentpay_intent_rejections_total{code=\"%s\"} %d\n", escape(code), m.rejections[code]))
	}

	return builder.String()
}
