package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Format renders an event as a chat title and body. It reports false for
// kinds that have no chat rendering or payloads that fail to decode.
func Format(ev domain.Event) (title, body string, ok bool) {
	switch ev.Kind {
	case domain.EventExecutionAttempt:
		var a domain.ExecutionAttempt
		if json.Unmarshal(ev.Payload, &a) != nil {
			return "", "", false
		}
		return formatAttempt(a), attemptBody(a), true

	case domain.EventRiskTransition:
		var t domain.RiskTransition
		if json.Unmarshal(ev.Payload, &t) != nil {
			return "", "", false
		}
		return fmt.Sprintf("Risk %s → %s", t.From, t.To), t.Reason, true

	case domain.EventBotStatus:
		var s domain.BotStatusChange
		if json.Unmarshal(ev.Payload, &s) != nil {
			return "", "", false
		}
		body := fmt.Sprintf("%s → %s", s.From, s.To)
		if s.Reason != "" {
			body += "\n" + s.Reason
		}
		return "Bot " + string(s.To), body, true

	case domain.EventOpportunityDetected:
		var o domain.Opportunity
		if json.Unmarshal(ev.Payload, &o) != nil {
			return "", "", false
		}
		return "Opportunity " + o.Pair.String(), fmt.Sprintf("buy %s @ %.6g, sell %s @ %.6g\nspread %.3f%%, est. net %.4f",
			o.BuyExchange, o.BuyPrice, o.SellExchange, o.SellPrice, o.GrossSpreadPct, o.NetProfit), true

	case domain.EventOpportunitySkipped:
		var s domain.SkippedOpportunity
		if json.Unmarshal(ev.Payload, &s) != nil {
			return "", "", false
		}
		return "Skipped " + s.Opportunity.Pair.String(), s.Reason, true
	}
	return "", "", false
}

func formatAttempt(a domain.ExecutionAttempt) string {
	switch a.Outcome {
	case domain.OutcomeSuccess:
		return fmt.Sprintf("Arb filled %s %+.4f", a.Opportunity.Pair, a.RealizedProfit)
	case domain.OutcomeAborted:
		return "Arb aborted " + a.Opportunity.Pair.String()
	default:
		return "Arb failed " + a.Opportunity.Pair.String()
	}
}

func attemptBody(a domain.ExecutionAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s → %s, size %.4g", a.Opportunity.BuyExchange, a.Opportunity.SellExchange, a.Opportunity.PositionSize)
	if a.LoanProvider != "" {
		fmt.Fprintf(&b, "\nloan %.4g via %s (fee %.4g)", a.LoanAmount, a.LoanProvider, a.LoanFee)
	}
	if a.TxID != "" {
		fmt.Fprintf(&b, "\ntx %s", a.TxID)
	}
	if a.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", a.Error)
	}
	return b.String()
}
