// Package gate decides whether a received message is forwarded, based on the
// verdicts SES attached to its receipt.
package gate

import (
	"strings"

	"github.com/shineum/ses-forwarder/internal/inbound"
)

// Drop reasons reported by Evaluate.
const (
	ReasonReceiptChecks = "receipt-checks"
	ReasonDMARCReject   = "dmarc-reject"
)

// defaultPolicy applies when the receipt carries no DMARC policy.
const defaultPolicy = "none"

// Decision is the outcome of Evaluate. A zero Decision passes.
type Decision struct {
	Drop   bool
	Reason string
}

// Pass reports whether the message should be forwarded.
func (d Decision) Pass() bool {
	return !d.Drop
}

func drop(reason string) Decision {
	return Decision{Drop: true, Reason: reason}
}

// Evaluate is a pure function of the receipt verdicts. Spam, virus, SPF and
// DKIM are checked before DMARC so that the reported reason is stable.
func Evaluate(n *inbound.Notification) Decision {
	r := n.Receipt
	if r.SpamVerdict.Status != inbound.StatusPass ||
		r.VirusVerdict.Status != inbound.StatusPass ||
		r.SPFVerdict.Status != inbound.StatusPass ||
		r.DKIMVerdict.Status != inbound.StatusPass {
		return drop(ReasonReceiptChecks)
	}

	policy := r.PolicyStatus()
	if policy == "" {
		policy = defaultPolicy
	}
	if r.DMARCVerdict.Status != inbound.StatusPass && strings.EqualFold(policy, "reject") {
		return drop(ReasonDMARCReject)
	}

	return Decision{}
}
