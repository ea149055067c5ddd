// Package risk gates order intents through an ordered rule chain.
package risk

import (
	"context"

	"github.com/quanterhq/strategyd/internal/domain/portfolio"
)

// Action tells the chain what to do when a rule fails.
type Action string

const (
	// ActionNone records the failure without touching the order.
	ActionNone Action = "none"
	// ActionWarn surfaces a warning without touching the order.
	ActionWarn Action = "warn"
	// ActionCancelOrder zeroes the order amount and stops the chain.
	ActionCancelOrder Action = "cancel_order"
)

// MessageKind labels the payload wrapped by a risk message.
type MessageKind string

const (
	// KindOrder marks an order-bearing message.
	KindOrder MessageKind = "order"
)

// Message is the risk-tagged envelope evaluated by rules.
type Message struct {
	Kind  MessageKind
	Order *portfolio.Order
}

// Rule is one link in the chain. Check returns true when the message passes.
type Rule interface {
	Title() string
	Action() Action
	Check(ctx context.Context, msg Message) bool
}

// Verdict reports the outcome of a chain evaluation.
type Verdict struct {
	Cancelled bool
	Rule      string
	Warnings  []string
}

// Chain evaluates rules in order against a pending order.
type Chain struct {
	rules []Rule
}

// NewChain builds a chain over the given rules, evaluated in order.
func NewChain(rules ...Rule) *Chain {
	return &Chain{rules: rules}
}

// Append adds rules to the end of the chain.
func (c *Chain) Append(rules ...Rule) {
	c.rules = append(c.rules, rules...)
}

// Len returns the number of rules in the chain.
func (c *Chain) Len() int {
	return len(c.rules)
}

// Apply runs the order through the chain. The first failing rule whose action
// is cancel-order zeroes the amount and stops evaluation; failures with other
// actions are collected as warnings and evaluation continues.
func (c *Chain) Apply(ctx context.Context, ord *portfolio.Order) Verdict {
	if c == nil || ord == nil {
		return Verdict{}
	}
	msg := Message{Kind: KindOrder, Order: ord}
	verdict := Verdict{}
	for _, rule := range c.rules {
		if rule == nil || rule.Check(ctx, msg) {
			continue
		}
		if rule.Action() == ActionCancelOrder {
			ord.Amount = 0
			verdict.Cancelled = true
			verdict.Rule = rule.Title()
			return verdict
		}
		verdict.Warnings = append(verdict.Warnings, rule.Title())
	}
	return verdict
}
