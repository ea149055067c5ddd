// Package schema defines the message protocol spoken by strategy actors and
// their collaborators.
package schema

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Message is anything deliverable to a strategy actor mailbox.
type Message interface {
	isMessage()
}

// Command drives the strategy lifecycle state machine. Commands form a closed
// set of variants so dispatch stays exhaustive at compile time.
type Command interface {
	Message
	isCommand()
}

// InitCommand asks the actor to load its descriptor from persistence.
type InitCommand struct{}

// StartCommand invokes the start extension hook.
type StartCommand struct{}

// StopCommand transitions the actor to its terminal state.
type StopCommand struct{}

// SettleCommand runs end-of-day clearing over every holding.
type SettleCommand struct{}

// BuyCommand places a buy intent for the given symbol.
type BuyCommand struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Amount int64           `json:"amount"`
}

// SellCommand places a sell intent for the given symbol.
type SellCommand struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Amount int64           `json:"amount"`
}

// WatchCommand subscribes the strategy to a security's quote feed.
type WatchCommand struct {
	Security Security `json:"security"`
}

// UnwatchCommand removes the strategy's quote feed subscription.
type UnwatchCommand struct {
	Security Security `json:"security"`
}

// CustomCommand routes strategy-specific commands to the extension hook.
type CustomCommand struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the custom payload into the provided destination.
func (c CustomCommand) DecodePayload(dest any) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("custom command payload empty")
	}
	if dest == nil {
		return fmt.Errorf("custom command payload destination nil")
	}
	if err := json.Unmarshal(c.Payload, dest); err != nil {
		return fmt.Errorf("custom command payload decode: %w", err)
	}
	return nil
}

func (InitCommand) isMessage()   {}
func (InitCommand) isCommand()   {}
func (StartCommand) isMessage()  {}
func (StartCommand) isCommand()  {}
func (StopCommand) isMessage()   {}
func (StopCommand) isCommand()   {}
func (SettleCommand) isMessage() {}
func (SettleCommand) isCommand() {}
func (BuyCommand) isMessage()    {}
func (BuyCommand) isCommand()    {}
func (SellCommand) isMessage()   {}
func (SellCommand) isCommand()   {}
func (WatchCommand) isMessage()   {}
func (WatchCommand) isCommand()   {}
func (UnwatchCommand) isMessage() {}
func (UnwatchCommand) isCommand() {}
func (CustomCommand) isMessage()  {}
func (CustomCommand) isCommand()  {}
