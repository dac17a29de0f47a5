package resilience

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentuity/go-resilience/eventing"
	"github.com/cockroachdb/errors"
)

// SubjectControl carries operator commands to processes hosting breakers.
// Breaker state stays local to each process; the control channel only
// delivers the override, it never shares state.
const SubjectControl = "resilience.control"

// ControlAction identifies an operator override.
type ControlAction string

const (
	ControlReset      ControlAction = "RESET"
	ControlForceOpen  ControlAction = "FORCE_OPEN"
	ControlForceClose ControlAction = "FORCE_CLOSE"
	ControlStatus     ControlAction = "STATUS"
)

// ControlCommand is the wire form of an operator override. Status requests
// set Reply to the subject the snapshot should be published on.
type ControlCommand struct {
	Action    ControlAction `json:"action"`
	Operation string        `json:"operation,omitempty"`
	Reply     string        `json:"reply,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

var ErrNoEventing = errors.New("no eventing client configured")

// ApplyControl applies an operator override to the local registry. It
// reports false for commands that had no effect.
func (p *Protector) ApplyControl(cmd ControlCommand) bool {
	switch cmd.Action {
	case ControlReset:
		return p.registry.Reset(cmd.Operation)
	case ControlForceOpen:
		if cmd.Operation == "" {
			return false
		}
		p.registry.ForceOpen(cmd.Operation)
		return true
	case ControlForceClose:
		if cmd.Operation == "" {
			return false
		}
		return p.registry.ForceClose(cmd.Operation)
	default:
		return false
	}
}

// ListenControl subscribes to SubjectControl and applies operator commands
// to this process: resets and forced transitions mutate the local registry,
// status requests publish a breaker snapshot to the command's reply
// subject. Close the returned subscriber to stop listening.
func (p *Protector) ListenControl(ctx context.Context) (eventing.Subscriber, error) {
	if p.events == nil {
		return nil, ErrNoEventing
	}
	return p.events.Subscribe(ctx, SubjectControl, func(ctx context.Context, msg eventing.Message) {
		var cmd ControlCommand
		if err := json.Unmarshal(msg.Data(), &cmd); err != nil {
			p.logger.Error("failed to decode control command: %s", err)
			return
		}
		if cmd.Action == ControlStatus {
			if cmd.Reply == "" {
				return
			}
			payload, err := json.Marshal(p.CircuitBreakerStatus())
			if err != nil {
				p.logger.Error("failed to encode status snapshot: %s", err)
				return
			}
			if err := p.events.Publish(ctx, cmd.Reply, payload); err != nil {
				p.logger.Error("failed to publish status snapshot: %s", err)
			}
			return
		}
		if p.ApplyControl(cmd) {
			p.logger.Info("applied control %s for %s", cmd.Action, cmd.Operation)
		} else {
			p.logger.Warn("ignored control %s for %s", cmd.Action, cmd.Operation)
		}
	})
}
