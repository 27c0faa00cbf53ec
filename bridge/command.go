package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Command names accepted on the command topic.
const (
	CmdConnect         = "connect"
	CmdDisconnect      = "disconnect"
	CmdAbort           = "abort"
	CmdConfirmSafe     = "confirm_safe"
	CmdApplyOperation  = "apply_operation"
	CmdSetValve        = "set_valve"
	CmdToggleAbortMode = "toggle_abort_mode"
	CmdArmIgnition     = "arm_ignition"
	CmdCancelIgnition  = "cancel_ignition"
)

var (
	// ErrUnknownCommand is reported for an unrecognized command name.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidCommand is reported for a command with missing or malformed fields.
	ErrInvalidCommand = errors.New("invalid command")
)

// Command is the JSON body of a message on the command topic.
type Command struct {
	// ID is echoed in the result so the sender can correlate.
	ID        string `json:"id,omitempty"`
	Command   string `json:"command"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Operation string `json:"operation,omitempty"`
	Valve     string `json:"valve,omitempty"`
	Open      *bool  `json:"open,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// Result is published on the result topic for every command.
type Result struct {
	ID      string    `json:"id,omitempty"`
	Command string    `json:"command,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func (b *Bridge) handle(ctx context.Context, payload []byte) Result {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("malformed command", "error", err)
		return Result{Error: fmt.Sprintf("%v: %v", ErrInvalidCommand, err), At: time.Now()}
	}

	ctx, cancel := context.WithTimeout(ctx, b.commandTimeout)
	defer cancel()

	err := b.execute(ctx, cmd)
	res := Result{ID: cmd.ID, Command: cmd.Command, OK: err == nil, At: time.Now()}
	if err != nil {
		res.Error = err.Error()
		b.logger.Info("command failed", "command", cmd.Command, "id", cmd.ID, "error", err)
	} else {
		b.logger.Info("command executed", "command", cmd.Command, "id", cmd.ID)
	}

	return res
}

func (b *Bridge) execute(ctx context.Context, cmd Command) error {
	switch cmd.Command {
	case CmdConnect:
		host, port := cmd.Host, cmd.Port
		if host == "" {
			host = b.mcuHost
		}
		if port == 0 {
			port = b.mcuPort
		}
		if host == "" || port == 0 {
			return fmt.Errorf("%w: connect requires host and port", ErrInvalidCommand)
		}
		return b.cmds.Connect(ctx, host, port)

	case CmdDisconnect:
		return b.cmds.Disconnect(ctx)

	case CmdAbort:
		return b.cmds.TriggerManualAbort(ctx)

	case CmdConfirmSafe:
		return b.cmds.ConfirmSafeState(ctx)

	case CmdApplyOperation:
		if cmd.Operation == "" {
			return fmt.Errorf("%w: apply_operation requires operation", ErrInvalidCommand)
		}
		return b.cmds.ApplyOperation(ctx, cmd.Operation)

	case CmdSetValve:
		if cmd.Valve == "" || cmd.Open == nil {
			return fmt.Errorf("%w: set_valve requires valve and open", ErrInvalidCommand)
		}
		return b.cmds.SetValve(ctx, cmd.Valve, *cmd.Open)

	case CmdToggleAbortMode:
		if cmd.Mode == "" || cmd.Enabled == nil {
			return fmt.Errorf("%w: toggle_abort_mode requires mode and enabled", ErrInvalidCommand)
		}
		return b.cmds.ToggleAbortMode(ctx, cmd.Mode, *cmd.Enabled)

	case CmdArmIgnition:
		return b.cmds.ArmIgnition(ctx)

	case CmdCancelIgnition:
		return b.cmds.CancelIgnition(ctx)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}
