package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/model"
)

// execution writes one batch's log entries to the store and mirrors them to
// zap. Store failures are logged and swallowed so they never abort a
// financial operation.
type execution struct {
	ctx    context.Context
	id     string
	store  execlog.Store
	logger *zap.Logger
}

func newExecution(ctx context.Context, id string, store execlog.Store, logger *zap.Logger) *execution {
	return &execution{
		ctx:    ctx,
		id:     id,
		store:  store,
		logger: logger.With(zap.String("execution_id", id)),
	}
}

func (x *execution) batchLog(message string, data any) {
	x.append(model.NewLogEntry(0, message, data), x.logger)
}

func (x *execution) command(index int, kind model.CommandKind) *commandScope {
	return &commandScope{
		exec:   x,
		index:  index,
		kind:   kind,
		logger: x.logger.With(zap.Int("command", index), zap.String("kind", string(kind))),
	}
}

func (x *execution) append(entry model.LogEntry, logger *zap.Logger) {
	fields := []zap.Field{}
	if len(entry.Data) > 0 {
		fields = append(fields, zap.ByteString("data", entry.Data))
	}
	if entry.Type == model.LogTypeError {
		logger.Error(entry.Message, append(fields, zap.String("error", entry.Error))...)
	} else {
		logger.Info(entry.Message, fields...)
	}

	if err := x.store.Append(x.ctx, x.id, entry); err != nil {
		x.logger.Warn("append execution log failed", zap.Error(err))
	}
}

func (x *execution) close(errMsg string) {
	if err := x.store.Close(x.ctx, x.id, errMsg); err != nil {
		x.logger.Warn("close execution failed", zap.Error(err))
		return
	}
	status := execlog.TerminalStatus(errMsg)
	x.logger.Info("execution closed", zap.String("status", string(status)))
}

// commandScope tags entries with the command that produced them.
type commandScope struct {
	exec   *execution
	index  int
	kind   model.CommandKind
	logger *zap.Logger
}

func (c *commandScope) log(message string, data any) {
	c.exec.append(model.NewLogEntry(c.index, message, data), c.logger)
}

// fail records err as this command's error entry and returns it wrapped in
// a CommandError.
func (c *commandScope) fail(stage model.Stage, err error) *model.CommandError {
	cerr := &model.CommandError{Index: c.index, Kind: c.kind, Stage: stage, Err: err}
	c.report(cerr)
	return cerr
}

func (c *commandScope) report(cerr *model.CommandError) {
	c.exec.append(model.NewErrorEntry(c.index, fmt.Sprintf("%s failed at %s", displayKind(c.kind), cerr.Stage), cerr.Err, map[string]any{
		"stage":    cerr.Stage,
		"category": category(cerr.Err),
	}), c.logger)
}

func displayKind(kind model.CommandKind) string {
	if kind == "" {
		return "command"
	}
	return string(kind)
}

var categories = []error{
	model.ErrInvalidAmount,
	model.ErrChainRead,
	model.ErrInvalidRange,
	model.ErrNoPoolFound,
	model.ErrTransactionReverted,
	model.ErrTransactionTimeout,
	model.ErrUnknownCommand,
	model.ErrInvalidCommand,
	context.Canceled,
	context.DeadlineExceeded,
}

// category names the taxonomy error err belongs to, for log consumers.
func category(err error) string {
	for _, target := range categories {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "internal"
}
