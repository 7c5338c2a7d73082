// internal/interpreter/interpreter.go
package interpreter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/iterator"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
	"github.com/xkilldash9x/scrapeflow/internal/resolver"
)

const defaultProbeTimeout = 2 * time.Second

// DataSink performs the data source operations of an iteration.
// *datasource.Bridge implements it.
type DataSink interface {
	WriteColumns(ctx context.Context, alias string, rowID int64, values map[string]any) error
	InsertRow(ctx context.Context, alias string, values map[string]any) (int64, error)
	DeleteRow(ctx context.Context, alias string, rowID int64) error
	LastRow(ctx context.Context, alias string) (schemas.Row, error)
	Table(ctx context.Context, alias string) (schemas.DataStoreTable, error)
}

// Options tunes an Interpreter.
type Options struct {
	// MaxSteps caps traced instructions per iteration. Zero disables the cap.
	MaxSteps int
	// NavigationWait bounds waitForNavigation. Zero uses the page default timeout.
	NavigationWait time.Duration
	// ProbeTimeout bounds checkError probes that set no timeout of their own.
	ProbeTimeout  time.Duration
	ScreenshotDir string
}

// Dependencies are the collaborators of an Interpreter.
type Dependencies struct {
	Resolver *resolver.Resolver
	// Data may be nil for scrapers without data sources.
	Data DataSink
	// Notifier defaults to a LogNotifier.
	Notifier schemas.Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Emitter receives trace entries as they are recorded.
type Emitter func(schemas.ExecutionInfo)

// Interpreter runs a compiled program once per iteration. It holds no
// per-iteration state and may be shared by sequential iterations.
type Interpreter struct {
	program  *Program
	resolver *resolver.Resolver
	data     DataSink
	notifier schemas.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// New creates an Interpreter for program.
func New(program *Program, deps Dependencies, opts Options) (*Interpreter, error) {
	if program == nil {
		return nil, errors.New("program cannot be nil")
	}
	if deps.Resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	return &Interpreter{
		program:  program,
		resolver: deps.Resolver,
		data:     deps.Data,
		notifier: notifier,
		metrics:  deps.Metrics,
		logger:   logger.Named("interpreter"),
		opts:     opts,
		now:      time.Now,
	}, nil
}

// RunIteration executes the program once against row, which is nil when
// the scraper runs without an iterator. The returned trace always ends with
// exactly one success or error entry. Cancelling ctx stops the iteration at
// the next instruction boundary with a Terminated error.
func (in *Interpreter) RunIteration(ctx context.Context, index int, session schemas.BrowserSession, row *iterator.RowContext, emit Emitter) schemas.IterationInfo {
	it := &iteration{
		in:       in,
		ctx:      ctx,
		session:  session,
		row:      row,
		scope:    resolver.Scope{Row: row, Pages: session},
		emit:     emit,
		inserted: make(map[string]int64),
		logger:   in.logger.With(zap.Int("iteration", index)),
		info: schemas.IterationInfo{
			Index:     index,
			RowID:     row.RowID(),
			StartedAt: in.now(),
		},
	}
	it.run()
	it.info.FinishedAt = in.now()
	return it.info
}

// -- Iteration --

type iteration struct {
	in      *Interpreter
	ctx     context.Context
	session schemas.BrowserSession
	row     *iterator.RowContext
	scope   resolver.Scope
	emit    Emitter
	logger  *zap.Logger
	info    schemas.IterationInfo

	// inserted remembers rows created by this iteration, so that later
	// writes to the same data source update them.
	inserted map[string]int64

	// page and note describe the step in progress.
	page schemas.Page
	note string
}

func (it *iteration) run() {
	ops := it.in.program.ops
	steps := 0
	for pc := 0; pc < len(ops); {
		o := ops[pc]
		if o.kind == opGoto {
			pc = o.target
			continue
		}
		if err := it.ctx.Err(); err != nil {
			it.fail(o, it.in.now(), terminated(it.ctx))
			return
		}
		if budget := it.in.opts.MaxSteps; budget > 0 && steps >= budget {
			it.fail(o, it.in.now(), schemas.NewError(schemas.KindStepBudgetExceeded, "iteration exceeded %d steps", budget))
			return
		}
		steps++

		it.page, it.note = nil, ""
		start := it.in.now()
		next, err := it.exec(o, pc)
		if err != nil {
			if it.ctx.Err() != nil {
				err = terminated(it.ctx)
			}
			it.fail(o, start, err)
			return
		}

		it.record(schemas.ExecutionInfo{
			Type:        schemas.InfoInstruction,
			At:          start,
			Duration:    schemas.Duration(it.in.now().Sub(start)),
			Instruction: it.instructionInfo(o),
			Note:        it.note,
		})
		it.in.metrics.IncInstruction(string(o.instr.Type))
		it.pageEvents()
		pc = next
	}

	it.record(schemas.ExecutionInfo{Type: schemas.InfoSuccess, At: it.in.now()})
	it.in.metrics.IncIteration(string(schemas.OutcomeSuccess))
}

// exec runs one op and returns the index of the next one.
func (it *iteration) exec(o op, pc int) (int, error) {
	switch o.kind {
	case opMarker:
		return pc + 1, nil
	case opJump:
		return o.target, nil
	case opBranch:
		ok, err := it.condition(o.instr.Condition.Condition)
		if err != nil {
			return 0, err
		}
		if ok {
			it.note = "then"
			return pc + 1, nil
		}
		it.note = "else"
		return o.target, nil
	}

	instr := o.instr
	var err error
	switch instr.Type {
	case schemas.InstructionPageAction:
		err = it.pageAction(instr.PageAction)
	case schemas.InstructionSaveData:
		err = it.saveData(instr.SaveData)
	case schemas.InstructionSaveDataBatch:
		err = it.saveDataBatch(instr.SaveDataBatch)
	case schemas.InstructionDeleteData:
		err = it.deleteData(instr.DeleteData)
	case schemas.InstructionSystemAction:
		it.systemAction(instr.SystemAction)
	default:
		err = schemas.NewError(schemas.KindInvalidProgram, "unexpected instruction %q", instr.Type)
	}
	return pc + 1, err
}

func (it *iteration) condition(cond schemas.ScraperCondition) (bool, error) {
	if cond.Type == schemas.ConditionIsVisible && it.session != nil {
		if page, err := it.session.Page(it.ctx, cond.PageIndex); err == nil {
			it.page = page
		}
	}
	return it.in.resolver.Evaluate(it.ctx, it.scope, cond)
}

func (it *iteration) systemAction(a *schemas.SystemAction) {
	if err := it.in.notifier.Notify(it.ctx, a.Title, a.Content); err != nil {
		it.logger.Warn("Notification failed.", zap.String("title", a.Title), zap.Error(err))
		it.note = "notification failed: " + err.Error()
	}
}

// -- Trace --

func (it *iteration) record(e schemas.ExecutionInfo) {
	e.ID = uuid.NewString()
	it.info.Entries = append(it.info.Entries, e)
	if it.emit != nil {
		it.emit(e)
	}
}

func (it *iteration) fail(o op, start time.Time, err error) {
	info := schemas.ToErrorInfo(err)
	entry := schemas.ExecutionInfo{
		Type:     schemas.InfoError,
		At:       start,
		Duration: schemas.Duration(it.in.now().Sub(start)),
		Error:    info,
	}
	if o.instr != nil {
		entry.Instruction = it.instructionInfo(o)
	}
	it.record(entry)
	it.pageEvents()

	result := string(schemas.OutcomeError)
	if info.Kind == schemas.KindTerminated {
		result = string(schemas.OutcomeTerminated)
	}
	it.in.metrics.IncIteration(result)
	it.in.metrics.IncError(string(info.Kind))
	it.logger.Info("Iteration failed.", zap.String("kind", string(info.Kind)), zap.String("error", info.Message))
}

func (it *iteration) instructionInfo(o op) *schemas.InstructionInfo {
	info := &schemas.InstructionInfo{
		Type:  o.instr.Type,
		Label: o.instr.Label(),
		Index: o.seq,
	}
	if o.instr.PageAction != nil {
		info.PageIndex = o.instr.PageAction.PageIndex
	}
	if it.page != nil {
		info.PageIndex = it.page.Index()
		info.URL = it.page.URL(context.WithoutCancel(it.ctx))
	}
	return info
}

// pageEvents records the pages the session opened since the last step.
func (it *iteration) pageEvents() {
	if it.session == nil {
		return
	}
	for _, ev := range it.session.OpenedPages() {
		it.record(schemas.ExecutionInfo{
			Type:      schemas.InfoPageOpened,
			At:        ev.At,
			PageIndex: ev.Index,
			URL:       ev.URL,
		})
	}
}

func terminated(ctx context.Context) error {
	var cause *schemas.EngineError
	if errors.As(context.Cause(ctx), &cause) && cause.Kind == schemas.KindTerminated {
		return cause
	}
	return schemas.WrapError(schemas.KindTerminated, context.Cause(ctx), "execution terminated")
}

// -- Notifications --

// LogNotifier delivers notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, title, content string) error {
	n.logger.Info("Notification.", zap.String("title", title), zap.String("content", content))
	return nil
}
