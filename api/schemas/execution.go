package schemas

import (
	"time"
)

// -- Execution Trace --

// ExecutionInfoType discriminates trace entries.
type ExecutionInfoType string

const (
	InfoInstruction           ExecutionInfoType = "instruction"
	InfoExternalDataOperation ExecutionInfoType = "externalDataOperation"
	InfoSuccess               ExecutionInfoType = "success"
	InfoError                 ExecutionInfoType = "error"
	InfoPageOpened            ExecutionInfoType = "pageOpened"
)

// IsTerminal reports whether the entry type ends an iteration.
func (t ExecutionInfoType) IsTerminal() bool {
	return t == InfoSuccess || t == InfoError
}

// InstructionInfo describes an executed instruction.
type InstructionInfo struct {
	Type      InstructionType `json:"type"`
	Label     string          `json:"label"`
	Index     int             `json:"index"`
	PageIndex int             `json:"pageIndex"`
	URL       string          `json:"url,omitempty"`
}

// DataOperation names a Data Source Bridge call.
type DataOperation string

const (
	DataOperationRead   DataOperation = "read"
	DataOperationWrite  DataOperation = "write"
	DataOperationInsert DataOperation = "insert"
	DataOperationDelete DataOperation = "delete"
)

// DataOperationInfo describes a data source read or write.
type DataOperationInfo struct {
	Operation      DataOperation `json:"operation"`
	DataSourceName string        `json:"dataSourceName"`
	RowID          *int64        `json:"rowId,omitempty"`
	Columns        []string      `json:"columns,omitempty"`
}

// ErrorInfo is the serializable form of a terminal error.
type ErrorInfo struct {
	Kind           ErrorKind `json:"kind"`
	Message        string    `json:"message"`
	Classification string    `json:"classification,omitempty"`
	Retryable      bool      `json:"retryable,omitempty"`
}

// ExecutionInfo is one trace entry.
type ExecutionInfo struct {
	ID       string            `json:"id"`
	Type     ExecutionInfoType `json:"type"`
	At       time.Time         `json:"at"`
	Duration Duration          `json:"duration"`

	Instruction   *InstructionInfo   `json:"instruction,omitempty"`
	DataOperation *DataOperationInfo `json:"dataOperation,omitempty"`
	Error         *ErrorInfo         `json:"error,omitempty"`

	// pageOpened
	PageIndex int    `json:"pageIndex,omitempty"`
	URL       string `json:"url,omitempty"`
	// Note carries non-fatal details such as an empty checkError probe.
	Note string `json:"note,omitempty"`
}

// IterationInfo is the trace of one iteration.
type IterationInfo struct {
	Index      int             `json:"index"`
	RowID      *int64          `json:"rowId,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Entries    []ExecutionInfo `json:"entries"`
}

// Terminal returns the terminal entry of the iteration, if it has one.
func (it IterationInfo) Terminal() (ExecutionInfo, bool) {
	if n := len(it.Entries); n > 0 && it.Entries[n-1].Type.IsTerminal() {
		return it.Entries[n-1], true
	}
	return ExecutionInfo{}, false
}

// ExecutionOutcome is the overall result of a run.
type ExecutionOutcome string

const (
	OutcomeSuccess    ExecutionOutcome = "success"
	OutcomeError      ExecutionOutcome = "error"
	OutcomeTerminated ExecutionOutcome = "terminated"
)

// ScraperExecutionInfo is the persisted record of one execution.
type ScraperExecutionInfo struct {
	ID         string             `json:"id"`
	ScraperID  string             `json:"scraperId"`
	RoutineID  string             `json:"routineId,omitempty"`
	Iterator   *ExecutionIterator `json:"iterator,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Outcome    ExecutionOutcome   `json:"outcome"`
	Iterations []IterationInfo    `json:"iterations"`
}

// DeriveOutcome computes the run outcome from its iterations. A terminated
// iteration wins over errors, any error wins over success.
func DeriveOutcome(iterations []IterationInfo) ExecutionOutcome {
	outcome := OutcomeSuccess
	for _, it := range iterations {
		entry, ok := it.Terminal()
		if !ok {
			return OutcomeError
		}
		if entry.Type == InfoError {
			if entry.Error != nil && entry.Error.Kind == KindTerminated {
				return OutcomeTerminated
			}
			outcome = OutcomeError
		}
	}
	return outcome
}
