package schemas

// -- Instruction Schemas --

// InstructionType discriminates the Instruction tagged union.
type InstructionType string

const (
	InstructionPageAction    InstructionType = "pageAction"
	InstructionCondition     InstructionType = "condition"
	InstructionSaveData      InstructionType = "saveData"
	InstructionSaveDataBatch InstructionType = "saveDataBatch"
	InstructionDeleteData    InstructionType = "deleteData"
	InstructionMarker        InstructionType = "marker"
	InstructionJump          InstructionType = "jump"
	InstructionSystemAction  InstructionType = "systemAction"
)

// Instruction is one step of a scraper program. Exactly one of the variant
// pointers matching Type is expected to be set.
type Instruction struct {
	Type          InstructionType       `json:"type" yaml:"type"`
	PageAction    *PageAction           `json:"pageAction,omitempty" yaml:"pageAction,omitempty"`
	Condition     *ConditionInstruction `json:"condition,omitempty" yaml:"condition,omitempty"`
	SaveData      *SaveData             `json:"saveData,omitempty" yaml:"saveData,omitempty"`
	SaveDataBatch *SaveDataBatch        `json:"saveDataBatch,omitempty" yaml:"saveDataBatch,omitempty"`
	DeleteData    *DeleteData           `json:"deleteData,omitempty" yaml:"deleteData,omitempty"`
	Marker        *Marker               `json:"marker,omitempty" yaml:"marker,omitempty"`
	Jump          *Jump                 `json:"jump,omitempty" yaml:"jump,omitempty"`
	SystemAction  *SystemAction         `json:"systemAction,omitempty" yaml:"systemAction,omitempty"`
}

// Label returns a short human readable name for trace entries and logs.
func (i Instruction) Label() string {
	switch i.Type {
	case InstructionPageAction:
		if i.PageAction != nil {
			return string(i.Type) + ":" + string(i.PageAction.Type)
		}
	case InstructionSystemAction:
		if i.SystemAction != nil {
			return string(i.Type) + ":" + string(i.SystemAction.Type)
		}
	case InstructionMarker:
		if i.Marker != nil {
			return string(i.Type) + ":" + i.Marker.Name
		}
	case InstructionJump:
		if i.Jump != nil {
			return string(i.Type) + ":" + i.Jump.MarkerName
		}
	}
	return string(i.Type)
}

// PageActionType enumerates the browser actions an instruction can perform.
type PageActionType string

const (
	PageActionNavigate       PageActionType = "navigate"
	PageActionWait           PageActionType = "wait"
	PageActionClick          PageActionType = "click"
	PageActionType_          PageActionType = "type"
	PageActionScrollToTop    PageActionType = "scrollToTop"
	PageActionScrollToBottom PageActionType = "scrollToBottom"
	PageActionSelect         PageActionType = "select"
	PageActionCheckError     PageActionType = "checkError"
	PageActionScreenshot     PageActionType = "screenshot"
)

// PageAction is an action against the page addressed by PageIndex
// (0 is the primary page, higher indices are pages opened during execution).
type PageAction struct {
	Type      PageActionType `json:"type" yaml:"type"`
	PageIndex int            `json:"pageIndex,omitempty" yaml:"pageIndex,omitempty"`

	// navigate
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// wait
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// click, type, select, checkError
	Selectors         []ElementSelector `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	WaitForNavigation bool              `json:"waitForNavigation,omitempty" yaml:"waitForNavigation,omitempty"`
	UseGhostCursor    bool              `json:"useGhostCursor,omitempty" yaml:"useGhostCursor,omitempty"`

	// type, select
	Value           *ScraperValue `json:"value,omitempty" yaml:"value,omitempty"`
	ClearBeforeType bool          `json:"clearBeforeType,omitempty" yaml:"clearBeforeType,omitempty"`
	PressEnter      bool          `json:"pressEnter,omitempty" yaml:"pressEnter,omitempty"`

	// checkError
	ErrorMap []ErrorMapping `json:"errorMap,omitempty" yaml:"errorMap,omitempty"`
	// ProbeTimeout bounds the checkError element search. Zero uses a short default.
	ProbeTimeout Duration `json:"probeTimeout,omitempty" yaml:"probeTimeout,omitempty"`

	// screenshot
	FileName string `json:"fileName,omitempty" yaml:"fileName,omitempty"`
}

// ErrorMapping classifies the text of a checkError probe. Content is a
// literal or a /regex/flags expression.
type ErrorMapping struct {
	Content        string `json:"content" yaml:"content"`
	Classification string `json:"classification" yaml:"classification"`
}

// ConditionInstruction branches on a condition. After the chosen branch
// completes, control continues after the condition in the parent sequence.
type ConditionInstruction struct {
	Condition ScraperCondition `json:"condition" yaml:"condition"`
	Then      []Instruction    `json:"then,omitempty" yaml:"then,omitempty"`
	Else      []Instruction    `json:"else,omitempty" yaml:"else,omitempty"`
}

// SaveData writes one value into the column addressed by DataKey (alias.column).
type SaveData struct {
	DataKey string       `json:"dataKey" yaml:"dataKey"`
	Value   ScraperValue `json:"value" yaml:"value"`
}

// SaveDataBatchItem is one column assignment of a batch save.
type SaveDataBatchItem struct {
	ColumnName string       `json:"columnName" yaml:"columnName"`
	Value      ScraperValue `json:"value" yaml:"value"`
}

// SaveDataBatch writes several columns of one data source in a single statement.
type SaveDataBatch struct {
	DataSourceName string              `json:"dataSourceName" yaml:"dataSourceName"`
	Items          []SaveDataBatchItem `json:"items" yaml:"items"`
}

// DeleteData deletes the current row of a data source.
type DeleteData struct {
	DataSourceName string `json:"dataSourceName" yaml:"dataSourceName"`
}

// Marker records a named position that Jump instructions can target.
type Marker struct {
	Name string `json:"name" yaml:"name"`
}

// Jump unconditionally moves the cursor to a Marker.
type Jump struct {
	MarkerName string `json:"markerName" yaml:"markerName"`
}

// SystemActionType enumerates side-channel actions.
type SystemActionType string

const (
	SystemActionShowNotification SystemActionType = "showNotification"
)

// SystemAction performs a side effect outside the page.
type SystemAction struct {
	Type    SystemActionType `json:"type" yaml:"type"`
	Title   string           `json:"title,omitempty" yaml:"title,omitempty"`
	Content string           `json:"content,omitempty" yaml:"content,omitempty"`
}
