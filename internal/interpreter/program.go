// internal/interpreter/program.go
package interpreter

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

type opKind uint8

const (
	// opStep runs a page action, data operation or system action.
	opStep opKind = iota
	// opBranch evaluates a condition and falls through into the then block,
	// or moves to target when the condition is false.
	opBranch
	// opGoto moves to target. It closes a then block and is not traced.
	opGoto
	opMarker
	opJump
)

// op is one entry of the linearized program. Condition blocks become
//
//	branch(else) then... goto(end) else... end:
//
// so nested instructions never recurse at run time.
type op struct {
	kind   opKind
	instr  *schemas.Instruction
	target int
	// seq numbers traced instructions in document order.
	seq int
}

// Program is a compiled scraper program.
type Program struct {
	ops     []op
	markers map[string]int
}

// Len returns the number of ops.
func (p *Program) Len() int { return len(p.ops) }

// scope is one instruction sequence: the top level or a then/else block.
type scope struct {
	id     int
	parent *scope
}

func (s *scope) within(other *scope) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.id == other.id {
			return true
		}
	}
	return false
}

type compiler struct {
	ops     []op
	markers map[string]int
	scopes  map[string]*scope
	jumps   []pendingJump
	nextID  int
	seq     int
	errs    []string
}

type pendingJump struct {
	at    int
	name  string
	scope *scope
	path  string
}

// Compile validates instructions and linearizes them. Jumps resolve to a
// marker in the same sequence or an enclosing one. Unknown and duplicate
// markers and jumps into sibling or nested blocks are errors.
func Compile(instructions []schemas.Instruction) (*Program, error) {
	c := &compiler{markers: make(map[string]int), scopes: make(map[string]*scope)}
	c.sequence(instructions, c.newScope(nil), "instructions")

	for _, j := range c.jumps {
		target, ok := c.markers[j.name]
		if !ok {
			c.errorf("%s: jump to unknown marker %q", j.path, j.name)
			continue
		}
		if !j.scope.within(c.scopes[j.name]) {
			c.errorf("%s: marker %q is not reachable from this block", j.path, j.name)
			continue
		}
		c.ops[j.at].target = target
	}

	if len(c.errs) > 0 {
		return nil, schemas.NewError(schemas.KindInvalidProgram, "%s", strings.Join(c.errs, "; "))
	}
	return &Program{ops: c.ops, markers: c.markers}, nil
}

func (c *compiler) newScope(parent *scope) *scope {
	c.nextID++
	return &scope{id: c.nextID, parent: parent}
}

func (c *compiler) errorf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

func (c *compiler) emit(o op) int {
	c.ops = append(c.ops, o)
	return len(c.ops) - 1
}

func (c *compiler) traced(kind opKind, instr *schemas.Instruction) int {
	at := c.emit(op{kind: kind, instr: instr, seq: c.seq})
	c.seq++
	return at
}

func (c *compiler) sequence(instructions []schemas.Instruction, sc *scope, path string) {
	for i := range instructions {
		instr := &instructions[i]
		p := fmt.Sprintf("%s[%d]", path, i)
		if err := validate(instr); err != nil {
			c.errorf("%s: %v", p, err)
			continue
		}

		switch instr.Type {
		case schemas.InstructionCondition:
			branch := c.traced(opBranch, instr)
			c.sequence(instr.Condition.Then, c.newScope(sc), p+".then")
			skip := c.emit(op{kind: opGoto})
			c.ops[branch].target = len(c.ops)
			c.sequence(instr.Condition.Else, c.newScope(sc), p+".else")
			c.ops[skip].target = len(c.ops)
		case schemas.InstructionMarker:
			name := instr.Marker.Name
			if _, dup := c.markers[name]; dup {
				c.errorf("%s: duplicate marker %q", p, name)
				continue
			}
			c.markers[name] = c.traced(opMarker, instr)
			c.scopes[name] = sc
		case schemas.InstructionJump:
			at := c.traced(opJump, instr)
			c.jumps = append(c.jumps, pendingJump{at: at, name: instr.Jump.MarkerName, scope: sc, path: p})
		default:
			c.traced(opStep, instr)
		}
	}
}

// validate checks that the variant matching Type is present and complete.
func validate(instr *schemas.Instruction) error {
	switch instr.Type {
	case schemas.InstructionPageAction:
		if instr.PageAction == nil {
			return fmt.Errorf("missing pageAction")
		}
		return validatePageAction(instr.PageAction)
	case schemas.InstructionCondition:
		if instr.Condition == nil {
			return fmt.Errorf("missing condition")
		}
		switch instr.Condition.Condition.Type {
		case schemas.ConditionIsVisible, schemas.ConditionTextEquals:
		default:
			return fmt.Errorf("unknown condition type %q", instr.Condition.Condition.Type)
		}
	case schemas.InstructionSaveData:
		if instr.SaveData == nil || !strings.Contains(instr.SaveData.DataKey, ".") {
			return fmt.Errorf("saveData needs a dataKey of the form alias.column")
		}
	case schemas.InstructionSaveDataBatch:
		if instr.SaveDataBatch == nil || instr.SaveDataBatch.DataSourceName == "" {
			return fmt.Errorf("saveDataBatch needs a dataSourceName")
		}
		if len(instr.SaveDataBatch.Items) == 0 {
			return fmt.Errorf("saveDataBatch has no items")
		}
	case schemas.InstructionDeleteData:
		if instr.DeleteData == nil || instr.DeleteData.DataSourceName == "" {
			return fmt.Errorf("deleteData needs a dataSourceName")
		}
	case schemas.InstructionMarker:
		if instr.Marker == nil || instr.Marker.Name == "" {
			return fmt.Errorf("marker needs a name")
		}
	case schemas.InstructionJump:
		if instr.Jump == nil || instr.Jump.MarkerName == "" {
			return fmt.Errorf("jump needs a markerName")
		}
	case schemas.InstructionSystemAction:
		if instr.SystemAction == nil {
			return fmt.Errorf("missing systemAction")
		}
		if instr.SystemAction.Type != schemas.SystemActionShowNotification {
			return fmt.Errorf("unknown system action %q", instr.SystemAction.Type)
		}
	default:
		return fmt.Errorf("unknown instruction type %q", instr.Type)
	}
	return nil
}

func validatePageAction(a *schemas.PageAction) error {
	if a.PageIndex < 0 {
		return fmt.Errorf("negative pageIndex %d", a.PageIndex)
	}
	needsSelectors := false
	switch a.Type {
	case schemas.PageActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("navigate needs a url")
		}
	case schemas.PageActionWait, schemas.PageActionScrollToTop, schemas.PageActionScrollToBottom, schemas.PageActionScreenshot:
	case schemas.PageActionClick, schemas.PageActionCheckError:
		needsSelectors = true
	case schemas.PageActionType_, schemas.PageActionSelect:
		needsSelectors = true
		if a.Value == nil {
			return fmt.Errorf("%s needs a value", a.Type)
		}
	default:
		return fmt.Errorf("unknown page action %q", a.Type)
	}
	if needsSelectors && len(a.Selectors) == 0 {
		return fmt.Errorf("%s needs selectors", a.Type)
	}
	return nil
}
