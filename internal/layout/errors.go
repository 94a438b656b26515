package layout

import "fmt"

// PlacementRule 标识被违反的放置规则。
type PlacementRule string

const (
	RuleValidParent  PlacementRule = "valid-parent"
	RuleInvalidChild PlacementRule = "invalid-child"
	RuleMaxPerPage   PlacementRule = "max-per-page"
)

// PlacementError 表示一次被注册表规则拒绝的移动；树保持不变。
// Message 面向最终用户，直接用于提示。
type PlacementError struct {
	Rule    PlacementRule
	Kind    Kind
	Parent  string
	Message string
}

func (e *PlacementError) Error() string {
	return e.Message
}

func validParentError(kind Kind, parent string, allowed []string) *PlacementError {
	msg := fmt.Sprintf("%q cannot be placed inside %q", kind, parent)
	if len(allowed) == 1 && allowed[0] == ParentPage {
		msg = fmt.Sprintf("%q is only placeable directly on a page", kind)
	}
	return &PlacementError{Rule: RuleValidParent, Kind: kind, Parent: parent, Message: msg}
}

func slotError(kind Kind, slot Slot) *PlacementError {
	return &PlacementError{
		Rule:    RuleValidParent,
		Kind:    kind,
		Parent:  string(slot),
		Message: fmt.Sprintf("only a %q component can occupy the page %s slot, got %q", slot, slot, kind),
	}
}

func invalidChildError(kind Kind, container Kind) *PlacementError {
	return &PlacementError{
		Rule:    RuleInvalidChild,
		Kind:    kind,
		Parent:  string(container),
		Message: fmt.Sprintf("%q cannot be nested inside %q", kind, container),
	}
}

func maxPerPageError(kind Kind, limit, page int) *PlacementError {
	return &PlacementError{
		Rule:    RuleMaxPerPage,
		Kind:    kind,
		Parent:  ParentPage,
		Message: fmt.Sprintf("%q is limited to %d per page and page %d already has it", kind, limit, page+1),
	}
}
