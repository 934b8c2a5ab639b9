// Package validate checks a builder tree against the schema it claims to
// follow. Validation accumulates every nonconformance instead of stopping
// at the first.
package validate

import "fmt"

// Issue codes.
const (
	CodeDtype             = "incorrect_dtype"
	CodeMissing           = "missing"
	CodeMissingDataType   = "missing_data_type"
	CodeIncorrectQuantity = "incorrect_quantity"
	CodeExpectedArray     = "expected_array"
	CodeShape             = "incorrect_shape"
	CodeIllegalLink       = "illegal_link"
	CodeIncorrectDataType = "incorrect_data_type"
)

// Issue is one schema nonconformance found in a builder tree.
type Issue struct {
	// Code classifies the nonconformance.
	Code string
	// Name identifies the violated spec node, e.g. "Bar/attr1".
	Name string
	// Reason is the human-readable detail.
	Reason string
	// Location is the path of the offending builder, when known.
	Location string
}

func (i Issue) String() string {
	s := fmt.Sprintf("%s (%s): %s", i.Name, i.Code, i.Reason)
	if i.Location != "" {
		s += " at " + i.Location
	}
	return s
}

// Error lets an Issue travel as an error value.
func (i Issue) Error() string { return i.String() }

func dtypeIssue(name, expected, received, location string) Issue {
	return Issue{
		Code:     CodeDtype,
		Name:     name,
		Reason:   fmt.Sprintf("incorrect type: expected '%s', got '%s'", expected, received),
		Location: location,
	}
}

func missingIssue(name, location string) Issue {
	return Issue{
		Code:     CodeMissing,
		Name:     name,
		Reason:   "argument missing",
		Location: location,
	}
}

func missingDataTypeIssue(name, dataType, location string) Issue {
	return Issue{
		Code:     CodeMissingDataType,
		Name:     name,
		Reason:   fmt.Sprintf("missing data type %s", dataType),
		Location: location,
	}
}

func incorrectQuantityIssue(name, dataType string, expected, received int, location string) Issue {
	return Issue{
		Code:     CodeIncorrectQuantity,
		Name:     name,
		Reason:   fmt.Sprintf("expected a quantity of %d for data type %s, received %d", expected, dataType, received),
		Location: location,
	}
}

func expectedArrayIssue(name, expected string, received any, location string) Issue {
	return Issue{
		Code:     CodeExpectedArray,
		Name:     name,
		Reason:   fmt.Sprintf("incorrect shape: expected an array of shape '%s', got non-array data '%v'", expected, received),
		Location: location,
	}
}

func shapeIssue(name, expected string, received []int, location string) Issue {
	return Issue{
		Code:     CodeShape,
		Name:     name,
		Reason:   fmt.Sprintf("incorrect shape: expected '%s', got '%v'", expected, received),
		Location: location,
	}
}

func illegalLinkIssue(name, location string) Issue {
	return Issue{
		Code:     CodeIllegalLink,
		Name:     name,
		Reason:   "illegal use of link",
		Location: location,
	}
}

func incorrectDataTypeIssue(name, expected, received, location string) Issue {
	return Issue{
		Code:     CodeIncorrectDataType,
		Name:     name,
		Reason:   fmt.Sprintf("incorrect data type: expected '%s', got '%s'", expected, received),
		Location: location,
	}
}
