// Package record holds the per-field extraction outcomes shared by the extractor,
// the validator and the uploader.
package record

// Outcome classifies how a field's value was obtained.
type Outcome int

const (
	// Value means Text holds a recognized value or status name.
	Value Outcome = iota
	// NotFound means the field produced no text or its crop was empty.
	NotFound
	// Corrupt means the ROI definition itself was malformed.
	Corrupt
	// Failed means recognition or matching raised an error.
	Failed
)

// String returns the display form used by the UI and the uploader.
func (o Outcome) String() string {
	switch o {
	case Value:
		return "OK"
	case NotFound:
		return "N/A"
	case Corrupt:
		return "Corrupt ROI"
	case Failed:
		return "Error"
	default:
		return "Unknown"
	}
}

// Field is one extracted ROI.
type Field struct {
	Name    string
	Outcome Outcome
	Text    string
}

// Display returns the text for Value outcomes and the sentinel string otherwise.
func (f Field) Display() string {
	if f.Outcome == Value {
		return f.Text
	}
	return f.Outcome.String()
}

// Valued builds a Value field.
func Valued(name, text string) Field { return Field{Name: name, Outcome: Value, Text: text} }

// Sentinel builds a non-value field.
func Sentinel(name string, o Outcome) Field { return Field{Name: name, Outcome: o} }
