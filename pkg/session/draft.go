package session

// Trigger is the user action that may commit a draft.
type Trigger int

const (
	TriggerKeystroke Trigger = iota
	TriggerBlur
	TriggerEnter
)

// commits reports whether t ends editing. Enter inserts a line break in
// multiline fields, so only blur commits those.
func (t Trigger) commits(multiline bool) bool {
	switch t {
	case TriggerBlur:
		return true
	case TriggerEnter:
		return !multiline
	}
	return false
}

// Draft buffers an edit until it is committed or reverted.
type Draft struct {
	committed string
	value     string
}

// NewDraft starts a draft from the committed value.
func NewDraft(committed string) *Draft {
	return &Draft{committed: committed, value: committed}
}

// Set records a keystroke. Nothing is persisted.
func (d *Draft) Set(text string) { d.value = text }

func (d *Draft) Value() string     { return d.value }
func (d *Draft) Committed() string { return d.committed }
func (d *Draft) Dirty() bool       { return d.value != d.committed }

// Revert discards the buffered text.
func (d *Draft) Revert() { d.value = d.committed }

func (d *Draft) accept(v string) {
	d.committed = v
	d.value = v
}
