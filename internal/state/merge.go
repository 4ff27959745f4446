package state

// Namespace names, used for write channels and logging.
const (
	NSRaw        = "raw"
	NSParsed     = "parsed"
	NSVendor     = "vendor"
	NSFlags      = "flags"
	NSRetrieved  = "retrieved"
	NSMatch      = "match"
	NSCheckpoint = "checkpoint"
	NSHuman      = "human"
	NSReconcile  = "reconcile"
	NSApproval   = "approval"
	NSPosting    = "posting"
	NSNotify     = "notify"
	NSFinal      = "final"
)

// Update is the partial result of one stage. Nil namespaces are left as-is.
type Update struct {
	Status *string
	Logs   []LogEntry

	Raw        *Raw
	Parsed     *Parsed
	Vendor     *Vendor
	Flags      *Flags
	Retrieved  *Retrieved
	Match      *Match
	Checkpoint *Checkpoint
	Human      *Human
	Reconcile  *Reconcile
	Approval   *Approval
	Posting    *Posting
	Notify     *Notify
	Final      *Final
}

// WithStatus sets the status tag on the update.
func (u Update) WithStatus(status string) Update {
	u.Status = &status
	return u
}

// Log appends an audit entry to the update.
func (u *Update) Log(stage, action string, detail map[string]any) {
	u.Logs = append(u.Logs, LogEntry{Stage: stage, Action: action, Detail: detail})
}

// Merge applies u to s. Present namespaces replace the existing value
// wholesale; absent ones are preserved. Logs are appended.
func Merge(s *WorkflowState, u Update) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if len(u.Logs) > 0 {
		s.Logs = append(s.Logs, u.Logs...)
	}
	if u.Raw != nil {
		s.Raw = u.Raw
	}
	if u.Parsed != nil {
		s.Parsed = u.Parsed
	}
	if u.Vendor != nil {
		s.Vendor = u.Vendor
	}
	if u.Flags != nil {
		s.Flags = u.Flags
	}
	if u.Retrieved != nil {
		s.Retrieved = u.Retrieved
	}
	if u.Match != nil {
		s.Match = u.Match
	}
	if u.Checkpoint != nil {
		s.Checkpoint = u.Checkpoint
	}
	if u.Human != nil {
		s.Human = u.Human
	}
	if u.Reconcile != nil {
		s.Reconcile = u.Reconcile
	}
	if u.Approval != nil {
		s.Approval = u.Approval
	}
	if u.Posting != nil {
		s.Posting = u.Posting
	}
	if u.Notify != nil {
		s.Notify = u.Notify
	}
	if u.Final != nil {
		s.Final = u.Final
	}
}

// Touched returns the namespaces present in u, in declaration order,
// paired with their values.
func (u Update) Touched() []NamespaceValue {
	var out []NamespaceValue
	add := func(name string, present bool, v any) {
		if present {
			out = append(out, NamespaceValue{Name: name, Value: v})
		}
	}
	add(NSRaw, u.Raw != nil, u.Raw)
	add(NSParsed, u.Parsed != nil, u.Parsed)
	add(NSVendor, u.Vendor != nil, u.Vendor)
	add(NSFlags, u.Flags != nil, u.Flags)
	add(NSRetrieved, u.Retrieved != nil, u.Retrieved)
	add(NSMatch, u.Match != nil, u.Match)
	add(NSCheckpoint, u.Checkpoint != nil, u.Checkpoint)
	add(NSHuman, u.Human != nil, u.Human)
	add(NSReconcile, u.Reconcile != nil, u.Reconcile)
	add(NSApproval, u.Approval != nil, u.Approval)
	add(NSPosting, u.Posting != nil, u.Posting)
	add(NSNotify, u.Notify != nil, u.Notify)
	add(NSFinal, u.Final != nil, u.Final)
	return out
}

// NamespaceValue pairs a namespace name with the value written to it.
type NamespaceValue struct {
	Name  string
	Value any
}
