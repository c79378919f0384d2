package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// CaseOK is the completion case of a step that succeeded. A failed step
// completes with its error code instead (AMOUNT_MISMATCH, TENANT_MISMATCH, ...).
const CaseOK = "ok"

// TraceEvent is one entry of a scenario trace: a till operation being
// invoked, or the completion that answered it.
type TraceEvent struct {
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Args   interface{} `json:"args,omitempty"`
	Case   string      `json:"case,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Seq    int64       `json:"seq"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists invocations and completions in execution order, setup
	// steps included.
	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// Printed is everything the receipt printer produced.
	Printed string `json:"printed,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(action string, args map[string]interface{}, seq int64) {
	ev := TraceEvent{Type: EventInvocation, Action: action, Seq: seq}
	if len(args) > 0 {
		ev.Args = args
	}
	r.Trace = append(r.Trace, ev)
}

// AddCompletionTrace adds a completion to the trace.
func (r *Result) AddCompletionTrace(action, outputCase string, result interface{}, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventCompletion,
		Action: action,
		Case:   outputCase,
		Result: result,
		Seq:    seq,
	})
}

// Completions returns the completion events of action, in order.
func (r *Result) Completions(action string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventCompletion && ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}
