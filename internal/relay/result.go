// ABOUTME: Result envelope returned for every webhook delivery and outbound send
// ABOUTME: References record each side effect; errors accumulate without aborting

package relay

// SystemWhatsApp names the provider in result references.
const SystemWhatsApp = "WHATSAPP"

// Reference points at one side effect performed while handling a request.
type Reference struct {
	System    string `json:"system"`
	Reference string `json:"reference"`
}

// Result is the envelope returned to callers. Errors is omitted when empty.
type Result struct {
	References []Reference `json:"references"`
	Errors     []string    `json:"errors,omitempty"`
}

func newResult() *Result {
	return &Result{References: []Reference{}}
}

// OK reports whether no error was recorded.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

func (r *Result) addRef(system, ref string) {
	r.References = append(r.References, Reference{System: system, Reference: ref})
}

func (r *Result) addErr(err error) {
	r.Errors = append(r.Errors, err.Error())
}
