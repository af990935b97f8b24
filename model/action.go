package model

// Action names a post-selection step.
type Action string

const (
	ActionNavigate            Action = "navigate"
	ActionDownloadAttachments Action = "download-attachments"
	ActionDownloadMail        Action = "download-mail"
	ActionExec                Action = "exec"
	ActionOpen                Action = "open"
)

// Actions lists every known action in CLI order.
var Actions = []Action{
	ActionNavigate,
	ActionDownloadAttachments,
	ActionDownloadMail,
	ActionExec,
	ActionOpen,
}

// ActionOutcome records what a single action did. Items holds opened links
// or written paths; Err is empty on success.
type ActionOutcome struct {
	Action Action   `json:"action"`
	OK     bool     `json:"ok"`
	Items  []string `json:"items,omitempty"`
	Err    string   `json:"error,omitempty"`
}

// ActionResult summarizes a message together with the actions run on it.
type ActionResult struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	Subject   string          `json:"subject"`
	From      string          `json:"from"`
	To        []string        `json:"to"`
	Performed []ActionOutcome `json:"performed"`
}
