package recovery

import (
	"fmt"
	"strings"
)

// The request translator inserts ToolRecoveryText as a standalone error
// tool-result immediately before the client's own result for the same id,
// and ContentRecoveryText as a user message after the truncated reply.

// The synthetic texts below are deliberately generic. They must tell the
// model what happened and that it should adapt, without prescribing any
// particular remediation: remediation hints train the model into loops on
// tasks where the hint does not apply.

// ContentRecoveryText is injected as a user message when the previous
// assistant reply was cut off. Byte-identical across calls.
const ContentRecoveryText = "[System Notice] Your previous reply was truncated by the upstream api output size limit before it finished. The cutoff is not your fault. Continue from where the reply stopped and adapt to the missing tail."

// ToolRecoveryText renders the synthetic tool-result body for one truncated
// tool call. Deterministic for a given record.
func ToolRecoveryText(rec *ToolTruncation) string {
	var b strings.Builder
	b.WriteString("[API Limitation] ")
	if rec.Name != "" {
		fmt.Fprintf(&b, "The output of the %q tool call was truncated by the upstream api because of its output size limits. ", rec.Name)
	} else {
		b.WriteString("The previous tool output was truncated by the upstream api because of its output size limits. ")
	}
	b.WriteString("Any error reported for this call is likely a consequence of that truncation rather than of the call itself. ")
	b.WriteString("Do not repeat the call expecting a different outcome; adapt your approach to the output that actually arrived.")
	return b.String()
}
