package stamp

import (
	"strings"

	"github.com/kokistudios/modelstamp/internal/alias"
)

// ControlTokens are message bodies the host uses for liveness signalling.
// They are never stamped.
var ControlTokens = []string{"HEARTBEAT_OK"}

func isControl(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, tok := range ControlTokens {
		if trimmed == tok {
			return true
		}
	}
	return false
}

// ApplyPolicy attaches a rendered prefix to text the way the patched host
// does. prefix is the effective response prefix after token substitution:
// with the append-mode literal it is appended on its own line, otherwise it
// is prepended with a space. Applying the policy twice is a no-op.
func ApplyPolicy(text, prefix string) string {
	if prefix == "" || text == "" || isControl(text) {
		return text
	}
	if IsAppendMode(prefix) {
		suffix := strings.TrimPrefix(prefix, alias.AppendModePrefix)
		if suffix == "" || strings.HasSuffix(text, suffix) {
			return text
		}
		return text + "\n" + suffix
	}
	if strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + " " + text
}
