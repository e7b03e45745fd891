package bundle

// Family identifies a class of host bundle that receives its own patch rules.
type Family string

const (
	ReplyPath        Family = "reply-path"
	EmbeddedRuntime  Family = "embedded-runtime"
	SubagentRegistry Family = "subagent-registry"
)

// FamilySpec pairs a family with the glob its file names follow. Bundle
// names carry a content hash, so only the stem is stable across releases.
type FamilySpec struct {
	Family  Family
	Pattern string
}

// Families lists every family in the order they are processed.
var Families = []FamilySpec{
	{Family: ReplyPath, Pattern: "reply-*.js"},
	{Family: EmbeddedRuntime, Pattern: "pi-embedded-*.js"},
	{Family: SubagentRegistry, Pattern: "subagent-registry-*.js"},
}

// Patterns returns the glob of every family.
func Patterns() []string {
	out := make([]string, len(Families))
	for i, f := range Families {
		out[i] = f.Pattern
	}
	return out
}
