package policy

// IOFunctions are the script builtins that touch the file system.
var IOFunctions = []string{
	"io.read",
	"io.write",
	"io.append",
	"io.exists",
	"io.remove",
}

// StandardSystemProperties are the platform properties that describe the
// runtime without exposing anything about the user or the machine's files.
var StandardSystemProperties = []string{
	"os.name",
	"os.arch",
	"os.version",
	"os.family",
	"file.separator",
	"path.separator",
	"line.separator",
	"luaguard.version",
}

// DefaultClasses are value classes that every script may use freely.
var DefaultClasses = []string{
	"luaguard.ScriptError:*",
	"time.Time:*",
	"time.Duration:*",
}

// Preset names accepted by ApplyPreset and by policy files.
const (
	PresetRejectIOFunctions        = "reject_io_functions"
	PresetStandardSystemProperties = "standard_system_properties"
	PresetDefaultClasses           = "default_classes"
)

// RejectAllIOFunctions blacklists every io builtin.
func (b *Builder) RejectAllIOFunctions() *Builder {
	return b.RejectFunctions(IOFunctions...)
}

// WithStandardSystemProperties allows the standard platform properties.
func (b *Builder) WithStandardSystemProperties() *Builder {
	return b.AddSystemPropertyRules(StandardSystemProperties...)
}

// WithDefaultClasses allows the default value classes.
func (b *Builder) WithDefaultClasses() *Builder {
	return b.AddClassRules(DefaultClasses...)
}

// ApplyPreset applies a preset by name. Unknown names are recorded and
// reported by Build.
func (b *Builder) ApplyPreset(name string) *Builder {
	switch name {
	case PresetRejectIOFunctions:
		return b.RejectAllIOFunctions()
	case PresetStandardSystemProperties:
		return b.WithStandardSystemProperties()
	case PresetDefaultClasses:
		return b.WithDefaultClasses()
	}
	c := b.clone()
	c.pending = append(c.pending, &BuildError{Rule: "preset:" + name, Reason: "unknown preset"})
	return c
}

// Presets lists the preset names ApplyPreset accepts.
func Presets() []string {
	return []string{PresetRejectIOFunctions, PresetStandardSystemProperties, PresetDefaultClasses}
}
