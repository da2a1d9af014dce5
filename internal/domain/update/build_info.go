package update

const (
	// ComponentBaseOS is the build info key of the root filesystem image.
	ComponentBaseOS = "base_os"
	// ComponentInitramfs is the build info key of the boot-time filesystem image.
	ComponentInitramfs = "initramfs"
)

// Component describes one installed image part.
type Component struct {
	// Name is the human-readable image name, also used as the platform prefix.
	Name string `json:"name"`
	// Time is the install timestamp in the YYYY-MM-DD_HH_MM format.
	Time string `json:"time"`
	// Hash is an optional content digest.
	Hash string `json:"md5,omitempty"`
	// Version is the installed release version for tag-based images.
	Version string `json:"version,omitempty"`
}

// BuildInfo maps component names to the installed metadata.
type BuildInfo map[string]Component

// Component returns the named component or a zero value.
func (b BuildInfo) Component(name string) Component {
	if b == nil {
		return Component{}
	}

	return b[name]
}

// Clone returns a copy so callers cannot alter the cached mapping.
func (b BuildInfo) Clone() BuildInfo {
	result := make(BuildInfo, len(b))
	for key, value := range b {
		result[key] = value
	}

	return result
}
