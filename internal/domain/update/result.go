package update

// InitramfsCheck is the response of the initramfs check operation.
type InitramfsCheck struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// InitramfsUpdate is the response of the initramfs update operation.
// A nil Updated means there is no local initramfs to update.
type InitramfsUpdate struct {
	Updated *bool  `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// SquashfsCheck is the response of the root filesystem check operation.
type SquashfsCheck struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// SquashfsUpdate is the response of the root filesystem update operation.
// A nil NewVersion means nothing was staged.
type SquashfsUpdate struct {
	NewVersion *string `json:"new_version"`
	Error      string  `json:"error,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
