package build

// ProfileRepository resolves image profiles by name.
type ProfileRepository interface {
	Get(name string) (Profile, error)
	// ListAll returns the known profile names in sorted order.
	ListAll() ([]string, error)
}
