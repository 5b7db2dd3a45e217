package domain

// Settings is the process-wide configuration record. It is created with
// defaults on first run and mutated only by explicit user action.
type Settings struct {
	AutoDetection   bool `json:"autoDetection"`
	Notifications   bool `json:"notifications"`
	ExpiryReminders bool `json:"expiryReminders"`
}

// DefaultSettings returns the first-run configuration.
func DefaultSettings() Settings {
	return Settings{
		AutoDetection:   true,
		Notifications:   true,
		ExpiryReminders: true,
	}
}
