package taskname

const (
	// License lifecycle tasks
	LicenseStatusChanged = "license:status_changed"
	LicenseProvisioned   = "license:provisioned"

	// Activation tasks
	ActivationCreated     = "activation:created"
	ActivationDeactivated = "activation:deactivated"
)
