package domain

// Snapshot is the decision-relevant state of one validation request, read
// from the paused validation service right after the validation method returned.
type Snapshot struct {
	IsValid                  bool   `json:"is_valid"`
	AreEntitlementsValidated bool   `json:"are_entitlements_validated"`
	Path                     string `json:"path"`
	CDHash                   string `json:"cdhash"`

	// Unverified fields come from the code signature before it was validated.
	// They are for diagnostics and custom checks only.
	Unverified Unverified `json:"unverified"`
}

// Unverified holds identity claims that must never grant access on their own.
type Unverified struct {
	Identifier     string `json:"identifier"`
	TeamIdentifier string `json:"team_identifier"`
}

// Field returns the snapshot value addressed by a clause field name.
// Unknown names return ok=false.
func (s *Snapshot) Field(name string) (value string, ok bool) {
	switch name {
	case "path":
		return s.Path, true
	case "cdhash":
		return s.CDHash, true
	case "is_valid":
		return boolString(s.IsValid), true
	case "are_entitlements_validated", "entitlements_validated":
		return boolString(s.AreEntitlementsValidated), true
	case "identifier", "unverified.identifier":
		return s.Unverified.Identifier, true
	case "team_identifier", "unverified.team_identifier":
		return s.Unverified.TeamIdentifier, true
	}
	return "", false
}

// IsIdentityField reports whether a clause field name identifies the code
// being validated. The verdict flags do not: is_valid is always false by the
// time a custom check runs.
func IsIdentityField(name string) bool {
	return name == "path" || name == "cdhash"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
