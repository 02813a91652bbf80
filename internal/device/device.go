package device

import "strings"

// Device is a heated room as seen by the host: the control entity id and
// the room name used to look up its heating coefficients.
type Device struct {
	ID   string
	Name string
}

// New derives the room name from the control entity's display name.
func New(entityID, entityName, controlName string) *Device {
	return &Device{ID: entityID, Name: NameFromControlEntity(entityName, controlName)}
}

// NameFromControlEntity removes the control name from an entity display
// name, e.g. "Wiser Dining room" -> "Dining room".
func NameFromControlEntity(entityName, controlName string) string {
	if controlName != "" {
		entityName = strings.ReplaceAll(entityName, controlName, "")
	}
	return strings.TrimSpace(entityName)
}
