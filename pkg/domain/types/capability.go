package types

import "fmt"

// Capability is a category of action a provider can support
type Capability string

const (
	CapabilityCRMContacts     Capability = "CRM_CONTACTS"
	CapabilityHelpdeskTickets Capability = "HELPDESK_TICKETS"
	CapabilityCalendarEvents  Capability = "CALENDAR_EVENTS"
	CapabilityEmail           Capability = "EMAIL"
	CapabilityKnowledgeSearch Capability = "KNOWLEDGE_SEARCH"
	CapabilityMessaging       Capability = "MESSAGING"
)

// capabilityNamespaces maps each capability to the first segment of the
// operations it owns.
var capabilityNamespaces = map[Capability]string{
	CapabilityCRMContacts:     "crm",
	CapabilityHelpdeskTickets: "helpdesk",
	CapabilityCalendarEvents:  "calendar",
	CapabilityEmail:           "email",
	CapabilityKnowledgeSearch: "knowledge",
	CapabilityMessaging:       "messaging",
}

// AllCapabilities returns all valid capabilities
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityCRMContacts,
		CapabilityHelpdeskTickets,
		CapabilityCalendarEvents,
		CapabilityEmail,
		CapabilityKnowledgeSearch,
		CapabilityMessaging,
	}
}

// IsValid checks if the capability is one of the known values
func (c Capability) IsValid() bool {
	_, ok := capabilityNamespaces[c]
	return ok
}

// Namespace returns the operation namespace owned by the capability
func (c Capability) Namespace() string {
	return capabilityNamespaces[c]
}

// String returns the string representation of the capability
func (c Capability) String() string {
	return string(c)
}

// ParseCapability parses a string into a Capability
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid capability: %s", s)
	}
	return c, nil
}
