package types

import (
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Operation is a dot-namespaced action identifier such as "crm.contact.create"
type Operation string

const (
	OpCRMContactCreate     Operation = "crm.contact.create"
	OpCRMContactGet        Operation = "crm.contact.get"
	OpCRMContactUpdate     Operation = "crm.contact.update"
	OpCRMContactSearch     Operation = "crm.contact.search"
	OpHelpdeskTicketCreate Operation = "helpdesk.ticket.create"
	OpHelpdeskTicketGet    Operation = "helpdesk.ticket.get"
	OpHelpdeskTicketUpdate Operation = "helpdesk.ticket.update"
	OpCalendarEventCreate  Operation = "calendar.event.create"
	OpCalendarEventCancel  Operation = "calendar.event.cancel"
	OpCalendarEventList    Operation = "calendar.event.list"
	OpEmailMessageSend     Operation = "email.message.send"
	OpKnowledgeSearch      Operation = "knowledge.search"
	OpMessagingMessagePost Operation = "messaging.message.post"
)

var (
	ErrInvalidOperation = goerr.New("invalid operation format")
	ErrUnknownOperation = goerr.New("unknown operation")
)

type operationEntry struct {
	capability Capability
	action     string
}

// operationCatalog is the single source of truth for operation to capability
// bindings.
var operationCatalog = map[Operation]operationEntry{
	OpCRMContactCreate:     {CapabilityCRMContacts, "create_contact"},
	OpCRMContactGet:        {CapabilityCRMContacts, "get_contact"},
	OpCRMContactUpdate:     {CapabilityCRMContacts, "update_contact"},
	OpCRMContactSearch:     {CapabilityCRMContacts, "search_contacts"},
	OpHelpdeskTicketCreate: {CapabilityHelpdeskTickets, "create_ticket"},
	OpHelpdeskTicketGet:    {CapabilityHelpdeskTickets, "get_ticket"},
	OpHelpdeskTicketUpdate: {CapabilityHelpdeskTickets, "update_ticket"},
	OpCalendarEventCreate:  {CapabilityCalendarEvents, "create_event"},
	OpCalendarEventCancel:  {CapabilityCalendarEvents, "cancel_event"},
	OpCalendarEventList:    {CapabilityCalendarEvents, "list_events"},
	OpEmailMessageSend:     {CapabilityEmail, "send_email"},
	OpKnowledgeSearch:      {CapabilityKnowledgeSearch, "search_knowledge"},
	OpMessagingMessagePost: {CapabilityMessaging, "post_message"},
}

var operationPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// AllOperations returns every known operation sorted by name
func AllOperations() []Operation {
	ops := make([]Operation, 0, len(operationCatalog))
	for op := range operationCatalog {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// String returns the string representation of the operation
func (o Operation) String() string {
	return string(o)
}

// Validate checks that the operation is a non-empty, dot-namespaced, known
// identifier
func (o Operation) Validate() error {
	if !operationPattern.MatchString(string(o)) {
		return goerr.Wrap(ErrInvalidOperation, "operation must be dot-namespaced", goerr.V("operation", o))
	}
	if _, ok := operationCatalog[o]; !ok {
		return goerr.Wrap(ErrUnknownOperation, "operation is not in the catalog", goerr.V("operation", o))
	}
	return nil
}

// IsKnown reports whether the operation is in the catalog
func (o Operation) IsKnown() bool {
	_, ok := operationCatalog[o]
	return ok
}

// Capability returns the capability that owns the operation
func (o Operation) Capability() (Capability, bool) {
	entry, ok := operationCatalog[o]
	return entry.capability, ok
}

// Action returns the capability-scoped sub-identifier sent to providers,
// e.g. "create_contact" for "crm.contact.create"
func (o Operation) Action() string {
	return operationCatalog[o].action
}

// Namespace returns the first segment of the operation
func (o Operation) Namespace() string {
	ns, _, _ := strings.Cut(string(o), ".")
	return ns
}

// OperationsFor returns the catalog operations owned by a capability
func OperationsFor(c Capability) []Operation {
	var ops []Operation
	for _, op := range AllOperations() {
		if operationCatalog[op].capability == c {
			ops = append(ops, op)
		}
	}
	return ops
}
