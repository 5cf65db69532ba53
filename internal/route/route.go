// Package route defines the closed set of intents an inbound delivery can be
// classified into, and the Route record that drives dispatch.
package route

// ID identifies a classified intent.
type ID string

const (
	Unknown                     ID = "UNKNOWN"
	SlackURLValidation          ID = "SLACK_URL_VALIDATION"
	PlaygroundBusyboxJob        ID = "PLAYGROUND_BUSYBOX_JOB"
	MessageWithJiraTicket       ID = "MESSAGE_WITH_JIRA_TICKET"
	NetSuiteJob                 ID = "NET_SUITE_JOB"
	FromBot                     ID = "FROM_BOT"
	AppMention                  ID = "APP_MENTION"
	RegularMessage              ID = "REGULAR_MESSAGE"
	CICDApprovalRequest         ID = "CICD_APPROVAL_REQUEST"
	SlackSendMessageRequest     ID = "SLACK_SEND_MESSAGE_REQUEST"
	SSMSendCommandStatusRequest ID = "SSM_SEND_COMMAND_STATUS_REQUEST"
	CICDApprovalResponse        ID = "CICD_APPROVAL_RESPONSE"
	Command                     ID = "COMMAND"
)

var known = map[ID]bool{
	Unknown:                     true,
	SlackURLValidation:          true,
	PlaygroundBusyboxJob:        true,
	MessageWithJiraTicket:       true,
	NetSuiteJob:                 true,
	FromBot:                     true,
	AppMention:                  true,
	RegularMessage:              true,
	CICDApprovalRequest:         true,
	SlackSendMessageRequest:     true,
	SSMSendCommandStatusRequest: true,
	CICDApprovalResponse:        true,
	Command:                     true,
}

// Valid reports whether id belongs to the closed set.
func (id ID) Valid() bool { return known[id] }

func (id ID) String() string { return string(id) }

// Route is a classified intent plus the optional handler data a looked-up
// command carries. Records read from the lookup store are trusted verbatim.
type Route struct {
	Key             string         `json:"key" dynamodbav:"key"`
	LambdaTarget    string         `json:"lambdaTarget,omitempty" dynamodbav:"lambdaTarget,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	ResponseMessage string         `json:"responseMessage,omitempty" dynamodbav:"responseMessage,omitempty"`
}

// UnknownRoute is the universal default instance.
func UnknownRoute() Route {
	return Route{Key: string(Unknown)}
}

// IsUnknown reports whether r is the default route.
func (r Route) IsUnknown() bool {
	return r.Key == "" || r.Key == string(Unknown)
}
