package directory

import (
	"encoding/json"

	"github.com/c0deZ3R0/dirsync/synckit"
)

type graphSignIn struct {
	ID                      string          `json:"id"`
	CreatedDateTime         string          `json:"createdDateTime"`
	UserDisplayName         *string         `json:"userDisplayName"`
	UserPrincipalName       *string         `json:"userPrincipalName"`
	UserID                  *string         `json:"userId"`
	AppID                   *string         `json:"appId"`
	AppDisplayName          *string         `json:"appDisplayName"`
	IPAddress               *string         `json:"ipAddress"`
	ClientAppUsed           *string         `json:"clientAppUsed"`
	CorrelationID           *string         `json:"correlationId"`
	ConditionalAccessStatus json.RawMessage `json:"conditionalAccessStatus"`
	IsInteractive           *bool           `json:"isInteractive"`
	RiskDetail              json.RawMessage `json:"riskDetail"`
	RiskLevelAggregated     json.RawMessage `json:"riskLevelAggregated"`
	RiskLevelDuringSignIn   json.RawMessage `json:"riskLevelDuringSignIn"`
	RiskState               json.RawMessage `json:"riskState"`
	ResourceDisplayName     *string         `json:"resourceDisplayName"`
	ResourceID              *string         `json:"resourceId"`
	Status                  *struct {
		ErrorCode         *int64  `json:"errorCode"`
		FailureReason     *string `json:"failureReason"`
		AdditionalDetails *string `json:"additionalDetails"`
	} `json:"status"`
}

// NormalizeSignIn maps a Graph sign-in event to the signin_logs document.
// Enumerations are stored as text, "None" when absent.
func NormalizeSignIn(raw json.RawMessage) (synckit.Record, error) {
	var s graphSignIn
	if err := decode(raw, &s); err != nil {
		return synckit.Record{}, err
	}
	if s.ID == "" {
		return synckit.Record{}, missing("id", "")
	}
	if err := instant("createdDateTime", s.ID, s.CreatedDateTime); err != nil {
		return synckit.Record{}, err
	}

	status := synckit.Document{
		"errorCode":         nil,
		"failureReason":     nil,
		"additionalDetails": nil,
	}
	if s.Status != nil {
		status["errorCode"] = integer(s.Status.ErrorCode)
		status["failureReason"] = str(s.Status.FailureReason)
		status["additionalDetails"] = str(s.Status.AdditionalDetails)
	}

	return synckit.Record{
		Key:       s.ID,
		Timestamp: s.CreatedDateTime,
		Doc: synckit.Document{
			"logId":                   s.ID,
			"createdDateTime":         s.CreatedDateTime,
			"userDisplayName":         str(s.UserDisplayName),
			"userPrincipalName":       str(s.UserPrincipalName),
			"userId":                  str(s.UserID),
			"appId":                   str(s.AppID),
			"appDisplayName":          str(s.AppDisplayName),
			"ipAddress":               str(s.IPAddress),
			"clientAppUsed":           str(s.ClientAppUsed),
			"correlationId":           str(s.CorrelationID),
			"conditionalAccessStatus": stringify(s.ConditionalAccessStatus),
			"isInteractive":           boolean(s.IsInteractive),
			"riskDetail":              stringify(s.RiskDetail),
			"riskLevelAggregated":     stringify(s.RiskLevelAggregated),
			"riskLevelDuringSignIn":   stringify(s.RiskLevelDuringSignIn),
			"riskState":               stringify(s.RiskState),
			"resourceDisplayName":     str(s.ResourceDisplayName),
			"resourceId":              str(s.ResourceID),
			"status":                  map[string]any(status),
		},
	}, nil
}
