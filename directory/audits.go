package directory

import (
	"encoding/json"

	"github.com/c0deZ3R0/dirsync/synckit"
)

type graphAudit struct {
	ID                  string  `json:"id"`
	Category            *string `json:"category"`
	ActivityDateTime    string  `json:"activityDateTime"`
	ActivityDisplayName *string `json:"activityDisplayName"`
	OperationType       *string `json:"operationType"`
	InitiatedBy         *struct {
		App *struct {
			AppID                *string `json:"appId"`
			DisplayName          *string `json:"displayName"`
			ServicePrincipalID   *string `json:"servicePrincipalId"`
			ServicePrincipalName *string `json:"servicePrincipalName"`
		} `json:"app"`
		User *struct {
			ID                *string `json:"id"`
			DisplayName       *string `json:"displayName"`
			UserPrincipalName *string `json:"userPrincipalName"`
			IPAddress         *string `json:"ipAddress"`
		} `json:"user"`
	} `json:"initiatedBy"`
	TargetResources []struct {
		ID                 *string `json:"id"`
		DisplayName        *string `json:"displayName"`
		Type               *string `json:"type"`
		ModifiedProperties []struct {
			DisplayName *string `json:"displayName"`
			OldValue    *string `json:"oldValue"`
			NewValue    *string `json:"newValue"`
		} `json:"modifiedProperties"`
	} `json:"targetResources"`
	AdditionalDetails []struct {
		Key   *string         `json:"key"`
		Value json.RawMessage `json:"value"`
	} `json:"additionalDetails"`
}

// NormalizeAudit maps a Graph directory audit to the audit_logs document.
// Lists are always present, empty when the source omits them.
func NormalizeAudit(raw json.RawMessage) (synckit.Record, error) {
	var a graphAudit
	if err := decode(raw, &a); err != nil {
		return synckit.Record{}, err
	}
	if a.ID == "" {
		return synckit.Record{}, missing("id", "")
	}
	if err := instant("activityDateTime", a.ID, a.ActivityDateTime); err != nil {
		return synckit.Record{}, err
	}

	app := map[string]any{
		"appId":                nil,
		"displayName":          nil,
		"servicePrincipalId":   nil,
		"servicePrincipalName": nil,
	}
	initiatedBy := map[string]any{"app": app, "user": nil}
	if a.InitiatedBy != nil {
		if in := a.InitiatedBy.App; in != nil {
			app["appId"] = str(in.AppID)
			app["displayName"] = str(in.DisplayName)
			app["servicePrincipalId"] = str(in.ServicePrincipalID)
			app["servicePrincipalName"] = str(in.ServicePrincipalName)
		}
		if u := a.InitiatedBy.User; u != nil {
			initiatedBy["user"] = map[string]any{
				"id":                str(u.ID),
				"displayName":       str(u.DisplayName),
				"userPrincipalName": str(u.UserPrincipalName),
				"ipAddress":         str(u.IPAddress),
			}
		}
	}

	targets := make([]any, 0, len(a.TargetResources))
	for _, r := range a.TargetResources {
		props := make([]any, 0, len(r.ModifiedProperties))
		for _, p := range r.ModifiedProperties {
			props = append(props, map[string]any{
				"displayName": str(p.DisplayName),
				"oldValue":    str(p.OldValue),
				"newValue":    str(p.NewValue),
			})
		}
		targets = append(targets, map[string]any{
			"id":                 str(r.ID),
			"displayName":        str(r.DisplayName),
			"type":               str(r.Type),
			"modifiedProperties": props,
		})
	}

	details := make([]any, 0, len(a.AdditionalDetails))
	for _, d := range a.AdditionalDetails {
		details = append(details, map[string]any{
			"key":   str(d.Key),
			"value": jsonValue(d.Value),
		})
	}

	return synckit.Record{
		Key:       a.ID,
		Timestamp: a.ActivityDateTime,
		Doc: synckit.Document{
			"logId":               a.ID,
			"category":            str(a.Category),
			"activityDateTime":    a.ActivityDateTime,
			"activityDisplayName": str(a.ActivityDisplayName),
			"operationType":       str(a.OperationType),
			"initiatedBy":         initiatedBy,
			"targetResources":     targets,
			"additionalDetails":   details,
		},
	}, nil
}
