package directory

import (
	"encoding/json"

	"github.com/c0deZ3R0/dirsync/synckit"
)

type graphUser struct {
	ID                string   `json:"id"`
	DisplayName       *string  `json:"displayName"`
	Mail              *string  `json:"mail"`
	JobTitle          *string  `json:"jobTitle"`
	UserPrincipalName *string  `json:"userPrincipalName"`
	MobilePhone       *string  `json:"mobilePhone"`
	BusinessPhones    []string `json:"businessPhones"`
	GivenName         *string  `json:"givenName"`
	OfficeLocation    *string  `json:"officeLocation"`
	PreferredLanguage *string  `json:"preferredLanguage"`
	Surname           *string  `json:"surname"`
	AccountEnabled    *bool    `json:"accountEnabled"`
	UserType          *string  `json:"userType"`
}

// NormalizeUser maps a Graph user to the users document. mail is stored as
// email and businessPhones is always a list.
func NormalizeUser(raw json.RawMessage) (synckit.Record, error) {
	var u graphUser
	if err := decode(raw, &u); err != nil {
		return synckit.Record{}, err
	}
	if u.ID == "" {
		return synckit.Record{}, missing("id", "")
	}

	phones := make([]any, 0, len(u.BusinessPhones))
	for _, p := range u.BusinessPhones {
		phones = append(phones, p)
	}

	return synckit.Record{
		Key: u.ID,
		Doc: synckit.Document{
			"userId":            u.ID,
			"displayName":       str(u.DisplayName),
			"email":             str(u.Mail),
			"jobTitle":          str(u.JobTitle),
			"userPrincipalName": str(u.UserPrincipalName),
			"mobilePhone":       str(u.MobilePhone),
			"businessPhones":    phones,
			"givenName":         str(u.GivenName),
			"officeLocation":    str(u.OfficeLocation),
			"preferredLanguage": str(u.PreferredLanguage),
			"surname":           str(u.Surname),
			"accountEnabled":    boolean(u.AccountEnabled),
			"userType":          str(u.UserType),
		},
	}, nil
}
