// Package directory maps Microsoft Graph directory resources to stored
// documents and declares the streams that mirror them.
package directory

import (
	"time"

	"github.com/c0deZ3R0/dirsync/synckit"
)

// Stream types, also the keys of the watermark rows.
const (
	StreamUsers   = "users"
	StreamSignIns = "sign_in_logs"
	StreamAudits  = "audit_logs"
)

// Collections.
const (
	CollectionUsers   = "users"
	CollectionSignIns = "signin_logs"
	CollectionAudits  = "audit_logs"
)

// UserSelect is the $select projection of the users stream.
var UserSelect = []string{
	"businessPhones", "displayName", "givenName", "jobTitle", "mail",
	"mobilePhone", "officeLocation", "preferredLanguage", "surname",
	"userPrincipalName", "id", "accountEnabled", "userType",
}

// Options tune the stream catalog.
type Options struct {
	// PageSize is sent as $top. Zero leaves the server default.
	PageSize int

	// UsersPageDelay is waited between pages of the users stream.
	UsersPageDelay time.Duration
}

// DefaultOptions wait one second between pages of users.
var DefaultOptions = Options{UsersPageDelay: time.Second}

// Streams returns users, sign-in events and audit events, in run order.
func Streams(opts Options) []*synckit.Stream {
	return []*synckit.Stream{
		UsersStream(opts),
		SignInsStream(opts),
		AuditsStream(opts),
	}
}

// UsersStream is a full-fetch entity stream reconciled field by field.
func UsersStream(opts Options) *synckit.Stream {
	return &synckit.Stream{
		Type:       StreamUsers,
		Endpoint:   "/users",
		Select:     UserSelect,
		PageSize:   opts.PageSize,
		Collection: CollectionUsers,
		KeyField:   "userId",
		Normalizer: synckit.NormalizerFunc(NormalizeUser),
		Policy:     synckit.DiffUpsert,
		PageDelay:  opts.UsersPageDelay,
	}
}

// SignInsStream is an incremental event stream over sign-in activity.
func SignInsStream(opts Options) *synckit.Stream {
	return &synckit.Stream{
		Type:           StreamSignIns,
		Endpoint:       "/auditLogs/signIns",
		PageSize:       opts.PageSize,
		TimestampField: "createdDateTime",
		Collection:     CollectionSignIns,
		KeyField:       "logId",
		Normalizer:     synckit.NormalizerFunc(NormalizeSignIn),
		Policy:         synckit.AppendUpsert,
	}
}

// AuditsStream is an incremental event stream over directory audits.
func AuditsStream(opts Options) *synckit.Stream {
	return &synckit.Stream{
		Type:           StreamAudits,
		Endpoint:       "/auditLogs/directoryAudits",
		PageSize:       opts.PageSize,
		TimestampField: "activityDateTime",
		Collection:     CollectionAudits,
		KeyField:       "logId",
		Normalizer:     synckit.NormalizerFunc(NormalizeAudit),
		Policy:         synckit.AppendUpsert,
	}
}
