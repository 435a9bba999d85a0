// Package events broadcasts file lifecycle activity to live WebSocket
// observers. Every connection is on the public channel; connections that prove
// an admin session may additionally join the privileged channel. Delivery is
// at-most-once with no acknowledgement, retry or replay.
package events

import "time"

// Type names an event on the wire.
type Type string

const (
	TypeFileAdded         Type = "file_added"
	TypeFileDeleted       Type = "file_deleted"
	TypeFileDownloaded    Type = "file_downloaded"
	TypeAdminNotification Type = "admin_notification"
	TypeStatus            Type = "status"
)

// Audience selects which connections receive an event.
type Audience int

const (
	// AudiencePublic reaches every connection, privileged ones included.
	AudiencePublic Audience = iota
	// AudiencePrivileged reaches only connections that joined the privileged channel.
	AudiencePrivileged
)

// routes fixes the audience of each event type. Download events carry client
// addresses and must never reach the public channel.
var routes = map[Type]Audience{
	TypeFileAdded:         AudiencePublic,
	TypeFileDeleted:       AudiencePublic,
	TypeFileDownloaded:    AudiencePrivileged,
	TypeAdminNotification: AudiencePrivileged,
}

// Event is the envelope sent to observers.
type Event struct {
	Type Type `json:"event"`
	Data any  `json:"data"`
}

// Audience returns the channel the event is routed to. Unknown types stay
// on the privileged channel.
func (e Event) Audience() Audience {
	if a, ok := routes[e.Type]; ok {
		return a
	}
	return AudiencePrivileged
}

// FileAddedData announces a newly published file.
type FileAddedData struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	HumanSize string    `json:"human_size"`
	Time      time.Time `json:"time"`
}

// FileDeletedData names a file that is no longer available.
type FileDeletedData struct {
	ID int64 `json:"id"`
}

// FileDownloadedData records a completed download and who made it.
type FileDownloadedData struct {
	Name          string    `json:"name"`
	ClientAddress string    `json:"client_address"`
	Time          time.Time `json:"time"`
}

// NotificationData is a free-form message for admins.
type NotificationData struct {
	Level   string `json:"type"`
	Message string `json:"message"`
}

// StatusData answers a connection that joined the privileged channel.
type StatusData struct {
	Message string `json:"message"`
}

// FileAdded builds the public event for a new file.
func FileAdded(id int64, name string, size int64, humanSize string, at time.Time) Event {
	return Event{Type: TypeFileAdded, Data: FileAddedData{ID: id, Name: name, Size: size, HumanSize: humanSize, Time: at}}
}

// FileDeleted builds the public event for a removed file.
func FileDeleted(id int64) Event {
	return Event{Type: TypeFileDeleted, Data: FileDeletedData{ID: id}}
}

// FileDownloaded builds the admin-only event for a completed download.
func FileDownloaded(name, clientAddress string, at time.Time) Event {
	return Event{Type: TypeFileDownloaded, Data: FileDownloadedData{Name: name, ClientAddress: clientAddress, Time: at}}
}

// Notification builds an admin-only message; level is "success", "info" or "error".
func Notification(level, message string) Event {
	return Event{Type: TypeAdminNotification, Data: NotificationData{Level: level, Message: message}}
}
