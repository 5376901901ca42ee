package api

import (
	"github.com/flaviostutz/sharedfs/reconcile"
)

// Request and response bodies, shared with the client package

type CreateRequest struct {
	Entry *CreateEntry `json:"fs_entry"`
}

type CreateEntry struct {
	Size  int     `json:"size"`
	Scope *string `json:"scope"`
}

type FSEntry struct {
	Name        string `json:"name"`
	Size        string `json:"size"`
	Scope       string `json:"scope"`
	Project     string `json:"project"`
	ProjectName string `json:"project_name,omitempty"`
}

type FSEntryResponse struct {
	Entry    FSEntry       `json:"fs_entry"`
	Failures []FailureView `json:"failures,omitempty"`
}

type FSEntriesResponse struct {
	Entries   []FSEntry                 `json:"fs_entries"`
	Integrity reconcile.IntegrityReport `json:"integrity"`
}

type InstanceEntry struct {
	ID string `json:"id"`
}

type InstanceEntryResponse struct {
	Entry InstanceEntry `json:"instance_entry"`
}

type InstanceEntriesResponse struct {
	Entries []InstanceEntry `json:"instance_entries"`
}

type NotificationResponse struct {
	Dispatched bool `json:"dispatched"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// FailureView is an attachment the engine could not apply
type FailureView struct {
	reconcile.Attachment
	Error string `json:"error"`
}

func failureViews(failures []reconcile.Failure) []FailureView {
	var views []FailureView
	for _, f := range failures {
		views = append(views, FailureView{Attachment: f.Attachment, Error: f.Err.Error()})
	}
	return views
}
