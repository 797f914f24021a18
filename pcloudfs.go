// Package pcloudfs provides a filesystem-style adapter over the pCloud HTTP
// API, intended to be consumed by a generic file-synchronization engine. The
// engine sees a small set of filesystem verbs (stat, list, get, put, mkdir,
// delete, delta); the adapter turns each verb into one or more authenticated
// API calls with retry, backoff, and error translation handled internally.
package pcloudfs

// FileStat is the normalized description of a remote entry. It is the only
// shape that crosses the driver boundary; provider-native metadata never
// does.
type FileStat struct {
	// Path is the logical path of the entry. For entries returned by List
	// it is the entry name as reported by the provider.
	Path string

	// IsDir reports whether the entry is a folder.
	IsDir bool

	// Deleted is set for entries the provider reports as deleted. Deleted
	// entries carry no timestamps.
	Deleted bool

	// Created and Updated are Unix-millisecond timestamps. Zero means the
	// provider did not report a value.
	Created int64
	Updated int64

	// FolderID is the provider's numeric key for folders, required by
	// folder-scoped commands. Zero is the root folder.
	FolderID int64
}

// ListResult is returned by Driver.List. The provider returns complete
// subtrees in a single response, so HasMore is always false.
type ListResult struct {
	Items   []FileStat
	HasMore bool
}

// ListOptions control a List call.
type ListOptions struct {
	// Shallow disables the provider-side recursion and lists only the
	// immediate children.
	Shallow bool
}

// GetOptions control a Get call. When Target is set the remote content is
// streamed to that local path and Get returns nil content.
type GetOptions struct {
	Target string
}

// PutOptions control a Put call. When Source is set the content argument is
// ignored and the local file at Source is streamed to the provider.
type PutOptions struct {
	Source string
}
