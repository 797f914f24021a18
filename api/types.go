package api

// Metadata is the provider-native description of a file or folder. It is
// fetched per call and never cached across calls.
type Metadata struct {
	Name           string     `json:"name"`
	FolderID       int64      `json:"folderid,omitempty"`
	ParentFolderID int64      `json:"parentfolderid,omitempty"`
	FileID         int64      `json:"fileid,omitempty"`
	Size           int64      `json:"size,omitempty"`
	Created        string     `json:"created,omitempty"`
	Modified       string     `json:"modified,omitempty"`
	IsFolder       bool       `json:"isfolder"`
	IsDeleted      bool       `json:"isdeleted,omitempty"`
	Contents       []Metadata `json:"contents,omitempty"`
}

// MetadataResult is the response envelope of commands that return a single
// entry (stat, listfolder, createfolderifnotexists, deletefile).
type MetadataResult struct {
	Result   int       `json:"result"`
	Metadata *Metadata `json:"metadata"`
}

// FDResult is the response envelope of file_open and file_write.
type FDResult struct {
	Result int   `json:"result"`
	FD     int64 `json:"fd"`
	Bytes  int64 `json:"bytes"`
}

// errorEnvelope is the body shape of non-2xx responses.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
