package driver

import (
	"time"

	"github.com/cloudsyncd/pcloudfs"
	"github.com/cloudsyncd/pcloudfs/api"
)

// providerTimeFormat is the textual date format the provider reports
// timestamps in.
const providerTimeFormat = "Mon, 02 Jan 2006 15:04:05 -0700"

// toStat projects provider metadata onto the driver-facing stat record. The
// path is supplied by the caller; the provider only knows names and folder
// ids. Deleted entries carry no timestamps.
func toStat(md *api.Metadata, path string) *pcloudfs.FileStat {
	st := &pcloudfs.FileStat{
		Path:     path,
		IsDir:    md.IsFolder,
		FolderID: md.FolderID,
	}
	if md.IsDeleted {
		st.Deleted = true
		return st
	}
	st.Created = parseProviderTime(md.Created)
	st.Updated = parseProviderTime(md.Modified)
	return st
}

// parseProviderTime converts a provider date string to Unix milliseconds.
// Zero means absent or unparseable.
func parseProviderTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(providerTimeFormat, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
