// Package driver translates filesystem verbs into pCloud API command
// sequences. It sits between a generic synchronization engine and the api
// package: paths go in, one or more authenticated calls go out, and provider
// result codes come back as filesystem-level results ("not found" is a nil
// return, not an error).
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cloudsyncd/pcloudfs"
	"github.com/cloudsyncd/pcloudfs/api"
	"github.com/cloudsyncd/pcloudfs/delta"
	"github.com/cloudsyncd/pcloudfs/store"
	"github.com/cloudsyncd/pcloudfs/utils"
)

// file_open flags as defined by the provider.
const (
	flagWrite  = 0x0002
	flagCreate = 0x0040
)

const authKeyPrefix = "auth."

// Config configures a Driver.
type Config struct {
	// SyncTargetID scopes the persisted auth state in Store.
	SyncTargetID string

	// ClientID is the application identifier used when Client is not
	// supplied.
	ClientID string

	// Store, when set, persists the auth token on every refresh and is
	// read once at construction.
	Store store.Store

	// Fs is the local filesystem used for file-source uploads and
	// file-target downloads. Defaults to the OS filesystem.
	Fs afero.Fs

	Logger zerolog.Logger

	// Client overrides the internally constructed API client.
	Client *api.Client
}

// Driver is the filesystem-abstraction driver over the pCloud API.
type Driver struct {
	client *api.Client
	fs     afero.Fs
	log    zerolog.Logger
}

// New builds a Driver. Stored auth state is parsed defensively: an
// unreadable token is logged and treated as "no auth", never a construction
// failure.
func New(cfg Config) *Driver {
	client := cfg.Client
	if client == nil {
		client = api.New(api.WithClientID(cfg.ClientID), api.WithLogger(cfg.Logger))
	}
	d := &Driver{client: client, fs: cfg.Fs, log: cfg.Logger}
	if d.fs == nil {
		d.fs = afero.NewOsFs()
	}

	if cfg.Store != nil {
		key := authKeyPrefix + cfg.SyncTargetID
		client.SetTokenListener(func(tok *api.Token) {
			raw, err := api.EncodeToken(tok)
			if err == nil {
				err = cfg.Store.Put(key, raw)
			}
			if err != nil {
				d.log.Error().Err(err).Str("key", key).Msg("persisting auth state failed")
			}
		})

		raw, ok, err := cfg.Store.Get(key)
		if err != nil {
			d.log.Error().Err(err).Str("key", key).Msg("reading auth state failed, treating as logged out")
		} else if ok {
			tok, perr := api.ParseToken(raw)
			if perr != nil {
				d.log.Error().Err(perr).Str("key", key).Msg("stored auth state unreadable, treating as logged out")
			} else if tok != nil {
				client.SetAuth(tok)
			}
		}
	}
	return d
}

// Client exposes the underlying API client, e.g. for the login flow to call
// SetAuth after the code exchange.
func (d *Driver) Client() *api.Client { return d.client }

// Stat resolves path to its stat record. A path the provider does not know
// yields (nil, nil). The root is resolved via a shallow listing of "/".
func (d *Driver) Stat(ctx context.Context, path string) (*pcloudfs.FileStat, error) {
	if utils.IsRoot(path) {
		return d.statRoot(ctx)
	}
	path = utils.Normalize(path)

	q := url.Values{}
	q.Set("path", path)
	var out api.MetadataResult
	if _, err := d.client.DoJSON(ctx, http.MethodGet, "stat", q, nil, &out); err != nil {
		return nil, err
	}
	if api.IsNotFound(out.Result) || api.IsParentNotFound(out.Result) {
		return nil, nil
	}
	if out.Result != api.ResultOK {
		return nil, resultError(out.Result, "stat")
	}
	return toStat(out.Metadata, path), nil
}

func (d *Driver) statRoot(ctx context.Context) (*pcloudfs.FileStat, error) {
	q := url.Values{}
	q.Set("path", "/")
	q.Set("recursive", "0")
	q.Set("nofiles", "1")
	var out api.MetadataResult
	if _, err := d.client.DoJSON(ctx, http.MethodGet, "listfolder", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Result != api.ResultOK {
		return nil, resultError(out.Result, "listfolder")
	}
	st := &pcloudfs.FileStat{Path: "/", IsDir: true}
	if out.Metadata != nil {
		st.FolderID = out.Metadata.FolderID
	}
	return st, nil
}

// List returns the subtree under path. The recursion happens provider-side
// and the provider returns complete subtrees, so HasMore is always false.
// Listing a path that does not exist yet yields an empty item set.
func (d *Driver) List(ctx context.Context, path string, opts pcloudfs.ListOptions) (*pcloudfs.ListResult, error) {
	path = utils.Normalize(path)

	q := url.Values{}
	q.Set("path", path)
	if opts.Shallow {
		q.Set("recursive", "0")
	} else {
		q.Set("recursive", "1")
	}
	var out api.MetadataResult
	if _, err := d.client.DoJSON(ctx, http.MethodGet, "listfolder", q, nil, &out); err != nil {
		return nil, err
	}

	res := &pcloudfs.ListResult{Items: []pcloudfs.FileStat{}}
	if api.IsNotFound(out.Result) || api.IsParentNotFound(out.Result) {
		return res, nil
	}
	if out.Result != api.ResultOK {
		return nil, resultError(out.Result, "listfolder")
	}
	if out.Metadata != nil {
		res.Items = flatten(out.Metadata.Contents, res.Items)
	}
	return res, nil
}

func flatten(entries []api.Metadata, into []pcloudfs.FileStat) []pcloudfs.FileStat {
	for i := range entries {
		md := &entries[i]
		into = append(into, *toStat(md, md.Name))
		if len(md.Contents) > 0 {
			into = flatten(md.Contents, into)
		}
	}
	return into
}

// Get reads the content at path. With opts.Target set the content is
// streamed to that local path and nil content is returned; otherwise the
// remote file is opened, sized, and read into memory. A missing item yields
// (nil, nil).
func (d *Driver) Get(ctx context.Context, path string, opts pcloudfs.GetOptions) ([]byte, error) {
	path = utils.Normalize(path)
	if opts.Target != "" {
		return nil, d.getToFile(ctx, path, opts.Target)
	}

	fd, err := d.openFile(ctx, path, 0)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer d.closeFile(ctx, fd)

	size, ok := d.client.FileSize(ctx, fd)
	if !ok {
		return nil, fmt.Errorf("size query failed for %s", path)
	}

	q := url.Values{}
	q.Set("fd", strconv.FormatInt(fd, 10))
	q.Set("count", strconv.FormatInt(size, 10))
	resp, err := d.client.Do(ctx, http.MethodGet, "file_read", q, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (d *Driver) getToFile(ctx context.Context, path, target string) error {
	f, err := d.fs.Create(target)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	q := url.Values{}
	q.Set("path", path)
	if _, err := d.client.Do(ctx, http.MethodGet, "getfile", q, nil, &api.CallOptions{Target: f}); err != nil {
		if isNotFound(err) {
			_ = d.fs.Remove(target)
			return nil
		}
		return err
	}
	return nil
}

// Mkdir creates the directory at path. It is idempotent: an existing entry,
// regardless of type, is returned unchanged. Missing ancestors are NOT
// created here; only Put's recovery path does that.
func (d *Driver) Mkdir(ctx context.Context, path string) (*pcloudfs.FileStat, error) {
	path = utils.Normalize(path)

	existing, err := d.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	parent, err := d.Stat(ctx, utils.Parent(path))
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, resultError(api.CodeDirNotFound, "createfolderifnotexists")
	}
	return d.createFolder(ctx, parent.FolderID, utils.Base(path), path)
}

func (d *Driver) createFolder(ctx context.Context, parentID int64, name, path string) (*pcloudfs.FileStat, error) {
	q := url.Values{}
	q.Set("folderid", strconv.FormatInt(parentID, 10))
	q.Set("name", name)
	var out api.MetadataResult
	if _, err := d.client.DoJSON(ctx, http.MethodPost, "createfolderifnotexists", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Result != api.ResultOK {
		return nil, resultError(out.Result, "createfolderifnotexists")
	}
	return toStat(out.Metadata, path), nil
}

// createDirRecursively ensures every level of path exists, walking upward
// from the leaf and creating each missing level against its own parent's
// folder id. No metadata is cached beyond the recursive call chain.
func (d *Driver) createDirRecursively(ctx context.Context, path string) (*pcloudfs.FileStat, error) {
	if utils.IsRoot(path) {
		return &pcloudfs.FileStat{Path: "/", IsDir: true}, nil
	}
	path = utils.Normalize(path)

	existing, err := d.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	parent, err := d.createDirRecursively(ctx, utils.Parent(path))
	if err != nil {
		return nil, err
	}
	return d.createFolder(ctx, parent.FolderID, utils.Base(path), path)
}

// Put writes content to path, returning the number of bytes accepted. With
// opts.Source set the local file is streamed via the provider-native upload
// after the parent chain is ensured. Otherwise a write descriptor is opened;
// if the provider reports the parent missing, every absent ancestor is
// created and the whole Put is retried exactly once.
func (d *Driver) Put(ctx context.Context, path string, content []byte, opts pcloudfs.PutOptions) (int64, error) {
	path = utils.Normalize(path)
	if opts.Source != "" {
		return d.putFromFile(ctx, path, opts.Source)
	}
	return d.put(ctx, path, content, true)
}

func (d *Driver) put(ctx context.Context, path string, content []byte, createParents bool) (int64, error) {
	fd, err := d.openFile(ctx, path, flagCreate|flagWrite)
	if err != nil {
		if createParents && isParentNotFound(err) {
			if _, cerr := d.createDirRecursively(ctx, utils.Parent(path)); cerr != nil {
				return 0, cerr
			}
			return d.put(ctx, path, content, false)
		}
		return 0, err
	}
	defer d.closeFile(ctx, fd)

	q := url.Values{}
	q.Set("fd", strconv.FormatInt(fd, 10))
	var out api.FDResult
	if _, err := d.client.DoJSON(ctx, http.MethodPut, "file_write", q, content, &out); err != nil {
		return 0, err
	}
	if out.Result != api.ResultOK {
		return 0, resultError(out.Result, "file_write")
	}
	return out.Bytes, nil
}

func (d *Driver) putFromFile(ctx context.Context, path, source string) (int64, error) {
	parent, err := d.createDirRecursively(ctx, utils.Parent(path))
	if err != nil {
		return 0, err
	}

	f, err := d.fs.Open(source)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	q := url.Values{}
	q.Set("folderid", strconv.FormatInt(parent.FolderID, 10))
	q.Set("filename", utils.Base(path))
	opts := &api.CallOptions{Upload: &api.MultipartUpload{
		Filename: utils.Base(path),
		Content:  f,
		Size:     info.Size(),
	}}
	resp, err := d.client.Do(ctx, http.MethodPost, "uploadfile", q, nil, opts)
	if err != nil {
		return 0, err
	}

	var out struct {
		Result int `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return 0, &api.MalformedResponseError{Body: string(resp.Body), Err: err}
	}
	if out.Result != api.ResultOK {
		return 0, resultError(out.Result, "uploadfile")
	}
	return info.Size(), nil
}

// Delete removes the entry at path in a single call. Any non-OK result is
// fatal here; only an HTTP-level not-found on the DELETE verb is absorbed,
// and that happens inside the client.
func (d *Driver) Delete(ctx context.Context, path string) (*pcloudfs.FileStat, error) {
	path = utils.Normalize(path)

	q := url.Values{}
	q.Set("path", path)
	var out api.MetadataResult
	resp, err := d.client.DoJSON(ctx, http.MethodDelete, "deletefile", q, nil, &out)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		// the client absorbed an already-gone item
		return &pcloudfs.FileStat{Path: path, Deleted: true}, nil
	}
	if out.Result != api.ResultOK {
		return nil, resultError(out.Result, "deletefile")
	}
	st := toStat(out.Metadata, path)
	st.Deleted = true
	return st, nil
}

// Move is not implemented by this adapter.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	return pcloudfs.ErrNotSupported
}

// Format is not implemented by this adapter.
func (d *Driver) Format(ctx context.Context) error {
	return pcloudfs.ErrNotSupported
}

// FileExists reports whether path exists, using a shallow listing query.
// A missing ancestor means "does not exist"; any other non-OK result is an
// error.
func (d *Driver) FileExists(ctx context.Context, path string) (bool, error) {
	path = utils.Normalize(path)

	q := url.Values{}
	q.Set("path", path)
	q.Set("recursive", "0")
	q.Set("nofiles", "1")
	var out api.MetadataResult
	if _, err := d.client.DoJSON(ctx, http.MethodGet, "listfolder", q, nil, &out); err != nil {
		return false, err
	}
	if out.Result == api.ResultOK {
		return true, nil
	}
	if api.IsParentNotFound(out.Result) {
		return false, nil
	}
	return false, resultError(out.Result, "listfolder")
}

// Delta feeds this driver's listing into the shared change computation.
// Directories are excluded from the comparison set, so directory creation
// and deletion is not observed.
func (d *Driver) Delta(ctx context.Context, path string, since map[string]pcloudfs.FileStat) (*delta.Result, error) {
	lister := func(ctx context.Context, p string) ([]pcloudfs.FileStat, error) {
		res, err := d.List(ctx, p, pcloudfs.ListOptions{})
		if err != nil {
			return nil, err
		}
		var files []pcloudfs.FileStat
		for _, item := range res.Items {
			if item.IsDir {
				continue
			}
			files = append(files, item)
		}
		return files, nil
	}
	return delta.Compute(ctx, path, since, lister)
}

func (d *Driver) openFile(ctx context.Context, path string, flags int) (int64, error) {
	q := url.Values{}
	q.Set("path", path)
	q.Set("flags", strconv.Itoa(flags))
	var out api.FDResult
	if _, err := d.client.DoJSON(ctx, http.MethodGet, "file_open", q, nil, &out); err != nil {
		return 0, err
	}
	if out.Result != api.ResultOK {
		return 0, resultError(out.Result, "file_open")
	}
	return out.FD, nil
}

func (d *Driver) closeFile(ctx context.Context, fd int64) {
	q := url.Values{}
	q.Set("fd", strconv.FormatInt(fd, 10))
	var out struct {
		Result int `json:"result"`
	}
	if _, err := d.client.DoJSON(ctx, http.MethodGet, "file_close", q, nil, &out); err != nil {
		d.log.Debug().Err(err).Int64("fd", fd).Msg("closing remote descriptor failed")
	}
}

func resultError(code int, command string) error {
	return &api.ResponseError{Code: code, Message: command + " returned non-OK result"}
}

func isNotFound(err error) bool {
	var perr *api.ResponseError
	if errors.As(err, &perr) {
		return api.IsNotFound(perr.Code)
	}
	return false
}

func isParentNotFound(err error) bool {
	var perr *api.ResponseError
	if errors.As(err, &perr) {
		return api.IsParentNotFound(perr.Code)
	}
	return false
}
