// Package publish uploads build output to an S3-compatible bucket.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/fsutil"
)

// HashMetadataKey is the object metadata entry holding the SHA-256 of the
// uploaded content.
const HashMetadataKey = "sha256"

// DefaultConcurrency is the number of parallel uploads.
const DefaultConcurrency = 4

// Client is the subset of *s3.Client used by Publisher.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures a Publisher.
type Options struct {
	Bucket string

	// Prefix is prepended to every key.
	Prefix string

	// Root is the directory keys are relative to.
	Root string

	// CacheControl is set on every object when not empty.
	CacheControl string

	// Force uploads objects whose content hash already matches.
	Force bool

	// Concurrency defaults to DefaultConcurrency.
	Concurrency int

	Logger *slog.Logger

	// OnUpload is called after every upload attempt.
	OnUpload func(key string, err error)
}

// Publisher uploads files to a bucket.
type Publisher struct {
	client Client
	opts   Options
}

// New creates a Publisher.
func New(client Client, opts Options) *Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{client: client, opts: opts}
}

type object struct {
	path string
	key  string
}

// Publish uploads every regular file under paths (files or directories,
// relative to Root). Objects whose stored hash matches the local content
// are skipped. Result.Files lists the uploaded keys.
func (p *Publisher) Publish(ctx context.Context, paths ...string) compile.Result {
	start := time.Now()

	if p.opts.Bucket == "" {
		return finish(compile.Failed(errors.New(errors.CodePublish).
			WithDetail("no bucket configured").
			WithSuggestion("Set publish.bucket in assetrun.json or ASSETRUN_PUBLISH_BUCKET")), start)
	}

	objects, err := p.collect(paths)
	if err != nil {
		return finish(compile.Failed(errors.FromError(err, errors.CodePublish)), start)
	}

	var (
		mu       sync.Mutex
		merr     *multierror.Error
		uploaded []string
		skipped  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, obj := range objects {
		g.Go(func() error {
			sent, err := p.upload(gctx, obj)
			if p.opts.OnUpload != nil && (sent || err != nil) {
				p.opts.OnUpload(obj.key, err)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				p.opts.Logger.Error("upload failed", "key", obj.key, "error", err)
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", obj.key, err))
			case sent:
				uploaded = append(uploaded, obj.key)
			default:
				skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(uploaded)
	if merr != nil {
		return finish(compile.Result{
			Status: compile.Failure,
			Err: errors.New(errors.CodePublish).
				WithDetailf("%d of %d objects failed", len(merr.Errors), len(objects)).
				Wrap(merr.ErrorOrNil()),
			Files: uploaded,
		}, start)
	}

	summary := fmt.Sprintf("uploaded %d, unchanged %d", len(uploaded), skipped)
	p.opts.Logger.Info("published", "bucket", p.opts.Bucket, "uploaded", len(uploaded), "unchanged", skipped)
	return finish(compile.Succeeded(summary, uploaded...), start)
}

func (p *Publisher) collect(paths []string) ([]object, error) {
	seen := make(map[string]bool)
	var objects []object

	add := func(file string) error {
		if seen[file] {
			return nil
		}
		seen[file] = true
		rel, err := filepath.Rel(p.opts.Root, file)
		if err != nil {
			return err
		}
		objects = append(objects, object{path: file, key: p.key(rel)})
		return nil
	}

	for _, raw := range paths {
		full := fsutil.Resolve(p.opts.Root, raw)
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				p.opts.Logger.Warn("nothing to publish", "path", raw)
				continue
			}
			return nil, err
		}
		if !info.IsDir() {
			if err := add(full); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(full, func(file string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return add(file)
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].key < objects[j].key })
	return objects, nil
}

func (p *Publisher) key(rel string) string {
	return path.Join(p.opts.Prefix, filepath.ToSlash(rel))
}

// upload sends one object and reports whether it was sent.
func (p *Publisher) upload(ctx context.Context, obj object) (bool, error) {
	data, err := os.ReadFile(obj.path)
	if err != nil {
		return false, err
	}
	sum := fsutil.HashBytes(data)

	if !p.opts.Force {
		head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(p.opts.Bucket),
			Key:    aws.String(obj.key),
		})
		// A failed HEAD (usually 404) means the object must be sent.
		if err == nil && head.Metadata[HashMetadataKey] == sum {
			p.opts.Logger.Debug("unchanged", "key", obj.key)
			return false, nil
		}
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(obj.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType(obj.path)),
		Metadata:    map[string]string{HashMetadataKey: sum},
	}
	if p.opts.CacheControl != "" {
		in.CacheControl = aws.String(p.opts.CacheControl)
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return false, err
	}
	p.opts.Logger.Debug("uploaded", "key", obj.key, "bytes", len(data))
	return true, nil
}

// ContentType returns the MIME type for a file name, defaulting to
// application/octet-stream.
func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".wasm":
		return "application/wasm"
	case ".map":
		return "application/json"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func finish(r compile.Result, start time.Time) compile.Result {
	r.Duration = time.Since(start)
	return r
}
