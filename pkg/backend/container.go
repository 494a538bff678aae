// Package backend wraps an rclone remote as the monitored object-store
// container. Only read operations are exposed: the gateway serves objects,
// it never mutates them.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	// Register rclone backends via blank imports.
	_ "github.com/rclone/rclone/backend/azureblob"
	_ "github.com/rclone/rclone/backend/googlecloudstorage"
	_ "github.com/rclone/rclone/backend/local"
	_ "github.com/rclone/rclone/backend/s3"
	_ "github.com/rclone/rclone/backend/sftp"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configmap"
	"github.com/rclone/rclone/fs/hash"

	"github.com/tallyd/tallyd/pkg/metrics"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("not found")

// ObjectInfo describes a remote object or directory.
type ObjectInfo struct {
	Key         string
	Size        int64
	ModTime     time.Time
	ETag        string
	IsDir       bool
	ContentType string
}

// Container is a read-only view of one object-store location.
type Container struct {
	name     string
	backType string
	rfs      fs.Fs
}

// NewContainer creates a container from config. backendType is the rclone
// backend name (e.g. "s3", "azureblob", "local"); root is the
// bucket/container plus optional prefix; params maps rclone config keys
// to values.
func NewContainer(name, backendType, root string, params map[string]string) (*Container, error) {
	m := configmap.Simple(params)

	regInfo, err := fs.Find(backendType)
	if err != nil {
		return nil, fmt.Errorf("backend.NewContainer: unknown type %q: %w", backendType, err)
	}

	rfs, err := regInfo.NewFs(context.Background(), name, root, m)
	if err != nil {
		return nil, fmt.Errorf("backend.NewContainer: create %q (%s): %w", name, backendType, err)
	}

	slog.Info("container attached",
		"component", "backend", "name", name,
		"type", backendType, "root", root,
	)

	return &Container{name: name, backType: backendType, rfs: rfs}, nil
}

func (c *Container) Name() string { return c.name }
func (c *Container) Type() string { return c.backType }

// List returns objects and directories under the given prefix.
func (c *Container) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	entries, err := c.rfs.List(ctx, prefix)
	metrics.BackendRequestDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("backend %s: List %q: %w", c.name, prefix, err)
	}

	result := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		oi := ObjectInfo{
			Key:     entry.Remote(),
			ModTime: entry.ModTime(ctx),
		}

		switch e := entry.(type) {
		case fs.Object:
			oi.Size = e.Size()
			oi.IsDir = false
		case fs.Directory:
			oi.IsDir = true
			oi.Size = e.Size()
		}

		// Strip prefix to get just the child name.
		if prefix != "" {
			oi.Key = strings.TrimPrefix(oi.Key, prefix)
			oi.Key = strings.TrimPrefix(oi.Key, "/")
		}

		result = append(result, oi)
	}

	return result, nil
}

// Stat returns info for a single object.
func (c *Container) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	obj, err := c.rfs.NewObject(ctx, key)
	metrics.BackendRequestDuration.WithLabelValues("stat").Observe(time.Since(start).Seconds())
	if err == nil {
		oi := ObjectInfo{
			Key:     obj.Remote(),
			Size:    obj.Size(),
			ModTime: obj.ModTime(ctx),
		}
		if h, err := obj.Hash(ctx, hash.MD5); err == nil && h != "" {
			oi.ETag = h
		}
		return oi, nil
	}

	if err == fs.ErrorIsDir || err == fs.ErrorNotAFile {
		return ObjectInfo{Key: key, IsDir: true}, nil
	}
	if err == fs.ErrorObjectNotFound {
		metrics.BackendErrors.WithLabelValues("stat").Inc()
		return ObjectInfo{}, fmt.Errorf("backend %s: Stat %q: %w", c.name, key, ErrNotFound)
	}

	metrics.BackendErrors.WithLabelValues("stat").Inc()
	return ObjectInfo{}, fmt.Errorf("backend %s: Stat %q: %w", c.name, key, err)
}

// Open returns a reader for the entire object.
func (c *Container) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	obj, err := c.rfs.NewObject(ctx, key)
	if err != nil {
		metrics.BackendRequestDuration.WithLabelValues("open").Observe(time.Since(start).Seconds())
		metrics.BackendErrors.WithLabelValues("open").Inc()
		if err == fs.ErrorObjectNotFound {
			return nil, fmt.Errorf("backend %s: Open %q: %w", c.name, key, ErrNotFound)
		}
		return nil, fmt.Errorf("backend %s: Open %q: %w", c.name, key, err)
	}

	rc, err := obj.Open(ctx)
	metrics.BackendRequestDuration.WithLabelValues("open").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("backend %s: Open %q: %w", c.name, key, err)
	}
	return rc, nil
}

// Close releases resources.
func (c *Container) Close() error {
	slog.Info("container detached", "component", "backend", "name", c.name)
	return nil
}
