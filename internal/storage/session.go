package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/retention"
)

// Node is an entry in a session-oriented provider's folder tree.
type Node struct {
	// Handle is the provider reference used to address the node.
	Handle  string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time // zero when the provider does not report one
}

// Session is one authenticated connection to a provider. Sessions are never
// shared between calls.
type Session interface {
	Root() Node
	Children(ctx context.Context, parent Node) ([]Node, error)
	Mkdir(ctx context.Context, parent Node, name string) (Node, error)
	// Upload returns the size the provider stored, or 0 if it does not say.
	Upload(ctx context.Context, parent Node, name string, size int64, body io.Reader) (int64, error)
	Delete(ctx context.Context, node Node) error
	Close() error
}

// Dialer opens sessions for one provider.
type Dialer interface {
	CheckConfig(cfg Config) error
	Dial(ctx context.Context, cfg Config) (Session, error)
}

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateConnected
	stateFolderResolving
	stateFolderReady
	stateTransferring
	stateDone
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateFolderResolving:
		return "folder-resolving"
	case stateFolderReady:
		return "folder-ready"
	case stateTransferring:
		return "transferring"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionAdapter implements Adapter on top of a Dialer: connect, resolve the
// folder (creating missing components), then transfer, list or delete.
type SessionAdapter struct {
	dialer  Dialer
	timeout time.Duration
	logger  *slog.Logger
	folders *keyedMutex
	now     func() time.Time
}

// NewSessionAdapter creates the session-oriented adapter. A nil dialer makes
// every call fail with ErrDependencyUnavailable.
func NewSessionAdapter(dialer Dialer, opts Options) *SessionAdapter {
	opts = opts.withDefaults()
	return &SessionAdapter{
		dialer:  dialer,
		timeout: opts.UploadTimeout,
		logger:  opts.Logger,
		folders: newKeyedMutex(),
		now:     opts.Now,
	}
}

// sessionCall tracks the state of one adapter call.
type sessionCall struct {
	adapter *SessionAdapter
	cfg     Config
	state   sessionState
	logger  *slog.Logger
}

func (a *SessionAdapter) newCall(cfg Config, op string) *sessionCall {
	return &sessionCall{
		adapter: a,
		cfg:     cfg,
		state:   stateDisconnected,
		logger:  a.logger.With("destination", cfg.ID, "kind", cfg.Kind, "operation", op),
	}
}

func (c *sessionCall) transition(to sessionState) {
	c.logger.Debug("Session state change", "from", c.state, "to", to)
	c.state = to
}

func (c *sessionCall) fail(err error) error {
	c.transition(stateFailed)
	return err
}

func (c *sessionCall) connect(ctx context.Context) (Session, error) {
	c.transition(stateConnecting)
	if c.adapter.dialer == nil {
		return nil, c.fail(fmt.Errorf("%w: no client registered for %s", ErrDependencyUnavailable, c.cfg.Kind))
	}
	sess, err := c.adapter.dialer.Dial(ctx, c.cfg)
	if err != nil {
		// a dial cut short by ctx reports why ctx ended, not how the provider failed
		if cause := context.Cause(ctx); cause != nil {
			err = fmt.Errorf("%w: %v", cause, err)
		}
		return nil, c.fail(err)
	}
	c.transition(stateConnected)
	return sess, nil
}

// resolve walks the configured folder one component at a time, matching
// existing folders case-insensitively and creating the missing ones.
func (c *sessionCall) resolve(ctx context.Context, sess Session) (Node, string, error) {
	c.transition(stateFolderResolving)
	parts := splitFolder(c.cfg.FolderPath())
	display := displayFolder(parts)

	unlock := c.adapter.folders.Lock(c.cfg.ID + "|" + strings.ToLower(display))
	defer unlock()

	node := sess.Root()
	for i, part := range parts {
		children, err := sess.Children(ctx, node)
		if err != nil {
			return Node{}, "", fmt.Errorf("%w: listing %s: %w", ErrFolderResolutionFailed, displayFolder(parts[:i]), err)
		}

		var matches []Node
		for _, child := range children {
			if child.IsDir && strings.EqualFold(child.Name, part) {
				matches = append(matches, child)
			}
		}
		if len(matches) > 1 {
			c.logger.Warn("Provider holds duplicate folders, using the first",
				"folder", displayFolder(parts[:i+1]),
				"count", len(matches),
			)
		}
		if len(matches) > 0 {
			node = matches[0]
			continue
		}

		created, err := sess.Mkdir(ctx, node, part)
		if err != nil {
			return Node{}, "", fmt.Errorf("%w: creating %s: %w", ErrFolderResolutionFailed, displayFolder(parts[:i+1]), err)
		}
		c.logger.Info("Created destination folder", "folder", displayFolder(parts[:i+1]))
		node = created
	}

	c.transition(stateFolderReady)
	return node, display, nil
}

// resolveOrRoot falls back to the provider root when the folder cannot be resolved.
func (c *sessionCall) resolveOrRoot(ctx context.Context, sess Session) (Node, string, string) {
	node, display, err := c.resolve(ctx, sess)
	if err == nil {
		return node, display, ""
	}
	c.logger.Warn("Folder resolution failed, falling back to provider root", "error", err)
	c.transition(stateFolderReady)
	return sess.Root(), "/", err.Error()
}

// CheckConfig implements Adapter.
func (a *SessionAdapter) CheckConfig(cfg Config) error {
	if a.dialer == nil {
		return nil
	}
	if err := a.dialer.CheckConfig(cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, cfg.ID, err)
	}
	return nil
}

// Validate implements Adapter.
func (a *SessionAdapter) Validate(ctx context.Context, cfg Config) (string, error) {
	c := a.newCall(cfg, "validate")
	sess, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.close(sess)

	_, display, err := c.resolve(ctx, sess)
	if err != nil {
		return "", c.fail(err)
	}
	c.transition(stateDone)
	return display, nil
}

// Upload implements Adapter. The upload timeout bounds the whole call:
// connecting, resolving the folder and transferring.
func (a *SessionAdapter) Upload(ctx context.Context, art *artifact.Artifact, cfg Config) UploadResult {
	c := a.newCall(cfg, "upload")
	var detail UploadDetail

	ctx, cancel := context.WithTimeoutCause(ctx, a.timeout, fmt.Errorf("%w after %s", ErrUploadTimeout, a.timeout))
	defer cancel()

	sess, err := c.connect(ctx)
	if err != nil {
		return failedUpload(cfg.ID, err, detail)
	}
	defer c.close(sess)

	folder, display, reason := c.resolveOrRoot(ctx, sess)
	detail.Folder = display
	detail.FolderFallback = reason != ""
	detail.FallbackReason = reason
	if cause := context.Cause(ctx); cause != nil {
		return failedUpload(cfg.ID, c.fail(cause), detail)
	}

	body, err := art.Open()
	if err != nil {
		return failedUpload(cfg.ID, c.fail(fmt.Errorf("%w: %w", ErrTransfer, err)), detail)
	}
	defer func() {
		_ = body.Close()
	}()

	c.transition(stateTransferring)
	progress := artifact.NewProgress(body, art.Size, func(sent, total int64, elapsed time.Duration) {
		c.logger.Info("Upload progress",
			"sent", artifact.FormatBytes(sent),
			"percent", fmt.Sprintf("%.0f", artifact.Percent(sent, total)),
			"elapsed", elapsed.Round(time.Second),
		)
	})
	stream := struct {
		io.Reader
		io.Closer
	}{progress, body}

	size, err := guardedTransfer(ctx, a.timeout, stream, func(tctx context.Context, r io.Reader) (int64, error) {
		return sess.Upload(tctx, folder, art.Name, art.Size, r)
	})
	if err != nil {
		return failedUpload(cfg.ID, c.fail(err), detail)
	}
	if size <= 0 {
		size = art.Size
	}
	detail.RemoteSize = size

	c.transition(stateDone)
	c.logger.Info("Upload completed", "artifact", art.Name, "folder", display, "size", size)
	return UploadResult{DestinationID: cfg.ID, OK: true, Detail: detail}
}

// Cleanup implements Adapter.
func (a *SessionAdapter) Cleanup(ctx context.Context, cfg Config, policy retention.Policy) CleanupResult {
	c := a.newCall(cfg, "cleanup")
	detail := CleanupDetail{DeletedNames: []string{}}

	sess, err := c.connect(ctx)
	if err != nil {
		return failedCleanup(cfg.ID, err, detail)
	}
	defer c.close(sess)

	folder, display, reason := c.resolveOrRoot(ctx, sess)
	detail.Folder = display
	detail.FolderFallback = reason != ""
	detail.FallbackReason = reason

	children, err := sess.Children(ctx, folder)
	if err != nil {
		return failedCleanup(cfg.ID, c.fail(fmt.Errorf("%w: listing %s: %w", ErrTransfer, display, err)), detail)
	}

	now := a.now()
	for _, child := range children {
		detail.Scanned++
		if child.IsDir {
			continue
		}
		ts := child.ModTime
		if ts.IsZero() {
			ts = now
		}
		file := retention.File{Name: child.Name, TimestampMs: ts.UnixMilli()}
		if !retention.IsEligibleForDeletion(file, now.UnixMilli(), policy) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failedCleanup(cfg.ID, c.fail(err), detail)
		}
		if err := sess.Delete(ctx, child); err != nil {
			c.logger.Error("Failed to delete old backup", "file", child.Name, "error", err)
			detail.Failures = append(detail.Failures, DeleteFailure{
				Name:  child.Name,
				Error: fmt.Errorf("%w: %w", ErrDelete, err).Error(),
			})
			continue
		}
		c.logger.Info("Deleted old backup", "file", child.Name, "age_days", int(now.Sub(ts).Hours()/24))
		detail.DeletedNames = append(detail.DeletedNames, child.Name)
	}

	if len(detail.Failures) > 0 {
		c.transition(stateFailed)
		err := fmt.Errorf("%w: %d of %d eligible files could not be deleted",
			ErrDelete, len(detail.Failures), len(detail.Failures)+len(detail.DeletedNames))
		return failedCleanup(cfg.ID, err, detail)
	}
	c.transition(stateDone)
	return CleanupResult{DestinationID: cfg.ID, OK: true, Detail: detail}
}

func (c *sessionCall) close(sess Session) {
	if err := sess.Close(); err != nil {
		c.logger.Warn("Failed to close session", "error", err)
	}
}
