// Package backup supplies backup payloads to upload and moves them in and out
// of the backup gist.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mscno/gistbackup/pkg/gist"
	"github.com/mscno/gistbackup/pkg/session"
)

// FileName is the sentinel file that marks a gist as holding the backup.
const FileName = "Cloudstream_Backup_data.txt"

// Description is used for gists created to hold a backup.
const Description = "Cloudstream private backup gist"

// ErrBackupMissing is returned by Pull when the gist has no backup file.
var ErrBackupMissing = errors.New("gist does not contain a backup file")

// Source produces the serialized application backup.
type Source interface {
	Backup(ctx context.Context) ([]byte, error)
}

// StaticSource always returns the same payload.
type StaticSource []byte

func (s StaticSource) Backup(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// FileSource reads the backup from a file on every call.
type FileSource struct {
	Path string
}

func (f FileSource) Backup(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	return data, nil
}

var (
	_ Source = StaticSource(nil)
	_ Source = FileSource{}
)

// ClientFactory returns a gists client authenticated with token.
type ClientFactory func(token string) (gist.API, error)

// Syncer pushes and pulls the backup file of a session's gist.
type Syncer struct {
	newClient ClientFactory
	logger    *slog.Logger
}

// NewSyncer creates a Syncer. A nil logger uses slog.Default.
func NewSyncer(newClient ClientFactory, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{newClient: newClient, logger: logger}
}

// Push replaces the backup file content with payload.
func (s *Syncer) Push(ctx context.Context, sess session.Session, payload []byte) error {
	client, err := s.client(sess)
	if err != nil {
		return err
	}
	if _, err := client.UpdateFile(ctx, sess.GistID, FileName, string(payload)); err != nil {
		return fmt.Errorf("failed to push backup: %w", err)
	}
	s.logger.InfoContext(ctx, "backup pushed", "gist", sess.GistID, "bytes", len(payload))
	return nil
}

// Pull returns the backup file content.
func (s *Syncer) Pull(ctx context.Context, sess session.Session) ([]byte, error) {
	client, err := s.client(sess)
	if err != nil {
		return nil, err
	}
	g, err := client.Get(ctx, sess.GistID)
	if err != nil {
		return nil, fmt.Errorf("failed to pull backup: %w", err)
	}
	f, ok := g.File(FileName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackupMissing, sess.GistID)
	}
	s.logger.InfoContext(ctx, "backup pulled", "gist", sess.GistID, "bytes", len(f.Content))
	return []byte(f.Content), nil
}

func (s *Syncer) client(sess session.Session) (gist.API, error) {
	if !sess.Complete() {
		return nil, session.ErrIncomplete
	}
	client, err := s.newClient(sess.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create gist client: %w", err)
	}
	return client, nil
}
