// Package mailbox downloads scale export attachments from an IMAP inbox
// into the input directory, for scales that deliver their exports by mail.
// It runs as an optional stage before the CSV adapter reads the directory.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/amariano/bodysync/internal/xslog"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

type Fetcher struct {
	host        string
	username    string
	password    string
	folder      string
	downloadDir string
	logger      *slog.Logger
}

func NewFetcher(host, username, password, folder, downloadDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		host:        host,
		username:    username,
		password:    password,
		folder:      folder,
		downloadDir: downloadDir,
		logger:      logger,
	}
}

// Fetch downloads the attachments of unread messages and marks those
// messages read, so the next run only sees new exports. Returns the saved
// file paths.
func (f *Fetcher) Fetch(ctx context.Context) ([]string, error) {
	c, err := client.DialTLS(f.host, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing imap server: %w", err)
	}
	defer func() { _ = c.Logout() }()

	if err := c.Login(f.username, f.password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select(f.folder, false); err != nil {
		return nil, fmt.Errorf("selecting folder %s: %w", f.folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching unread messages: %w", err)
	}
	if len(ids) == 0 {
		f.logger.InfoContext(ctx, "no unread messages")
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var saved []string
	for msg := range messages {
		select {
		case <-ctx.Done():
			return saved, ctx.Err()
		default:
		}

		paths, err := f.saveAttachments(msg.GetBody(section))
		if err != nil {
			f.logger.WarnContext(ctx, "failed to save attachments", xslog.Error(err))
			continue
		}
		saved = append(saved, paths...)
	}
	if err := <-fetchDone; err != nil {
		return saved, fmt.Errorf("fetching messages: %w", err)
	}

	// mark processed messages read.
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		f.logger.WarnContext(ctx, "failed to mark messages read", xslog.Error(err))
	}

	f.logger.InfoContext(ctx, "fetched mail attachments", xslog.Count(len(saved)))
	return saved, nil
}

func (f *Fetcher) saveAttachments(body io.Reader) ([]string, error) {
	if body == nil {
		return nil, fmt.Errorf("message has no body")
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}

	var saved []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return saved, fmt.Errorf("reading message part: %w", err)
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := header.Filename()
		if err != nil || filename == "" {
			continue
		}

		path := filepath.Join(f.downloadDir, filepath.Base(filename))
		if _, err := os.Stat(path); err == nil {
			// already downloaded by an earlier run.
			continue
		}

		if err := writeAttachment(path, part.Body); err != nil {
			return saved, err
		}
		saved = append(saved, path)
	}

	return saved, nil
}

func writeAttachment(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating attachment file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing attachment: %w", err)
	}
	return nil
}
