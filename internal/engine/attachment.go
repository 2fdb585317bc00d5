package engine

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"

	"routinely/internal/domain"
	"routinely/internal/events"
)

// RecordAttachment stores metadata of an already uploaded file.
func (e Engine) RecordAttachment(ctx context.Context, executionID, filename, url, actorID string) (domain.Attachment, error) {
	filename = strings.TrimSpace(filename)
	url = strings.TrimSpace(url)
	if filename == "" {
		return domain.Attachment{}, ValidationError{Field: "filename", Message: "filename is required"}
	}
	if url == "" {
		return domain.Attachment{}, ValidationError{Field: "url", Message: "url is required"}
	}
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:          e.newID(),
		ExecutionID: exec.ID,
		URL:         url,
		Filename:    filename,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.Repo.InsertAttachment(ctx, a, events.Entry{
		Type:       events.AttachmentAdded,
		EntityKind: "execution",
		EntityID:   exec.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"attachment_id": a.ID, "filename": filename},
	}); err != nil {
		return domain.Attachment{}, repoErr("record attachment", err)
	}
	return a, nil
}

// UploadAttachment stores data through the blob store and records it.
func (e Engine) UploadAttachment(ctx context.Context, executionID, filename string, data []byte, actorID string) (domain.Attachment, error) {
	name := safeFilename(filename)
	if name == "" {
		return domain.Attachment{}, ValidationError{Field: "filename", Message: "filename is required"}
	}
	if len(data) == 0 {
		return domain.Attachment{}, ValidationError{Field: "data", Message: "file is empty"}
	}
	if e.Blobs == nil {
		return domain.Attachment{}, errors.New("blob store not configured")
	}
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return domain.Attachment{}, err
	}
	url, err := e.Blobs.Upload(ctx, data, path.Join("executions", exec.ID, e.newID()+"-"+name))
	if err != nil {
		return domain.Attachment{}, RepositoryError{Op: "upload attachment", Err: err}
	}
	return e.RecordAttachment(ctx, exec.ID, name, url, actorID)
}

// Attachments lists an execution's attachments, newest first.
func (e Engine) Attachments(ctx context.Context, executionID string) ([]domain.Attachment, error) {
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	list, err := e.Repo.ListAttachments(ctx, exec.ID)
	if err != nil {
		return nil, repoErr("list attachments", err)
	}
	if list == nil {
		list = []domain.Attachment{}
	}
	return list, nil
}

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
