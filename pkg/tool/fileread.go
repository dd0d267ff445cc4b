package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/atriumhq/atrium/pkg/store"
)

// FileReadTool reads the parsed text of a previously uploaded file, scoped
// to the acting user and the active room or session: files owned by anyone
// else, or bound to another scope, are indistinguishable from missing ones.
// Owner and scope come from the request context when present, so a single
// instance can be registered process-wide; the constructed ownerID is the
// fallback.
type FileReadTool struct {
	store   *store.Store
	ownerID string
}

func NewFileReadTool(s *store.Store, ownerID string) *FileReadTool {
	return &FileReadTool{store: s, ownerID: ownerID}
}

func (t *FileReadTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        NameFileRead,
		Description: "Read the extracted text content of an uploaded file by its id.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "string",
					"description": "The id of the uploaded file",
				},
			},
			"required": []string{"file_id"},
		},
	}
}

func (t *FileReadTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	fileID, _ := args["file_id"].(string)
	if strings.TrimSpace(fileID) == "" {
		return errorResult("file_read requires a file_id"), nil
	}

	f, err := t.store.GetUploadedFile(ctx, fileID)
	if err == store.ErrNotFound {
		return errorResult(fmt.Sprintf("file not found: %s", fileID)), nil
	}
	if err != nil {
		return ToolResult{}, err
	}
	owner := OwnerFromContext(ctx)
	if owner == "" {
		owner = t.ownerID
	}
	if f.OwnerID != owner {
		return errorResult(fmt.Sprintf("file not found: %s", fileID)), nil
	}
	// Files bound to a room or session are readable only from that scope.
	sc := ScopeFromContext(ctx)
	switch {
	case f.RoomID != nil:
		if sc.RoomID == "" || *f.RoomID != sc.RoomID {
			return errorResult(fmt.Sprintf("file not found: %s", fileID)), nil
		}
	case f.SessionID != nil:
		if sc.SessionID == "" || *f.SessionID != sc.SessionID {
			return errorResult(fmt.Sprintf("file not found: %s", fileID)), nil
		}
	}

	switch f.ParseStatus {
	case store.ParsePending:
		return errorResult(fmt.Sprintf("file %s is still being processed", f.Filename)), nil
	case store.ParseFailed:
		msg := "unknown error"
		if f.ErrorMessage != nil {
			msg = *f.ErrorMessage
		}
		return errorResult(fmt.Sprintf("file %s could not be parsed: %s", f.Filename, msg)), nil
	case store.ParseCompleted:
		if f.ParsedText == nil {
			return errorResult(fmt.Sprintf("file %s has no extracted text", f.Filename)), nil
		}
		return ToolResult{
			Success: true,
			Content: *f.ParsedText,
			Audit:   map[string]interface{}{"file_id": f.ID},
		}, nil
	default:
		return errorResult(fmt.Sprintf("file %s has unknown parse status %q", f.Filename, f.ParseStatus)), nil
	}
}
