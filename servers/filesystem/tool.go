package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/go-mcp-engine"
)

func (s *Server) tools() []mcp.ToolHandler {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	return []mcp.ToolHandler{
		mcp.NewTool(mcp.Tool{
			Name: "read_file",
			Description: "Read the complete contents of a file from the file system. " +
				"Only works within allowed directories.",
			InputSchema: pathSchema,
			Annotations: readOnly,
		}, s.readFile),
		mcp.NewTool(mcp.Tool{
			Name: "read_multiple_files",
			Description: "Read the contents of multiple files simultaneously. Failed reads for " +
				"individual files won't stop the entire operation.",
			InputSchema: readMultipleFilesSchema,
			Annotations: readOnly,
		}, s.readMultipleFiles),
		mcp.NewTool(mcp.Tool{
			Name: "write_file",
			Description: "Create a new file or completely overwrite an existing file with new content. " +
				"Only works within allowed directories.",
			InputSchema: writeFileSchema,
			Annotations: &mcp.ToolAnnotations{DestructiveHint: true, IdempotentHint: true},
		}, s.writeFile),
		mcp.NewTool(mcp.Tool{
			Name: "edit_file",
			Description: "Make line-based edits to a text file. Each edit replaces exact line sequences " +
				"with new content. Returns a diff showing the changes made.",
			InputSchema: editFileSchema,
			Annotations: &mcp.ToolAnnotations{DestructiveHint: true},
		}, s.editFile),
		mcp.NewTool(mcp.Tool{
			Name: "create_directory",
			Description: "Create a new directory or ensure a directory exists, creating parent " +
				"directories as needed.",
			InputSchema: pathSchema,
			Annotations: &mcp.ToolAnnotations{IdempotentHint: true},
		}, s.createDirectory),
		mcp.NewTool(mcp.Tool{
			Name: "list_directory",
			Description: "Get a listing of all files and directories in a specified path. Entries are " +
				"prefixed with [FILE] or [DIR].",
			InputSchema: pathSchema,
			Annotations: readOnly,
		}, s.listDirectory),
		mcp.NewTool(mcp.Tool{
			Name: "directory_tree",
			Description: "Get a recursive tree view of files and directories as a JSON structure. " +
				"Each entry has a name, a type and, for directories, its children.",
			InputSchema: pathSchema,
			Annotations: readOnly,
		}, s.directoryTree),
		mcp.NewTool(mcp.Tool{
			Name:        "move_file",
			Description: "Move or rename files and directories. Fails if the destination already exists.",
			InputSchema: moveFileSchema,
			Annotations: &mcp.ToolAnnotations{DestructiveHint: true},
		}, s.moveFile),
		mcp.NewTool(mcp.Tool{
			Name: "search_files",
			Description: "Recursively search for files and directories whose name matches a pattern. " +
				"The match is case-insensitive, patterns holding glob metacharacters are matched as globs.",
			InputSchema: searchFilesSchema,
			Annotations: readOnly,
		}, s.searchFiles),
		mcp.NewTool(mcp.Tool{
			Name:        "get_file_info",
			Description: "Retrieve detailed metadata about a file or directory.",
			InputSchema: pathSchema,
			Annotations: readOnly,
		}, s.getFileInfo),
		mcp.NewTool(mcp.Tool{
			Name:        "list_allowed_directories",
			Description: "Returns the list of directories this server is allowed to access.",
			Annotations: readOnly,
		}, s.listAllowedDirectories),
	}
}

func (s *Server) readFile(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params ReadFileArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to read file: %w", err)
	}
	return mcp.ToolResult(mcp.Text(string(content))), nil
}

func (s *Server) readMultipleFiles(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params ReadMultipleFilesArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}

	results := make([]string, 0, len(params.Paths))
	for _, p := range params.Paths {
		if err := ctx.Err(); err != nil {
			return mcp.ToolOutput{}, err
		}
		path, err := s.resolve(p)
		if err != nil {
			results = append(results, fmt.Sprintf("%s: Error - %s", p, err))
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			results = append(results, fmt.Sprintf("%s: Error - %s", p, err))
			continue
		}
		results = append(results, fmt.Sprintf("%s:\n%s\n", p, content))
	}
	return mcp.ToolResult(mcp.Text(strings.Join(results, "\n---\n"))), nil
}

func (s *Server) writeFile(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params WriteFileArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to write file: %w", err)
	}
	s.logger.Info("file written", slog.String("path", path), slog.Int("bytes", len(params.Content)))
	return mcp.ToolResult(mcp.Textf("Successfully wrote to %s", params.Path)), nil
}

func (s *Server) editFile(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params EditFileArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to read file: %w", err)
	}
	before := normalizeLineEndings(string(raw))
	after, err := applyEdits(before, params.Edits)
	if err != nil {
		return mcp.ToolOutput{}, err
	}

	diff := unifiedDiff(params.Path, before, after)
	if !params.DryRun {
		info, err := os.Stat(path)
		if err != nil {
			return mcp.ToolOutput{}, fmt.Errorf("failed to stat file: %w", err)
		}
		if err := os.WriteFile(path, []byte(after), info.Mode().Perm()); err != nil {
			return mcp.ToolOutput{}, fmt.Errorf("failed to write file: %w", err)
		}
		s.logger.Info("file edited", slog.String("path", path), slog.Int("edits", len(params.Edits)))
	}
	return mcp.ToolResult(mcp.Text(diff)), nil
}

func (s *Server) createDirectory(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params PathArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolveNested(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to create directory: %w", err)
	}
	return mcp.ToolResult(mcp.Textf("Successfully created directory %s", params.Path)), nil
}

// resolveNested resolves a path whose missing ancestors will be created, walking up to the closest
// existing ancestor, which must be allowed.
func (s *Server) resolveNested(requested string) (string, error) {
	path, err := s.resolve(requested)
	if err == nil {
		return path, nil
	}

	p := filepath.FromSlash(requested)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.roots[0], p)
	}
	p = filepath.Clean(p)

	var missing []string
	for dir := p; ; dir = filepath.Dir(dir) {
		if _, statErr := os.Lstat(dir); statErr == nil {
			base, err := s.resolve(dir)
			if err != nil {
				return "", err
			}
			return filepath.Join(append([]string{base}, missing...)...), nil
		}
		if filepath.Dir(dir) == dir {
			return "", err
		}
		missing = append([]string{filepath.Base(dir)}, missing...)
	}
}

func (s *Server) listDirectory(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params PathArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to read directory: %w", err)
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		prefix := "[FILE]"
		if entry.IsDir() {
			prefix = "[DIR]"
		}
		lines = append(lines, prefix+" "+entry.Name())
	}
	return mcp.ToolResult(mcp.Text(strings.Join(lines, "\n"))), nil
}

func (s *Server) directoryTree(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params PathArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	tree, err := s.tree(ctx, path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	bs, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to encode tree: %w", err)
	}
	return mcp.ToolResult(mcp.Text(string(bs))), nil
}

func (s *Server) moveFile(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params MoveFileArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	source, err := s.resolve(params.Source)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	dest, err := s.resolve(params.Destination)
	if err != nil {
		return mcp.ToolOutput{}, err
	}

	if _, err := os.Lstat(dest); err == nil {
		return mcp.ToolOutput{}, fmt.Errorf("destination already exists: %s", params.Destination)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return mcp.ToolOutput{}, fmt.Errorf("failed to stat destination: %w", err)
	}
	if err := os.Rename(source, dest); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to move file: %w", err)
	}
	s.logger.Info("file moved", slog.String("from", source), slog.String("to", dest))
	return mcp.ToolResult(mcp.Textf("Successfully moved %s to %s", params.Source, params.Destination)), nil
}

func (s *Server) searchFiles(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params SearchFilesArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	root, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	results, err := s.search(ctx, root, params.Pattern, params.Exclude)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	if len(results) == 0 {
		return mcp.ToolResult(mcp.Text("No matches found")), nil
	}
	return mcp.ToolResult(mcp.Text(strings.Join(results, "\n"))), nil
}

func (s *Server) getFileInfo(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params PathArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	path, err := s.resolve(params.Path)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to stat file: %w", err)
	}
	return mcp.ToolResult(mcp.StructuredContent{Value: FileInfo{
		Path:        path,
		Size:        info.Size(),
		Modified:    info.ModTime().UTC(),
		IsDirectory: info.IsDir(),
		IsFile:      info.Mode().IsRegular(),
		Permissions: fmt.Sprintf("%o", info.Mode().Perm()),
	}}), nil
}

func (s *Server) listAllowedDirectories(context.Context, map[string]any) (mcp.ToolOutput, error) {
	return mcp.ToolResult(mcp.Textf("Allowed directories:\n%s", strings.Join(s.roots, "\n"))), nil
}
