package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/memory"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

var errBadFileName = errors.New("invalid file name")

// scratchPath resolves name inside dir. Directory components are
// discarded so every name stays in the scratch pad.
func scratchPath(dir, name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q", errBadFileName, name)
	}
	return filepath.Join(dir, base), nil
}

func fileNameParam(desc string) tool.ParamSpec {
	return tool.ParamSpec{Name: "FileName", Description: desc, Type: tool.TypeString, Required: true}
}

func listFiles(dir string) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        ListFiles,
		Description: "Lists the files in the scratch pad.",
		Parameters: []tool.ParamSpec{
			{Name: "Pattern", Description: "Optional glob such as '*.md'.", Type: tool.TypeString, Default: "*"},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		pattern := args.String("Pattern")
		if pattern == "" {
			pattern = "*"
		}
		matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
		if err != nil {
			if errors.Is(err, doublestar.ErrBadPattern) {
				return tool.Failure(fmt.Sprintf("Invalid pattern '%s'", pattern)), nil
			}
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		slices.Sort(matches)
		if matches == nil {
			matches = []string{}
		}
		return tool.Success(fmt.Sprintf("%d files in scratch pad", len(matches))).With("files", matches), nil
	})
}

func deleteFile(dir string) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        DeleteFile,
		Description: "Deletes a file from the scratch pad. Requires confirmation unless forced.",
		Parameters: []tool.ParamSpec{
			fileNameParam("The file to delete."),
			{Name: "ForceDelete", Description: "Delete without asking for confirmation.", Type: tool.TypeBoolean, Default: false},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		name := args.String("FileName")
		path, err := scratchPath(dir, name)
		if err != nil {
			return tool.Failure(err.Error()), nil
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return tool.Failure(fmt.Sprintf("File '%s' does not exist", filepath.Base(path))), nil
		}
		if !args.Bool("ForceDelete") {
			return tool.Result{
				"status":  tool.StatusConfirmationRequired,
				"message": fmt.Sprintf("Are you sure you want to delete '%s'? Reply with 'force delete' to confirm.", filepath.Base(path)),
			}, nil
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("delete %s: %w", path, err)
		}
		return tool.Success(fmt.Sprintf("File '%s' deleted", filepath.Base(path))), nil
	})
}

func readFileIntoMemory(dir string, store memory.Store) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        ReadFileIntoMemory,
		Description: "Reads a scratch-pad file into active memory under its file name.",
		Parameters:  []tool.ParamSpec{fileNameParam("The file to read.")},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		path, err := scratchPath(dir, args.String("FileName"))
		if err != nil {
			return tool.Failure(err.Error()), nil
		}
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return tool.Failure(fmt.Sprintf("File '%s' does not exist", name)), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		store.Upsert(name, string(data))
		return tool.Success(fmt.Sprintf("File '%s' content saved to memory", name)), nil
	})
}

func readDirIntoMemory(dir string, store memory.Store) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        ReadDirIntoMemory,
		Description: "Reads every scratch-pad file into active memory.",
	}, func(ctx context.Context, _ tool.Args) (tool.Result, error) {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return tool.Failure("The scratch pad does not exist yet"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}

		var read []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", e.Name(), err)
			}
			store.Upsert(e.Name(), string(data))
			read = append(read, e.Name())
		}
		return tool.Success(fmt.Sprintf("All files from '%s' have been read into memory", filepath.Base(dir))).
			With("files", read), nil
	})
}

func createFile(deps Deps) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        CreateFile,
		Description: "Creates a new scratch-pad file whose content is generated from a prompt.",
		Parameters: []tool.ParamSpec{
			fileNameParam("The file to create."),
			{Name: "Prompt", Description: "What the file should contain.", Type: tool.TypeString, Required: true},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		path, err := scratchPath(deps.ScratchPad, args.String("FileName"))
		if err != nil {
			return tool.Failure(err.Error()), nil
		}
		name := filepath.Base(path)
		if _, err := os.Stat(path); err == nil {
			return tool.Failure(fmt.Sprintf("File '%s' already exists", name)), nil
		}

		prompt := fileWriterPrompt(createPurpose, args.String("Prompt"), name, "", deps.Memory)
		content, err := generate(ctx, deps, prompt)
		if err != nil {
			return nil, err
		}
		if err := writeScratch(deps.ScratchPad, path, content); err != nil {
			return nil, err
		}
		return tool.Success(fmt.Sprintf("File '%s' created", name)), nil
	})
}

func updateFile(deps Deps) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        UpdateFile,
		Description: "Rewrites an existing scratch-pad file according to a prompt.",
		Parameters: []tool.ParamSpec{
			fileNameParam("The file to update."),
			{Name: "Prompt", Description: "How the file should change.", Type: tool.TypeString, Required: true},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		path, err := scratchPath(deps.ScratchPad, args.String("FileName"))
		if err != nil {
			return tool.Failure(err.Error()), nil
		}
		name := filepath.Base(path)
		current, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return tool.Failure(fmt.Sprintf("File '%s' does not exist", name)), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		prompt := fileWriterPrompt(updatePurpose, args.String("Prompt"), name, string(current), deps.Memory)
		content, err := generate(ctx, deps, prompt)
		if err != nil {
			return nil, err
		}
		if err := writeScratch(deps.ScratchPad, path, content); err != nil {
			return nil, err
		}
		return tool.Success(fmt.Sprintf("File '%s' updated", name)), nil
	})
}

const (
	createPurpose = "Generate the content of a new file based on the user's prompt, the file name, and the active memory."
	updatePurpose = "Rewrite an existing file based on the user's prompt, its current content, and the active memory."
)

func fileWriterPrompt(purpose, userPrompt, fileName, current string, store memory.Store) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<purpose>%s</purpose>\n", purpose)
	b.WriteString("<instructions>\n")
	b.WriteString("  <instruction>Respond with the raw file content only.</instruction>\n")
	b.WriteString("  <instruction>Do not wrap the content in markdown code fences.</instruction>\n")
	b.WriteString("  <instruction>Use the active memory when it is relevant.</instruction>\n")
	b.WriteString("</instructions>\n")
	fmt.Fprintf(&b, "<file-name>%s</file-name>\n", fileName)
	if current != "" {
		fmt.Fprintf(&b, "<file-content>\n%s\n</file-content>\n", current)
	}
	if store != nil {
		if mem := store.RenderForPrompt("*"); mem != "" {
			b.WriteString(mem)
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "<user-prompt>%s</user-prompt>", userPrompt)
	return b.String()
}

func generate(ctx context.Context, deps Deps, prompt string) (string, error) {
	resp, err := deps.Writer.Chat(ctx, &inference.ChatRequest{
		Model:    deps.Model,
		Messages: []inference.Message{inference.NewUserMessage(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("generate file content: %w", err)
	}
	return StripCodeFence(resp.Message.Content), nil
}

func writeScratch(dir, path, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create scratch pad: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = ""
	}
	t = strings.TrimRight(t, " \t\n")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimRight(t, "\n") + "\n"
}
