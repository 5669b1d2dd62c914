// Package tools holds the assistant's built-in tools.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/memory"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

// Built-in tool names.
const (
	GetCurrentTime     = "get_current_time"
	GetRandomNumber    = "get_random_number"
	AddToMemory        = "add_to_memory"
	RemoveFromMemory   = "remove_from_memory"
	ResetActiveMemory  = "reset_active_memory"
	ReadFileIntoMemory = "read_file_into_memory"
	ReadDirIntoMemory  = "read_dir_into_memory"
	CreateFile         = "create_file"
	UpdateFile         = "update_file"
	DeleteFile         = "delete_file"
	ListFiles          = "list_files"
)

// TimeFormat is the layout of get_current_time results.
const TimeFormat = "2006-01-02 15:04:05"

// Deps are the collaborators built-in tools need. Tools whose
// dependencies are missing are not registered.
type Deps struct {
	Memory memory.Store

	// ScratchPad is the only directory file tools may touch.
	ScratchPad string

	// Writer generates file contents for create_file and update_file.
	Writer inference.Provider
	Model  string

	Now    func() time.Time
	Rand   func(n int) int
	Logger *slog.Logger
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rand == nil {
		d.Rand = rand.IntN
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Register adds every built-in tool whose dependencies are satisfied.
func Register(reg *tool.Registry, deps Deps) error {
	deps.defaults()

	factories := []struct {
		name    string
		factory tool.Factory
		needs   bool
	}{
		{GetCurrentTime, currentTime(deps.Now), true},
		{GetRandomNumber, randomNumber(deps.Rand), true},
		{AddToMemory, addToMemory(deps.Memory), deps.Memory != nil},
		{RemoveFromMemory, removeFromMemory(deps.Memory), deps.Memory != nil},
		{ResetActiveMemory, resetMemory(deps.Memory), deps.Memory != nil},
		{ListFiles, listFiles(deps.ScratchPad), deps.ScratchPad != ""},
		{DeleteFile, deleteFile(deps.ScratchPad), deps.ScratchPad != ""},
		{ReadFileIntoMemory, readFileIntoMemory(deps.ScratchPad, deps.Memory), deps.ScratchPad != "" && deps.Memory != nil},
		{ReadDirIntoMemory, readDirIntoMemory(deps.ScratchPad, deps.Memory), deps.ScratchPad != "" && deps.Memory != nil},
		{CreateFile, createFile(deps), deps.ScratchPad != "" && deps.Writer != nil},
		{UpdateFile, updateFile(deps), deps.ScratchPad != "" && deps.Writer != nil},
	}

	for _, f := range factories {
		if !f.needs {
			deps.Logger.Debug("skipping tool with missing dependencies", "tool", f.name)
			continue
		}
		if err := reg.Register(f.name, f.factory); err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
	}
	return nil
}

func currentTime(now func() time.Time) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        GetCurrentTime,
		Description: "Returns the current local date and time.",
	}, func(ctx context.Context, _ tool.Args) (tool.Result, error) {
		return tool.Result{"current_time": now().Format(TimeFormat)}, nil
	})
}

func randomNumber(intn func(int) int) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        GetRandomNumber,
		Description: "Returns a random number between 1 and 100.",
	}, func(ctx context.Context, _ tool.Args) (tool.Result, error) {
		return tool.Result{"random_number": intn(100) + 1}, nil
	})
}
