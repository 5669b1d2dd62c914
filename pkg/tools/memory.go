package tools

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-jarvis/pkg/memory"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

func addToMemory(store memory.Store) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        AddToMemory,
		Description: "Adds a key-value pair to active memory, replacing any existing value.",
		Parameters: []tool.ParamSpec{
			{Name: "Key", Description: "The key to store the value under.", Type: tool.TypeString, Required: true},
			{Name: "Value", Description: "The value to store.", Type: tool.TypeString, Required: true},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		key, value := args.String("Key"), args.String("Value")
		if key == "" {
			return tool.Failure("A memory key cannot be empty."), nil
		}
		store.Upsert(key, value)
		return tool.Success(fmt.Sprintf("Added '%s' to memory with value '%s'", key, value)), nil
	})
}

func removeFromMemory(store memory.Store) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        RemoveFromMemory,
		Description: "Removes a key from active memory.",
		Parameters: []tool.ParamSpec{
			{Name: "Key", Description: "The memory key to remove.", Type: tool.TypeString, Required: true},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		key := args.String("Key")
		if !store.Delete(key) {
			return tool.Result{
				"status":         "not_found",
				"message":        fmt.Sprintf("No key '%s' in memory", key),
				"available_keys": store.ListKeys(),
			}, nil
		}
		return tool.Success(fmt.Sprintf("Key '%s' removed from memory", key)), nil
	})
}

func resetMemory(store memory.Store) tool.Factory {
	return tool.NewFunc(tool.Definition{
		Name:        ResetActiveMemory,
		Description: "Resets active memory to empty. Requires confirmation unless forced.",
		Parameters: []tool.ParamSpec{
			{Name: "ForceDelete", Description: "Reset without asking for confirmation.", Type: tool.TypeBoolean, Default: false},
		},
	}, func(ctx context.Context, args tool.Args) (tool.Result, error) {
		if !args.Bool("ForceDelete") {
			return tool.Result{
				"status":  tool.StatusConfirmationRequired,
				"message": "Are you sure you want to reset the active memory? This cannot be undone. Reply with 'force delete' to confirm.",
			}, nil
		}
		store.Reset()
		return tool.Success("Active memory has been reset."), nil
	})
}
