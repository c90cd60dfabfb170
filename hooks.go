package clips

import "github.com/tildemin3/clips-core/hook"

// HookFunc is a load lifecycle notification.
type HookFunc = hook.Func

// ClearReadyFunc is asked before an unload. Returning false refuses it.
type ClearReadyFunc = hook.Query

// RegisterBeforeLoadHook adds fn to the hooks that run after a header was
// accepted and before any segment is read. Hooks run by ascending priority.
func (e *Environment) RegisterBeforeLoadHook(name string, priority int, fn HookFunc, context any) error {
	return e.hooks.BeforeLoad.Add(name, priority, fn, context)
}

// RegisterAfterLoadHook adds fn to the hooks that run once an image is
// active.
func (e *Environment) RegisterAfterLoadHook(name string, priority int, fn HookFunc, context any) error {
	return e.hooks.AfterLoad.Add(name, priority, fn, context)
}

// RegisterAbortHook adds fn to the hooks that run when a load fails,
// including when the header does not match the build.
func (e *Environment) RegisterAbortHook(name string, priority int, fn HookFunc, context any) error {
	return e.hooks.Abort.Add(name, priority, fn, context)
}

// RegisterClearReadyHook adds fn to the queries an unload must pass.
func (e *Environment) RegisterClearReadyHook(name string, priority int, fn ClearReadyFunc, context any) error {
	return e.hooks.ClearReady.Add(name, priority, fn, context)
}

func (e *Environment) RemoveBeforeLoadHook(name string) bool { return e.hooks.BeforeLoad.Remove(name) }
func (e *Environment) RemoveAfterLoadHook(name string) bool  { return e.hooks.AfterLoad.Remove(name) }
func (e *Environment) RemoveAbortHook(name string) bool      { return e.hooks.Abort.Remove(name) }
func (e *Environment) RemoveClearReadyHook(name string) bool { return e.hooks.ClearReady.Remove(name) }
