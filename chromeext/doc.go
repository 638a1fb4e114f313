// Package chromeext binds the background and content contexts to the
// extension APIs when the module is compiled to WebAssembly. Every call
// that waits on a chrome callback blocks the calling goroutine, so callers
// must never invoke them from inside a js.Func.
package chromeext
