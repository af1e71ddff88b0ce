// Package platform owns the lifecycle of config entries. Setup starts the
// coordinator or registry subscriptions behind an entry, every refresh is
// turned into entities and fanned out to the store, the alert engine and
// the Home Assistant publisher; Unload reverses all of it. Apply diffs a
// reloaded config against the running entries.
package platform
