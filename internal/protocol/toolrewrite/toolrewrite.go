// Package toolrewrite reconciles Claude-style tool argument names with
// the tool runner's expected names, rewriting on the way upstream and
// un-rewriting on the way back. It operates on raw JSON bytes with
// gjson/sjson, a point-path get/set idiom well suited to single-field
// edits on an otherwise opaque arguments blob.
package toolrewrite

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ToUpstream rewrites a tool call's argument JSON before it is sent
// upstream, given the tool's name. toolName matching is
// case-insensitive.
func ToUpstream(toolName string, argsJSON string) (string, error) {
	switch strings.ToLower(toolName) {
	case "grep", "glob":
		return renamePathsToPath(argsJSON)
	case "read":
		return renameField(argsJSON, "path", "file_path")
	default:
		return argsJSON, nil
	}
}

// FromUpstream reverses ToUpstream's renames on a tool call the
// upstream model produced, so the client sees the argument names it
// originally declared in its tool schema.
func FromUpstream(toolName string, argsJSON string) (string, error) {
	switch strings.ToLower(toolName) {
	case "grep", "glob":
		return renamePathToPaths(argsJSON)
	case "read":
		return renameField(argsJSON, "file_path", "path")
	default:
		return argsJSON, nil
	}
}

// renamePathsToPath turns a `paths` array into a `path` string holding
// its first element.
func renamePathsToPath(argsJSON string) (string, error) {
	paths := gjson.Get(argsJSON, "paths")
	if !paths.Exists() {
		return argsJSON, nil
	}
	first := ""
	if arr := paths.Array(); len(arr) > 0 {
		first = arr[0].String()
	} else if paths.Type == gjson.String {
		first = paths.String()
	}
	out, err := sjson.Delete(argsJSON, "paths")
	if err != nil {
		return "", err
	}
	return sjson.Set(out, "path", first)
}

// renamePathToPaths reverses renamePathsToPath: wraps `path` back into
// a single-element `paths` array.
func renamePathToPaths(argsJSON string) (string, error) {
	path := gjson.Get(argsJSON, "path")
	if !path.Exists() {
		return argsJSON, nil
	}
	out, err := sjson.Delete(argsJSON, "path")
	if err != nil {
		return "", err
	}
	return sjson.Set(out, "paths", []string{path.String()})
}

// renameField moves a value from one top-level field name to another,
// leaving the JSON unchanged if the source field isn't present.
func renameField(argsJSON, from, to string) (string, error) {
	v := gjson.Get(argsJSON, from)
	if !v.Exists() {
		return argsJSON, nil
	}
	out, err := sjson.Delete(argsJSON, from)
	if err != nil {
		return "", err
	}
	return sjson.SetRaw(out, to, v.Raw)
}
