package common

import (
	"encoding/json"
	"os/user"
	"path/filepath"
	"strings"
)

func MarshalJSONOrPanic(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		panic(err)
	}
	return filepath.Join(usr.HomeDir, path[2:])
}

func CheckUnique[T comparable](args ...T) bool {
	filter := make(map[T]struct{})
	for _, k := range args {
		filter[k] = struct{}{}
	}
	return len(filter) == len(args)
}

func ChunkStrings(all []string, size int) [][]string {
	var chunks [][]string
	for size < len(all) {
		all, chunks = all[size:], append(chunks, all[:size:size])
	}
	if len(all) > 0 {
		chunks = append(chunks, all)
	}
	return chunks
}
